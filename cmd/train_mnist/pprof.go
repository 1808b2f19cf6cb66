package main

import (
	"os"
	"runtime/pprof"

	"github.com/pkg/errors"
)

// startProfile collects CPU profile data into path, for profile guided
// optimisation builds. The returned function stops the profile.
func startProfile(path string) (stop func(), err error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "start cpu profile")
	}
	return func() {
		pprof.StopCPUProfile()
		f.Close()
	}, nil
}
