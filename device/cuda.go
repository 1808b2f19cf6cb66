//go:build cuda

package device

import (
	"github.com/pkg/errors"
	"gorgonia.org/cu"
)

// CUDACompiled reports whether the binary was built with CUDA support.
const CUDACompiled = true

// DetectGPUs lists the CUDA devices visible to the driver.
func DetectGPUs() ([]GPU, error) {
	n, err := cu.NumDevices()
	if err != nil {
		return nil, errors.Wrap(err, "cuda: count devices")
	}
	if n == 0 {
		return nil, ErrNoCUDA
	}
	var o = make([]GPU, 0, n)
	for i := 0; i < n; i++ {
		dev := cu.Device(i)
		name, err := dev.Name()
		if err != nil {
			return nil, errors.Wrapf(err, "cuda: device %d name", i)
		}
		mem, err := dev.TotalMem()
		if err != nil {
			return nil, errors.Wrapf(err, "cuda: device %d memory", i)
		}
		o = append(o, GPU{Index: i, Name: name, Memory: uint64(mem)})
	}
	return o, nil
}
