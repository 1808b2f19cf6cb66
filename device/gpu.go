package device

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrNoCUDA is returned when no CUDA device can be used.
var ErrNoCUDA = errors.New("no CUDA device available")

// GPU describes one CUDA device.
type GPU struct {
	Index  int
	Name   string
	Memory uint64 // bytes
}

// Report logs the CPU and any CUDA devices, and returns the worker count for
// requested threads.
func Report(log *zap.Logger, requested int) int {
	cpu := DetectCPU()
	threads := cpu.Threads(requested)
	log.Info("cpu", cpu.Field(), zap.Int("threads", threads))

	gpus, err := DetectGPUs()
	if err != nil {
		log.Info("training on cpu", zap.Bool("cuda_compiled", CUDACompiled), zap.String("reason", err.Error()))
		return threads
	}
	for _, g := range gpus {
		log.Info("cuda device", zap.Int("index", g.Index), zap.String("name", g.Name), zap.Uint64("memory", g.Memory))
	}
	return threads
}
