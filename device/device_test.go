package device

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestThreads(t *testing.T) {
	assert.Equal(t, 3, CPU{PhysicalCores: 8}.Threads(3))
	assert.Equal(t, 8, CPU{PhysicalCores: 8}.Threads(0))
	assert.Equal(t, runtime.GOMAXPROCS(0), CPU{}.Threads(0))
}

func TestDetectCPU(t *testing.T) {
	cpu := DetectCPU()
	assert.Positive(t, cpu.Threads(0))
}

func TestReport(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	threads := Report(zap.New(core), 5)
	assert.Equal(t, 5, threads)
	assert.NotZero(t, logs.FilterMessage("cpu").Len())
	if !CUDACompiled {
		assert.Equal(t, 1, logs.FilterMessage("training on cpu").Len())
	}
}

func TestDetectGPUsWithoutCUDA(t *testing.T) {
	if CUDACompiled {
		t.Skip("built with cuda")
	}
	_, err := DetectGPUs()
	assert.ErrorIs(t, err, ErrNoCUDA)
}
