// Package device reports the hardware the network is trained on: the CPU
// through cpuid, and CUDA devices when built with the cuda tag.
package device

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CPU describes the host processor.
type CPU struct {
	Brand         string
	PhysicalCores int
	LogicalCores  int
	AVX2          bool
	AVX512        bool
	FMA3          bool
	CacheL2       int
	CacheL3       int
}

// DetectCPU queries cpuid.
func DetectCPU() CPU {
	return CPU{
		Brand:         cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		AVX2:          cpuid.CPU.Supports(cpuid.AVX2),
		AVX512:        cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
		FMA3:          cpuid.CPU.Supports(cpuid.FMA3),
		CacheL2:       cpuid.CPU.Cache.L2,
		CacheL3:       cpuid.CPU.Cache.L3,
	}
}

// Threads returns the number of worker goroutines to use. A positive
// request wins; otherwise the physical cores, falling back to GOMAXPROCS
// when cpuid cannot tell.
func (c CPU) Threads(requested int) int {
	if requested > 0 {
		return requested
	}
	if c.PhysicalCores > 0 {
		return c.PhysicalCores
	}
	return runtime.GOMAXPROCS(0)
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (c CPU) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("brand", c.Brand)
	enc.AddInt("physical_cores", c.PhysicalCores)
	enc.AddInt("logical_cores", c.LogicalCores)
	enc.AddBool("avx2", c.AVX2)
	enc.AddBool("avx512", c.AVX512)
	enc.AddBool("fma3", c.FMA3)
	enc.AddInt("l2", c.CacheL2)
	enc.AddInt("l3", c.CacheL3)
	return nil
}

// Field returns the CPU as a zap field.
func (c CPU) Field() zap.Field {
	return zap.Object("cpu", c)
}
