//go:build !cuda

package device

// CUDACompiled reports whether the binary was built with CUDA support.
const CUDACompiled = false

// DetectGPUs always fails without the cuda build tag.
func DetectGPUs() ([]GPU, error) {
	return nil, ErrNoCUDA
}
