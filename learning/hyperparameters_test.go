package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/neurlang/capsnet/config"
)

func TestFromConfig(t *testing.T) {
	h := FromConfig(config.Default().Training)
	require.NoError(t, h.Validate())
	assert.Equal(t, 30, h.Epochs)
	assert.Equal(t, 100, h.BatchSize)
	assert.Equal(t, 0.001, h.LearnRate)
	assert.True(t, h.Augment)
	assert.Equal(t, 2, h.MaxShift)
}

func TestValidate(t *testing.T) {
	h := FromConfig(config.Default().Training)
	h.LearnRate = 0
	assert.Error(t, h.Validate())

	h = FromConfig(config.Default().Training)
	h.BatchSize = -1
	assert.Error(t, h.Validate())
}

func TestResolveSeed(t *testing.T) {
	h := HyperParameters{Seed: 42}
	assert.Equal(t, int64(42), h.ResolveSeed())

	h = HyperParameters{}
	seed := h.ResolveSeed()
	assert.NotZero(t, seed)
	assert.Equal(t, seed, h.Seed)
	assert.Equal(t, seed, h.ResolveSeed())
}

func TestInitializerReproducible(t *testing.T) {
	draw := func() []float32 {
		h := HyperParameters{Seed: 42}
		w := G.NewMatrix(G.NewGraph(), tensor.Float32, G.WithShape(2, 3), G.WithName("w"), G.WithInit(h.Initializer().Gaussian(0, 1)))
		return w.Value().Data().([]float32)
	}
	assert.Equal(t, draw(), draw())
}

func TestClipFromConfig(t *testing.T) {
	c := config.Default().Training
	c.Clip = 5
	h := FromConfig(c)
	assert.Equal(t, 5.0, h.Clip)
	require.NoError(t, h.Validate())

	h.Clip = -1
	assert.Error(t, h.Validate())
}

func TestSolver(t *testing.T) {
	h := HyperParameters{LearnRate: 0.01, Clip: 5}
	assert.NotNil(t, h.Solver())
}
