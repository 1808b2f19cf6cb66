package layer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func input(g *G.ExprGraph, shape tensor.Shape, data []float32) *G.Node {
	x := G.NewTensor(g, tensor.Float32, len(shape), G.WithShape(shape...), G.WithName("x"))
	G.Let(x, tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)))
	return x
}

func run(t *testing.T, g *G.ExprGraph, out *G.Node) []float32 {
	t.Helper()
	m := G.NewTapeMachine(g)
	defer m.Close()
	require.NoError(t, m.RunAll())
	return out.Value().Data().([]float32)
}

func TestSquash(t *testing.T) {
	g := G.NewGraph()
	x := input(g, tensor.Shape{1, 2, 2}, []float32{3, 4, 0, 0})
	v, err := Squash(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2, 2}, v.Shape())

	out := run(t, g, v)
	// |s|^2 = 25: length 25/26, direction (0.6, 0.8)
	assert.InDelta(t, 0.6*25.0/26.0, out[0], 1e-5)
	assert.InDelta(t, 0.8*25.0/26.0, out[1], 1e-5)
	assert.InDelta(t, 0, out[2], 1e-6)
	assert.InDelta(t, 0, out[3], 1e-6)
}

func TestSquashShortVectorsShrink(t *testing.T) {
	g := G.NewGraph()
	x := input(g, tensor.Shape{3, 1}, []float32{0.1, -2, 50})
	v, err := Squash(x)
	require.NoError(t, err)

	out := run(t, g, v)
	// |v| = |s|^2/(1+|s|^2), sign kept
	assert.InDelta(t, 0.01/1.01, out[0], 1e-5)
	assert.InDelta(t, -4.0/5.0, out[1], 1e-5)
	assert.InDelta(t, 2500.0/2501.0, out[2], 1e-5)
	for _, o := range out {
		assert.Less(t, math.Abs(float64(o)), 1.0)
	}
}

func TestLengths(t *testing.T) {
	g := G.NewGraph()
	x := input(g, tensor.Shape{2, 2}, []float32{0.6, 0.8, 0, 0})
	l, err := Lengths(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2}, l.Shape())

	out := run(t, g, l)
	assert.InDelta(t, 1, out[0], 1e-5)
	assert.InDelta(t, 0, out[1], 1e-4)
}
