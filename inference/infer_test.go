package inference

import (
	"errors"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"

	"github.com/neurlang/capsnet/config"
	"github.com/neurlang/capsnet/layer"
	"github.com/neurlang/capsnet/loss"
	"github.com/neurlang/capsnet/net/capsnet"
)

func tiny(decoder []int) config.Topology {
	top := config.Default().Topology
	top.ConvChannels = 2
	top.PrimaryChannels = 1
	top.PrimaryDim = 2
	top.DigitDim = 2
	top.RoutingIterations = 2
	top.Decoder = decoder
	return top
}

func images(batch int) []float32 {
	o := make([]float32, batch*28*28)
	for i := range o {
		o[i] = float32(i%7) / 7
	}
	return o
}

func TestInfer(t *testing.T) {
	g := G.NewGraph()
	net, err := capsnet.New(g, tiny([]int{8}), 3, loss.Default(), nil)
	require.NoError(t, err)
	m := G.NewTapeMachine(g)
	defer m.Close()

	r, err := Infer(m, net, images(3))
	require.NoError(t, err)
	assert.Len(t, r.Predicted, 3)
	assert.Len(t, r.Lengths, 3*10)
	require.Len(t, r.Reconstructions, 3*28*28)
	for _, p := range r.Predicted {
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 10)
	}
	for _, v := range r.Reconstructions {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}

	// digit capsules do not depend on the mask, so both runs agree on them
	dim := tiny(nil).DigitDim
	digits := net.DigitsValue()
	require.Len(t, digits, 3*10*dim)
	for i, p := range r.Predicted {
		norms := make([]float32, 10)
		for j := range norms {
			for _, v := range digits[(i*10+j)*dim : (i*10+j+1)*dim] {
				norms[j] += v * v
			}
			assert.InDelta(t, math.Sqrt(float64(norms[j])+layer.Epsilon), float64(r.Lengths[i*10+j]), 1e-5)
		}
		assert.Equal(t, capsnet.Predict(norms, 10)[0], p, "sample %d", i)
	}
}

func TestInferWithoutDecoder(t *testing.T) {
	g := G.NewGraph()
	net, err := capsnet.New(g, tiny(nil), 2, loss.Default(), nil)
	require.NoError(t, err)
	m := G.NewTapeMachine(g)
	defer m.Close()

	r, err := Infer(m, net, images(2))
	require.NoError(t, err)
	assert.Len(t, r.Predicted, 2)
	assert.Nil(t, r.Reconstructions)
}

type failing struct{ resets int }

func (f *failing) RunAll() error { return errors.New("boom") }
func (f *failing) Reset()        { f.resets++ }

func TestInferMachineError(t *testing.T) {
	net, err := capsnet.New(G.NewGraph(), tiny(nil), 1, loss.Default(), nil)
	require.NoError(t, err)
	f := &failing{}
	_, err = Infer(f, net, images(1))
	assert.Error(t, err)
	assert.Equal(t, 1, f.resets)

	_, err = Infer(f, net, images(2))
	assert.Error(t, err)
}

func TestWriteGrid(t *testing.T) {
	orig := []float32{0, 1, 0.5, 2}
	rec := []float32{1, 0, -1, 0.5}
	path := filepath.Join(t.TempDir(), "grid.png")
	require.NoError(t, WriteGrid(path, orig, rec, 1, 2))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())

	g := Grid(orig, nil, 1, 2)
	assert.Equal(t, uint8(255), g.GrayAt(1, 0).Y)
	assert.Equal(t, uint8(128), g.GrayAt(0, 1).Y)
	assert.Equal(t, uint8(255), g.GrayAt(1, 1).Y)
	assert.Equal(t, 2, g.Bounds().Dy())
}
