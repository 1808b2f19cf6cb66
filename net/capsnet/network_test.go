package capsnet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/neurlang/capsnet/config"
	"github.com/neurlang/capsnet/layer"
	"github.com/neurlang/capsnet/loss"
)

func tiny() config.Topology {
	top := config.Default().Topology
	top.ConvChannels = 3
	top.PrimaryChannels = 2
	top.PrimaryDim = 4
	top.DigitDim = 6
	top.Decoder = []int{12, 20}
	return top
}

func TestDefaultShapes(t *testing.T) {
	// building the graph allocates the weights but runs nothing
	net, err := New(G.NewGraph(), config.Default().Topology, 2, loss.Default(), nil)
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{2, 10, 16}, net.Digits.Shape())
	assert.Equal(t, tensor.Shape{2, 10}, net.Lengths.Shape())
	assert.Equal(t, tensor.Shape{2, 784}, net.Reconstructions.Shape())
	assert.True(t, net.Cost.IsScalar())
	assert.Equal(t, tensor.Shape{2, 1152, 10}, net.Couplings().Shape())

	// conv1 + primary + digit capsules + three decoder layers
	const want = 256*81 + 256 +
		256*256*81 + 256 +
		1152*10*16*8 +
		160*512 + 512 + 512*1024 + 1024 + 1024*784 + 784
	assert.Equal(t, want, net.Parameters())
	assert.Len(t, net.Learnables(), 2+2+1+6)
}

func TestNewErrors(t *testing.T) {
	_, err := New(G.NewGraph(), tiny(), 0, loss.Default(), nil)
	assert.Error(t, err)

	top := tiny()
	top.PrimaryKernel = 30
	_, err = New(G.NewGraph(), top, 1, loss.Default(), nil)
	assert.Error(t, err)
}

func TestForward(t *testing.T) {
	g := G.NewGraph()
	net, err := New(g, tiny(), 2, loss.Default(), nil)
	require.NoError(t, err)

	images := make([]float32, 2*28*28)
	for i := range images {
		images[i] = float32(i%13) / 13
	}
	targets := []float32{
		0, 0, 1, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 1,
	}
	require.NoError(t, net.Let(images, targets, targets))

	m := G.NewTapeMachine(g)
	defer m.Close()
	require.NoError(t, m.RunAll())

	lengths := net.LengthsValue()
	require.Len(t, lengths, 20)
	for _, l := range lengths {
		assert.GreaterOrEqual(t, l, float32(0))
		assert.Less(t, l, float32(1))
	}
	assert.Len(t, net.ReconstructionsValue(), 2*784)
	assert.Positive(t, net.CostValue())
	assert.Len(t, Predict(lengths, 10), 2)
}

func TestLetRejectsSizes(t *testing.T) {
	net, err := New(G.NewGraph(), tiny(), 2, loss.Default(), nil)
	require.NoError(t, err)
	assert.Error(t, net.Let(make([]float32, 784), make([]float32, 20), make([]float32, 20)))
	assert.Error(t, net.Let(make([]float32, 2*784), make([]float32, 10), make([]float32, 20)))
}

func TestWithoutDecoder(t *testing.T) {
	top := tiny()
	top.Decoder = nil
	net, err := New(G.NewGraph(), top, 1, loss.Default(), nil)
	require.NoError(t, err)
	assert.Nil(t, net.Reconstructions)
	assert.Nil(t, net.ReconstructionsValue())
	assert.Len(t, net.Learnables(), 5)
}

func TestPredict(t *testing.T) {
	lengths := []float32{
		0.1, 0.9, 0.2,
		0.5, 0.5, 0.4,
		0, 0, 0.3,
	}
	assert.Equal(t, []int{1, 0, 2}, Predict(lengths, 3))
}

func TestOneHot(t *testing.T) {
	dst := []float32{9, 9, 9, 9, 9, 9}
	OneHot(dst, []int{2, 0}, 3)
	assert.Equal(t, []float32{0, 0, 1, 1, 0, 0}, dst)
}

func TestReadOutsMatchDigits(t *testing.T) {
	g := G.NewGraph()
	top := tiny()
	net, err := New(g, top, 2, loss.Default(), layer.NewInitializer(11))
	require.NoError(t, err)

	images := make([]float32, 2*28*28)
	for i := range images {
		images[i] = float32(i%5) / 5
	}
	targets := []float32{
		0, 1, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 1, 0, 0,
	}
	require.NoError(t, net.Let(images, targets, targets))
	m := G.NewTapeMachine(g)
	defer m.Close()
	require.NoError(t, m.RunAll())

	digits := net.DigitsValue()
	require.Len(t, digits, 2*10*top.DigitDim)
	lengths := net.LengthsValue()
	require.Len(t, lengths, 20)
	for j := range lengths {
		var sq float64
		for _, v := range digits[j*top.DigitDim : (j+1)*top.DigitDim] {
			sq += float64(v) * float64(v)
		}
		assert.InDelta(t, math.Sqrt(sq+layer.Epsilon), float64(lengths[j]), 1e-5, "capsule %d", j)
	}

	rec := net.ReconstructionsValue()
	require.Len(t, rec, 2*784)
	var sse float64
	for i, v := range rec {
		require.GreaterOrEqual(t, v, float32(0))
		require.LessOrEqual(t, v, float32(1))
		d := float64(v) - float64(images[i])
		sse += d * d
	}

	// the cost read back is the loss of the lengths and reconstructions read back
	p := loss.Default()
	want := (p.MarginValue(lengths[:10], 1) + p.MarginValue(lengths[10:], 7) + p.ReconstructionWeight*sse) / 2
	assert.InDelta(t, want, net.CostValue(), 1e-4*math.Max(1, want))
}

func TestSameSeedSameWeights(t *testing.T) {
	weights := func(seed int64) (o [][]float32) {
		net, err := New(G.NewGraph(), tiny(), 1, loss.Default(), layer.NewInitializer(seed))
		require.NoError(t, err)
		for _, l := range net.Learnables() {
			o = append(o, append([]float32(nil), l.Value().Data().([]float32)...))
		}
		return
	}
	assert.Equal(t, weights(5), weights(5))
	assert.NotEqual(t, weights(5), weights(6))
}
