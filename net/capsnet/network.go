// Package capsnet assembles the capsule network: a convolution, a layer of
// primary capsules, a layer of routed digit capsules and a fully connected
// decoder reconstructing the input from the masked digit capsules.
package capsnet

import (
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/neurlang/capsnet/config"
	"github.com/neurlang/capsnet/layer"
	"github.com/neurlang/capsnet/layer/capsule"
	"github.com/neurlang/capsnet/layer/conv2d"
	"github.com/neurlang/capsnet/layer/full"
	"github.com/neurlang/capsnet/loss"
)

// Network is the capsule network graph for a fixed batch size.
type Network struct {
	g     *G.ExprGraph
	top   config.Topology
	batch int

	// Inputs
	Images  *G.Node // (B, 1, S, S)
	Targets *G.Node // (B, J) one-hot labels
	Mask    *G.Node // (B, J) capsules fed to the decoder

	conv    *conv2d.Conv2DLayer
	primary *capsule.Primary
	digits  *capsule.Routed
	decoder []*full.FullLayer

	// Outputs
	Digits          *G.Node // (B, J, D)
	Lengths         *G.Node // (B, J)
	Reconstructions *G.Node // (B, S*S), nil without a decoder
	Cost            *G.Node // scalar

	// copies taken while the machine runs, before buffers are reused
	digitsVal, lengthsVal, reconVal, costVal G.Value
}

// New builds the network and its loss into g. Weights are drawn from winit;
// a nil winit uses the global source.
func New(g *G.ExprGraph, top config.Topology, batch int, p loss.Params, winit *layer.Initializer) (n *Network, err error) {
	if err = top.Validate(); err != nil {
		return nil, err
	}
	if batch <= 0 {
		return nil, errors.Errorf("capsnet: batch size must be positive, got %d", batch)
	}
	n = &Network{g: g, top: top, batch: batch}

	var pixels = top.ImageSize * top.ImageSize
	n.Images = G.NewTensor(g, tensor.Float32, 4, G.WithShape(batch, 1, top.ImageSize, top.ImageSize), G.WithName("images"))
	n.Targets = G.NewMatrix(g, tensor.Float32, G.WithShape(batch, top.Classes), G.WithName("targets"))
	n.Mask = G.NewMatrix(g, tensor.Float32, G.WithShape(batch, top.Classes), G.WithName("mask"))

	if n.conv, err = conv2d.New(g, winit, "conv1", 1, top.ConvChannels, top.ConvKernel, 1, true); err != nil {
		return nil, err
	}
	if n.primary, err = capsule.NewPrimary(g, winit, "primary", top.ConvChannels, top.PrimaryChannels, top.PrimaryDim, top.PrimaryKernel, top.PrimaryStride); err != nil {
		return nil, err
	}
	if n.digits, err = capsule.NewRouted(g, winit, "digits", top.PrimaryCapsules(), top.PrimaryDim, top.Classes, top.DigitDim, top.RoutingIterations); err != nil {
		return nil, err
	}
	if len(top.Decoder) > 0 {
		var in = top.Classes * top.DigitDim
		for i, h := range top.Decoder {
			l, err := full.New(g, winit, fmt.Sprintf("decoder%d", i), in, h, full.ReLU)
			if err != nil {
				return nil, err
			}
			n.decoder = append(n.decoder, l)
			in = h
		}
		l, err := full.New(g, winit, "reconstruction", in, pixels, full.Sigmoid)
		if err != nil {
			return nil, err
		}
		n.decoder = append(n.decoder, l)
	}

	if err = n.forward(); err != nil {
		return nil, err
	}

	var flat *G.Node
	if n.Reconstructions != nil {
		if flat, err = G.Reshape(n.Images, tensor.Shape{batch, pixels}); err != nil {
			return nil, errors.Wrap(err, "capsnet: flatten images")
		}
	}
	if n.Cost, err = p.Capsule(n.Lengths, n.Targets, n.Reconstructions, flat); err != nil {
		return nil, errors.Wrap(err, "capsnet: loss")
	}

	G.Read(n.Digits, &n.digitsVal)
	G.Read(n.Lengths, &n.lengthsVal)
	if n.Reconstructions != nil {
		G.Read(n.Reconstructions, &n.reconVal)
	}
	G.Read(n.Cost, &n.costVal)
	return n, nil
}

func (n *Network) forward() (err error) {
	x, err := n.conv.Forward(n.Images)
	if err != nil {
		return err
	}
	u, err := n.primary.Forward(x)
	if err != nil {
		return err
	}
	if n.Digits, err = n.digits.Forward(u); err != nil {
		return err
	}
	if n.Lengths, err = layer.Lengths(n.Digits); err != nil {
		return err
	}
	if len(n.decoder) == 0 {
		return nil
	}

	// only the capsule selected by the mask reaches the decoder
	var shp = n.Digits.Shape()
	mask, err := G.Reshape(n.Mask, tensor.Shape{shp[0], shp[1], 1})
	if err != nil {
		return errors.Wrap(err, "capsnet: mask reshape")
	}
	masked, err := G.BroadcastHadamardProd(n.Digits, mask, nil, []byte{2})
	if err != nil {
		return errors.Wrap(err, "capsnet: mask")
	}
	h, err := G.Reshape(masked, tensor.Shape{shp[0], shp[1] * shp[2]})
	if err != nil {
		return errors.Wrap(err, "capsnet: flatten capsules")
	}
	for _, l := range n.decoder {
		if h, err = l.Forward(h); err != nil {
			return err
		}
	}
	n.Reconstructions = h
	return nil
}

// Graph returns the expression graph holding the network.
func (n *Network) Graph() *G.ExprGraph {
	return n.g
}

// Batch returns the static batch size.
func (n *Network) Batch() int {
	return n.batch
}

// Topology returns the layer sizes the network was built with.
func (n *Network) Topology() config.Topology {
	return n.top
}

// Couplings returns the coupling coefficients of the last routing round.
func (n *Network) Couplings() *G.Node {
	return n.digits.Couplings()
}

// Learnables lists every trainable weight.
func (n *Network) Learnables() G.Nodes {
	var layers = []layer.Layer{n.conv, n.primary, n.digits}
	for _, l := range n.decoder {
		layers = append(layers, l)
	}
	return layer.Learnables(layers...)
}

// Parameters counts the scalar weights.
func (n *Network) Parameters() (o int) {
	for _, l := range n.Learnables() {
		o += l.Shape().TotalSize()
	}
	return
}

// Let binds one batch: images (B*S*S) scaled to [0, 1], one-hot targets and
// the decoder mask (both B*J).
func (n *Network) Let(images, targets, mask []float32) error {
	var s = n.top.ImageSize
	if len(images) != n.batch*s*s {
		return errors.Errorf("capsnet: want %d pixels, got %d", n.batch*s*s, len(images))
	}
	if len(targets) != n.batch*n.top.Classes || len(mask) != n.batch*n.top.Classes {
		return errors.Errorf("capsnet: want %d targets and mask values, got %d and %d", n.batch*n.top.Classes, len(targets), len(mask))
	}
	if err := G.Let(n.Images, tensor.New(tensor.WithShape(n.batch, 1, s, s), tensor.WithBacking(images))); err != nil {
		return errors.Wrap(err, "capsnet: bind images")
	}
	if err := G.Let(n.Targets, tensor.New(tensor.WithShape(n.batch, n.top.Classes), tensor.WithBacking(targets))); err != nil {
		return errors.Wrap(err, "capsnet: bind targets")
	}
	if err := G.Let(n.Mask, tensor.New(tensor.WithShape(n.batch, n.top.Classes), tensor.WithBacking(mask))); err != nil {
		return errors.Wrap(err, "capsnet: bind mask")
	}
	return nil
}

// CostValue returns the loss of the last run.
func (n *Network) CostValue() float64 {
	if n.costVal == nil {
		return 0
	}
	switch v := n.costVal.Data().(type) {
	case float32:
		return float64(v)
	case []float32:
		if len(v) > 0 {
			return float64(v[0])
		}
	}
	return 0
}

// DigitsValue returns the digit capsules (B*J*D) of the last run.
func (n *Network) DigitsValue() []float32 {
	return values(n.digitsVal)
}

// LengthsValue returns the capsule lengths (B*J) of the last run.
func (n *Network) LengthsValue() []float32 {
	return values(n.lengthsVal)
}

// ReconstructionsValue returns the reconstructions (B*S*S) of the last run.
func (n *Network) ReconstructionsValue() []float32 {
	return values(n.reconVal)
}

func values(v G.Value) []float32 {
	if v == nil {
		return nil
	}
	data, ok := v.Data().([]float32)
	if !ok {
		return nil
	}
	return append([]float32(nil), data...)
}

// Predict returns the class with the longest capsule for every sample.
func Predict(lengths []float32, classes int) []int {
	var o = make([]int, len(lengths)/classes)
	for i := range o {
		var row = lengths[i*classes : (i+1)*classes]
		for j, l := range row {
			if l > row[o[i]] {
				o[i] = j
			}
		}
	}
	return o
}

// OneHot writes the one-hot encoding of classes into dst (len(classes)*n).
func OneHot(dst []float32, classes []int, n int) {
	for i := range dst {
		dst[i] = 0
	}
	for i, c := range classes {
		dst[i*n+c] = 1
	}
}
