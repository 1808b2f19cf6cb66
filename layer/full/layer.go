// Package full implements a fully connected layer
package full

import (
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/neurlang/capsnet/layer"
)

// Activation applied after the affine transform.
type Activation byte

const (
	Linear Activation = iota
	ReLU
	Sigmoid
)

// FullLayer computes act(x W + b) for x of shape (B, in).
type FullLayer struct {
	in, out int
	act     Activation

	w, b *G.Node
}

// MustNew creates a new full layer with input and output size
func MustNew(g *G.ExprGraph, winit *layer.Initializer, name string, in, out int, act Activation) *FullLayer {
	o, err := New(g, winit, name, in, out, act)
	if err != nil {
		panic(err.Error())
	}
	return o
}

// New creates a new full layer with input and output size
func New(g *G.ExprGraph, winit *layer.Initializer, name string, in, out int, act Activation) (o *FullLayer, err error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("New Full: size %d -> %d must be positive", in, out)
	}
	o = new(FullLayer)
	o.in = in
	o.out = out
	o.act = act
	o.w = G.NewMatrix(g, tensor.Float32,
		G.WithShape(in, out),
		G.WithName(name+"_w"),
		G.WithInit(winit.GlorotU(1)))
	o.b = G.NewMatrix(g, tensor.Float32,
		G.WithShape(1, out),
		G.WithName(name+"_b"),
		G.WithInit(G.Zeroes()))
	return
}

// Forward applies the layer to x of shape (B, in).
func (i *FullLayer) Forward(x *G.Node) (*G.Node, error) {
	if x.Dims() != 2 || x.Shape()[1] != i.in {
		return nil, errors.Errorf("full %s: want (B, %d), got %v", i.w.Name(), i.in, x.Shape())
	}
	xw, err := G.Mul(x, i.w)
	if err != nil {
		return nil, errors.Wrapf(err, "full %s", i.w.Name())
	}
	y, err := G.BroadcastAdd(xw, i.b, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrapf(err, "full %s bias", i.w.Name())
	}
	switch i.act {
	case ReLU:
		return G.Rectify(y)
	case Sigmoid:
		return G.Sigmoid(y)
	}
	return y, nil
}

// Learnables returns the weight matrix and the bias.
func (i *FullLayer) Learnables() G.Nodes {
	return G.Nodes{i.w, i.b}
}
