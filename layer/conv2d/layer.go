// Package conv2d implements a 2D convolution layer with bias and ReLU
package conv2d

import (
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/neurlang/capsnet/layer"
)

// Conv2DLayer is a square convolution without padding.
type Conv2DLayer struct {
	in, out, kernel, stride int
	relu                    bool

	w, b *G.Node
}

// MustNew creates a new Conv2D layer with input channels, output channels, kernel and stride
func MustNew(g *G.ExprGraph, winit *layer.Initializer, name string, in, out, kernel, stride int, relu bool) *Conv2DLayer {
	o, err := New(g, winit, name, in, out, kernel, stride, relu)
	if err != nil {
		panic(err.Error())
	}
	return o
}

// New creates a new Conv2D layer with input channels, output channels, kernel and stride
func New(g *G.ExprGraph, winit *layer.Initializer, name string, in, out, kernel, stride int, relu bool) (o *Conv2DLayer, err error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("New Conv2D: channels %d -> %d must be positive", in, out)
	}
	if kernel <= 0 || stride <= 0 {
		return nil, fmt.Errorf("New Conv2D: kernel %d and stride %d must be positive", kernel, stride)
	}
	o = new(Conv2DLayer)
	o.in = in
	o.out = out
	o.kernel = kernel
	o.stride = stride
	o.relu = relu
	o.w = G.NewTensor(g, tensor.Float32, 4,
		G.WithShape(out, in, kernel, kernel),
		G.WithName(name+"_w"),
		G.WithInit(winit.GlorotU(1)))
	o.b = G.NewTensor(g, tensor.Float32, 4,
		G.WithShape(1, out, 1, 1),
		G.WithName(name+"_b"),
		G.WithInit(G.Zeroes()))
	return
}

// OutSize returns the spatial output size for an input of side size.
func (i *Conv2DLayer) OutSize(size int) int {
	return (size-i.kernel)/i.stride + 1
}

// Forward convolves x of shape (B, in, H, W).
func (i *Conv2DLayer) Forward(x *G.Node) (*G.Node, error) {
	if x.Dims() != 4 || x.Shape()[1] != i.in {
		return nil, errors.Errorf("conv2d %s: want (B, %d, H, W), got %v", i.w.Name(), i.in, x.Shape())
	}
	c, err := G.Conv2d(x, i.w, tensor.Shape{i.kernel, i.kernel}, []int{0, 0}, []int{i.stride, i.stride}, []int{1, 1})
	if err != nil {
		return nil, errors.Wrapf(err, "conv2d %s", i.w.Name())
	}
	c, err = G.BroadcastAdd(c, i.b, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, errors.Wrapf(err, "conv2d %s bias", i.w.Name())
	}
	if !i.relu {
		return c, nil
	}
	return G.Rectify(c)
}

// Learnables returns the filter and the bias.
func (i *Conv2DLayer) Learnables() G.Nodes {
	return G.Nodes{i.w, i.b}
}
