package capsule

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/neurlang/capsnet/layer"
	"github.com/neurlang/capsnet/layer/conv2d"
)

// Primary turns a feature map into a grid of squashed capsules using a single
// convolution with channels*dim filters. Filter c*dim+d is component d of the
// capsules of channel c.
type Primary struct {
	channels, dim int
	conv          *conv2d.Conv2DLayer
}

// NewPrimary creates a primary capsule layer reading in feature channels.
func NewPrimary(g *G.ExprGraph, winit *layer.Initializer, name string, in, channels, dim, kernel, stride int) (*Primary, error) {
	if channels <= 0 || dim <= 0 {
		return nil, errors.Errorf("primary capsules: channels %d and dim %d must be positive", channels, dim)
	}
	conv, err := conv2d.New(g, winit, name, in, channels*dim, kernel, stride, false)
	if err != nil {
		return nil, errors.Wrap(err, "primary capsules")
	}
	return &Primary{
		channels: channels,
		dim:      dim,
		conv:     conv,
	}, nil
}

// Capsules returns the number of capsules produced from a feature map of side size.
func (p *Primary) Capsules(size int) int {
	g := p.conv.OutSize(size)
	return p.channels * g * g
}

// Dim returns the capsule dimension.
func (p *Primary) Dim() int {
	return p.dim
}

// Forward maps x (B, in, H, W) to capsules (B, channels*H'*W', dim).
func (p *Primary) Forward(x *G.Node) (*G.Node, error) {
	c, err := p.conv.Forward(x)
	if err != nil {
		return nil, err
	}
	var shp = c.Shape()
	var batch, grid = shp[0], shp[2] * shp[3]

	u, err := G.Reshape(c, tensor.Shape{batch, p.channels, p.dim, grid})
	if err != nil {
		return nil, errors.Wrap(err, "primary capsules reshape")
	}
	u, err = G.Transpose(u, 0, 1, 3, 2)
	if err != nil {
		return nil, errors.Wrap(err, "primary capsules transpose")
	}
	u, err = G.Reshape(u, tensor.Shape{batch, p.channels * grid, p.dim})
	if err != nil {
		return nil, errors.Wrap(err, "primary capsules flatten")
	}
	return layer.Squash(u)
}

// Learnables returns the convolution weights.
func (p *Primary) Learnables() G.Nodes {
	return p.conv.Learnables()
}
