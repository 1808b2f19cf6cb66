package layer

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Epsilon keeps square roots of zero norms differentiable.
const Epsilon = 1e-9

// Scalar returns a constant of the node's dtype.
func Scalar(x *G.Node, v float64) *G.Node {
	if x.Dtype() == tensor.Float64 {
		return G.NewConstant(v)
	}
	return G.NewConstant(float32(v))
}

// keepDim reinserts the reduced last axis as size 1.
func keepDim(reduced *G.Node, shape tensor.Shape) (*G.Node, error) {
	var to = append(tensor.Shape{}, shape...)
	to[len(to)-1] = 1
	return G.Reshape(reduced, to)
}

// SquaredNorm sums the squares along the last axis, keeping it as size 1.
func SquaredNorm(s *G.Node) (*G.Node, error) {
	var last = s.Dims() - 1
	sq, err := G.Square(s)
	if err != nil {
		return nil, errors.Wrap(err, "square")
	}
	sum, err := G.Sum(sq, last)
	if err != nil {
		return nil, errors.Wrap(err, "sum")
	}
	return keepDim(sum, s.Shape())
}

// Squash scales every vector along the last axis of s to a length in [0, 1)
// without changing its direction: v = |s|^2/(1+|s|^2) * s/|s|.
func Squash(s *G.Node) (*G.Node, error) {
	sq, err := SquaredNorm(s)
	if err != nil {
		return nil, err
	}
	norm, err := G.Sqrt(G.Must(G.Add(sq, Scalar(s, Epsilon))))
	if err != nil {
		return nil, errors.Wrap(err, "norm")
	}
	denom, err := G.HadamardProd(G.Must(G.Add(sq, Scalar(s, 1))), norm)
	if err != nil {
		return nil, errors.Wrap(err, "denominator")
	}
	scale, err := G.HadamardDiv(sq, denom)
	if err != nil {
		return nil, errors.Wrap(err, "scale")
	}
	v, err := G.BroadcastHadamardProd(s, scale, nil, []byte{byte(s.Dims() - 1)})
	if err != nil {
		return nil, errors.Wrap(err, "squash")
	}
	return v, nil
}

// Lengths returns the euclidean length of every vector along the last axis
// of v, with that axis removed.
func Lengths(v *G.Node) (*G.Node, error) {
	var last = v.Dims() - 1
	sq, err := G.Square(v)
	if err != nil {
		return nil, errors.Wrap(err, "square")
	}
	sum, err := G.Sum(sq, last)
	if err != nil {
		return nil, errors.Wrap(err, "sum")
	}
	l, err := G.Sqrt(G.Must(G.Add(sum, Scalar(v, Epsilon))))
	if err != nil {
		return nil, errors.Wrap(err, "sqrt")
	}
	return l, nil
}
