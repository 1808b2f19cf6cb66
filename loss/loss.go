// Package loss implements the capsule network training objective: a margin
// loss on capsule lengths plus a down-weighted reconstruction error.
package loss

import (
	"math"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"

	"github.com/neurlang/capsnet/layer"
)

// Params holds the loss constants.
type Params struct {
	MPlus  float64 // lower bound for the length of the correct capsule
	MMinus float64 // upper bound for the length of the other capsules
	Lambda float64 // down-weighting of absent classes

	ReconstructionWeight float64
}

// Default returns the constants used in the dynamic routing paper.
func Default() Params {
	return Params{
		MPlus:                0.9,
		MMinus:               0.1,
		Lambda:               0.5,
		ReconstructionWeight: 0.0005,
	}
}

// Margin returns the margin loss summed over batch and classes for capsule
// lengths (B, J) and one-hot targets (B, J):
//
//	T max(0, m+ - |v|)^2 + lambda (1 - T) max(0, |v| - m-)^2
func (p Params) Margin(lengths, targets *G.Node) (*G.Node, error) {
	if !lengths.Shape().Eq(targets.Shape()) {
		return nil, errors.Errorf("margin loss: lengths %v and targets %v differ", lengths.Shape(), targets.Shape())
	}
	present, err := G.Rectify(G.Must(G.Sub(layer.Scalar(lengths, p.MPlus), lengths)))
	if err != nil {
		return nil, errors.Wrap(err, "margin loss present")
	}
	absent, err := G.Rectify(G.Must(G.Sub(lengths, layer.Scalar(lengths, p.MMinus))))
	if err != nil {
		return nil, errors.Wrap(err, "margin loss absent")
	}
	left, err := G.HadamardProd(targets, G.Must(G.Square(present)))
	if err != nil {
		return nil, errors.Wrap(err, "margin loss left")
	}
	others, err := G.Sub(layer.Scalar(targets, 1), targets)
	if err != nil {
		return nil, errors.Wrap(err, "margin loss complement")
	}
	right, err := G.HadamardProd(others, G.Must(G.Square(absent)))
	if err != nil {
		return nil, errors.Wrap(err, "margin loss right")
	}
	right, err = G.Mul(right, layer.Scalar(right, p.Lambda))
	if err != nil {
		return nil, errors.Wrap(err, "margin loss lambda")
	}
	return G.Sum(G.Must(G.Add(left, right)))
}

// Reconstruction returns the summed squared error between reconstructions
// and images of the same shape.
func Reconstruction(reconstructions, images *G.Node) (*G.Node, error) {
	if !reconstructions.Shape().Eq(images.Shape()) {
		return nil, errors.Errorf("reconstruction loss: %v and %v differ", reconstructions.Shape(), images.Shape())
	}
	d, err := G.Sub(reconstructions, images)
	if err != nil {
		return nil, errors.Wrap(err, "reconstruction loss")
	}
	return G.Sum(G.Must(G.Square(d)))
}

// Capsule returns (margin + weight * reconstruction) / batch.
func (p Params) Capsule(lengths, targets, reconstructions, images *G.Node) (*G.Node, error) {
	margin, err := p.Margin(lengths, targets)
	if err != nil {
		return nil, err
	}
	total := margin
	if reconstructions != nil {
		rec, err := Reconstruction(reconstructions, images)
		if err != nil {
			return nil, err
		}
		weighted, err := G.Mul(rec, layer.Scalar(rec, p.ReconstructionWeight))
		if err != nil {
			return nil, errors.Wrap(err, "capsule loss weight")
		}
		if total, err = G.Add(margin, weighted); err != nil {
			return nil, errors.Wrap(err, "capsule loss")
		}
	}
	var batch = lengths.Shape()[0]
	return G.Mul(total, layer.Scalar(total, 1/float64(batch)))
}

// MarginValue computes the margin loss of one sample outside the graph.
func (p Params) MarginValue(lengths []float32, label int) (o float64) {
	for j, l := range lengths {
		if j == label {
			d := math.Max(0, p.MPlus-float64(l))
			o += d * d
		} else {
			d := math.Max(0, float64(l)-p.MMinus)
			o += p.Lambda * d * d
		}
	}
	return
}
