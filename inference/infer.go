// Package inference classifies images with a capsule network and reconstructs
// them from the capsule of the predicted class
package inference

import (
	"github.com/pkg/errors"

	"github.com/neurlang/capsnet/net/capsnet"
)

// Machine executes the compiled graph of a network.
type Machine interface {
	RunAll() error
	Reset()
}

// Result of inferring one batch.
type Result struct {
	Predicted       []int
	Lengths         []float32 // B*J
	Reconstructions []float32 // B*S*S, nil without a decoder
}

// Infer classifies a batch of images (B*S*S in [0, 1]). The first run reads
// the capsule lengths; when the network has a decoder a second run masks all
// but the predicted capsule and reads the reconstructions.
func Infer(m Machine, net *capsnet.Network, images []float32) (*Result, error) {
	var classes = net.Topology().Classes
	var zeros = make([]float32, net.Batch()*classes)
	var mask = make([]float32, net.Batch()*classes)

	if err := net.Let(images, zeros, mask); err != nil {
		return nil, err
	}
	err := m.RunAll()
	lengths := net.LengthsValue()
	m.Reset()
	if err != nil {
		return nil, errors.Wrap(err, "inference: classify")
	}

	var r = &Result{
		Predicted: capsnet.Predict(lengths, classes),
		Lengths:   lengths,
	}
	if net.Reconstructions == nil {
		return r, nil
	}

	capsnet.OneHot(mask, r.Predicted, classes)
	if err := net.Let(images, zeros, mask); err != nil {
		return nil, err
	}
	err = m.RunAll()
	r.Reconstructions = net.ReconstructionsValue()
	m.Reset()
	if err != nil {
		return nil, errors.Wrap(err, "inference: reconstruct")
	}
	return r, nil
}
