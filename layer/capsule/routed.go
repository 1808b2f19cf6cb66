package capsule

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/neurlang/capsnet/layer"
)

// WeightStdDev is the standard deviation of the initial transformation matrices.
const WeightStdDev = 0.05

// Routed is a layer of capsules fed by every input capsule through a learned
// transformation matrix. Each input capsule i predicts every output capsule j
// as u_hat(j|i) = W_ij u_i. The predictions are combined by routing by
// agreement: coupling coefficients c_ij = softmax_j(b_ij) weigh the
// predictions, and b_ij grows by the dot product of u_hat(j|i) with the
// squashed output v_j after every round but the last.
type Routed struct {
	in, inDim, out, outDim int
	iterations              int

	w *G.Node

	couplings *G.Node
}

// NewRouted creates a routed capsule layer. iterations is the number of
// routing rounds and must be at least one.
func NewRouted(g *G.ExprGraph, winit *layer.Initializer, name string, in, inDim, out, outDim, iterations int) (*Routed, error) {
	if in <= 0 || inDim <= 0 || out <= 0 || outDim <= 0 {
		return nil, errors.Errorf("routed capsules: sizes %dx%d -> %dx%d must be positive", in, inDim, out, outDim)
	}
	if iterations < 1 {
		return nil, errors.Errorf("routed capsules: need at least one routing iteration, got %d", iterations)
	}
	return &Routed{
		in:         in,
		inDim:      inDim,
		out:        out,
		outDim:     outDim,
		iterations: iterations,
		w: G.NewTensor(g, tensor.Float32, 3,
			G.WithShape(in, out*outDim, inDim),
			G.WithName(name+"_w"),
			G.WithInit(winit.Gaussian(0, WeightStdDev))),
	}, nil
}

// Predictions computes u_hat of shape (B, in, out, outDim) from u (B, in, inDim).
func (r *Routed) Predictions(u *G.Node) (*G.Node, error) {
	var shp = u.Shape()
	if u.Dims() != 3 || shp[1] != r.in || shp[2] != r.inDim {
		return nil, errors.Errorf("routed capsules: want (B, %d, %d), got %v", r.in, r.inDim, shp)
	}
	var batch = shp[0]

	// one matrix product per input capsule, batched over the input capsules
	ut, err := G.Transpose(u, 1, 2, 0)
	if err != nil {
		return nil, errors.Wrap(err, "routed capsules transpose input")
	}
	p, err := G.BatchedMatMul(r.w, ut)
	if err != nil {
		return nil, errors.Wrap(err, "routed capsules predictions")
	}
	p, err = G.Reshape(p, tensor.Shape{r.in, r.out, r.outDim, batch})
	if err != nil {
		return nil, errors.Wrap(err, "routed capsules reshape")
	}
	p, err = G.Transpose(p, 3, 0, 1, 2)
	if err != nil {
		return nil, errors.Wrap(err, "routed capsules transpose predictions")
	}
	return p, nil
}

// Forward maps u (B, in, inDim) to v (B, out, outDim).
func (r *Routed) Forward(u *G.Node) (*G.Node, error) {
	uhat, err := r.Predictions(u)
	if err != nil {
		return nil, err
	}
	return r.Route(uhat)
}

// Route runs dynamic routing over predictions uhat (B, in, out, outDim).
func (r *Routed) Route(uhat *G.Node) (*G.Node, error) {
	// b starts at zero, so the first round couples uniformly
	s, err := G.Sum(uhat, 1)
	if err != nil {
		return nil, errors.Wrap(err, "routing sum")
	}
	s, err = G.Mul(s, layer.Scalar(s, 1/float64(r.out)))
	if err != nil {
		return nil, errors.Wrap(err, "routing uniform coupling")
	}
	v, err := layer.Squash(s)
	if err != nil {
		return nil, err
	}

	var b *G.Node
	for round := 1; round < r.iterations; round++ {
		a, err := Agreement(uhat, v)
		if err != nil {
			return nil, err
		}
		if b == nil {
			b = a
		} else if b, err = G.Add(b, a); err != nil {
			return nil, errors.Wrap(err, "routing logits")
		}
		c, err := SoftmaxLast(b)
		if err != nil {
			return nil, err
		}
		r.couplings = c
		if s, err = Weighted(uhat, c); err != nil {
			return nil, err
		}
		if v, err = layer.Squash(s); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Couplings returns the coupling coefficients (B, in, out) of the last
// routing round, or nil when a single round was used.
func (r *Routed) Couplings() *G.Node {
	return r.couplings
}

// Learnables returns the transformation matrices.
func (r *Routed) Learnables() G.Nodes {
	return G.Nodes{r.w}
}

// Agreement returns the dot products of uhat (B, in, out, D) with v (B, out, D)
// as (B, in, out).
func Agreement(uhat, v *G.Node) (*G.Node, error) {
	var shp = v.Shape()
	v4, err := G.Reshape(v, tensor.Shape{shp[0], 1, shp[1], shp[2]})
	if err != nil {
		return nil, errors.Wrap(err, "agreement reshape")
	}
	p, err := G.BroadcastHadamardProd(uhat, v4, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrap(err, "agreement product")
	}
	a, err := G.Sum(p, 3)
	if err != nil {
		return nil, errors.Wrap(err, "agreement sum")
	}
	return a, nil
}

// Weighted sums uhat (B, in, out, D) over the input capsules weighted by
// c (B, in, out), giving (B, out, D).
func Weighted(uhat, c *G.Node) (*G.Node, error) {
	var shp = c.Shape()
	c4, err := G.Reshape(c, tensor.Shape{shp[0], shp[1], shp[2], 1})
	if err != nil {
		return nil, errors.Wrap(err, "weighted reshape")
	}
	p, err := G.BroadcastHadamardProd(uhat, c4, nil, []byte{3})
	if err != nil {
		return nil, errors.Wrap(err, "weighted product")
	}
	s, err := G.Sum(p, 1)
	if err != nil {
		return nil, errors.Wrap(err, "weighted sum")
	}
	return s, nil
}

// SoftmaxLast normalises x along its last axis.
func SoftmaxLast(x *G.Node) (*G.Node, error) {
	var last = x.Dims() - 1
	e, err := G.Exp(x)
	if err != nil {
		return nil, errors.Wrap(err, "softmax exp")
	}
	z, err := G.Sum(e, last)
	if err != nil {
		return nil, errors.Wrap(err, "softmax sum")
	}
	var to = append(tensor.Shape{}, x.Shape()...)
	to[last] = 1
	if z, err = G.Reshape(z, to); err != nil {
		return nil, errors.Wrap(err, "softmax reshape")
	}
	c, err := G.BroadcastHadamardDiv(e, z, nil, []byte{byte(last)})
	if err != nil {
		return nil, errors.Wrap(err, "softmax normalise")
	}
	return c, nil
}
