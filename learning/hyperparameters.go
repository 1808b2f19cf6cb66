// Package learning holds the optimisation hyper-parameters and builds the solver
package learning

import (
	crypto_rand "crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"

	"github.com/neurlang/capsnet/config"
	"github.com/neurlang/capsnet/layer"
)

// Adam defaults from the paper introducing it.
const (
	Beta1   = 0.9
	Beta2   = 0.999
	Epsilon = 1e-8
)

type HyperParameters struct {
	Epochs    int     // passes over the training set
	BatchSize int     // samples per step
	LearnRate float64 // Adam step size

	Seed    int64 // prng seed, 0 seeds from the system rng
	Threads int   // goroutines assembling batches

	Augment  bool // randomly shift training images
	MaxShift int  // maximum shift in pixels per axis

	LogEvery int // log every this many batches, 0 disables

	// Clip bounds the gradient norm, 0 disables it
	Clip float64
}

// FromConfig copies the training section of the configuration.
func FromConfig(c config.TrainingConfig) HyperParameters {
	return HyperParameters{
		Epochs:    c.Epochs,
		BatchSize: c.BatchSize,
		LearnRate: c.LearnRate,
		Seed:      c.Seed,
		Threads:   c.Threads,
		Augment:   c.Augment,
		MaxShift:  c.MaxShift,
		LogEvery:  c.LogEvery,
		Clip:      c.Clip,
	}
}

// Validate rejects hyper-parameters the training loop cannot run with.
func (h *HyperParameters) Validate() error {
	if h.Epochs <= 0 {
		return errors.Errorf("learning: epochs must be positive, got %d", h.Epochs)
	}
	if h.BatchSize <= 0 {
		return errors.Errorf("learning: batch size must be positive, got %d", h.BatchSize)
	}
	if h.LearnRate <= 0 {
		return errors.Errorf("learning: learn rate must be positive, got %g", h.LearnRate)
	}
	if h.Clip < 0 {
		return errors.Errorf("learning: clip must not be negative, got %g", h.Clip)
	}
	return nil
}

// ResolveSeed returns the seed of the run. A zero Seed is replaced by one
// read from crypto/rand and kept, so the run can be repeated.
func (h *HyperParameters) ResolveSeed() int64 {
	if h.Seed == 0 {
		var b [8]byte
		_, err := crypto_rand.Read(b[:])
		if err == nil {
			h.Seed = int64(binary.LittleEndian.Uint64(b[:]) >> 1)
		}
		if h.Seed == 0 {
			h.Seed = 1
		}
	}
	return h.Seed
}

// Initializer returns the weight initializer seeded with the resolved seed.
func (h *HyperParameters) Initializer() *layer.Initializer {
	return layer.NewInitializer(h.ResolveSeed())
}

// Solver creates the Adam solver for the hyper-parameters.
func (h *HyperParameters) Solver() *G.AdamSolver {
	var opts = []G.SolverOpt{
		G.WithLearnRate(h.LearnRate),
		G.WithBeta1(Beta1),
		G.WithBeta2(Beta2),
		G.WithEps(Epsilon),
	}
	if h.Clip > 0 {
		opts = append(opts, G.WithClip(h.Clip))
	}
	return G.NewAdamSolver(opts...)
}
