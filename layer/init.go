package layer

import (
	"fmt"
	"math"
	"math/rand"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Initializer draws initial weights from its own seeded source, so that a
// network built twice from the same seed starts from the same weights.
// A nil *Initializer falls back to the gorgonia initialisers and the global
// source. It is not safe for concurrent use.
type Initializer struct {
	rng *rand.Rand
}

// NewInitializer creates an initializer seeded with seed.
func NewInitializer(seed int64) *Initializer {
	return &Initializer{rng: rand.New(rand.NewSource(seed))}
}

// Gaussian draws from N(mean, stddev²).
func (i *Initializer) Gaussian(mean, stddev float64) G.InitWFn {
	if i == nil {
		return G.Gaussian(mean, stddev)
	}
	return func(dt tensor.Dtype, s ...int) interface{} {
		return i.fill(dt, s, func() float64 {
			return i.rng.NormFloat64()*stddev + mean
		})
	}
}

// GlorotU draws from U(-l, l) with l = gain * sqrt(6 / (fanIn + fanOut)).
// The fans are the first two axes times the remaining (receptive field) axes.
func (i *Initializer) GlorotU(gain float64) G.InitWFn {
	if i == nil {
		return G.GlorotU(gain)
	}
	return func(dt tensor.Dtype, s ...int) interface{} {
		var n1, n2 int
		switch len(s) {
		case 0:
			panic("initializer: GlorotU needs a shape")
		case 1:
			n1, n2 = 1, s[0]
		default:
			n1, n2 = s[0], s[1]
			for _, v := range s[2:] {
				n1 *= v
				n2 *= v
			}
		}
		limit := gain * math.Sqrt(6/float64(n1+n2))
		return i.fill(dt, s, func() float64 {
			return (i.rng.Float64()*2 - 1) * limit
		})
	}
}

func (i *Initializer) fill(dt tensor.Dtype, s []int, draw func() float64) interface{} {
	var size = tensor.Shape(s).TotalSize()
	switch dt {
	case tensor.Float64:
		o := make([]float64, size)
		for j := range o {
			o[j] = draw()
		}
		return o
	case tensor.Float32:
		o := make([]float32, size)
		for j := range o {
			o[j] = float32(draw())
		}
		return o
	}
	panic(fmt.Sprintf("initializer: dtype %v not supported", dt))
}
