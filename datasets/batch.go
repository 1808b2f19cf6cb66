// Package datasets turns MNIST splits into fixed size float32 batches
package datasets

import (
	"context"
	"math/rand"

	"github.com/neurlang/capsnet/datasets/mnist"
	"github.com/neurlang/capsnet/parallel"
)

// Pixels is the number of pixels in one sample.
const Pixels = mnist.ImgSize * mnist.ImgSize

// Batch is one mini-batch ready to be bound to the network inputs.
type Batch struct {
	Size   int
	Images []float32 // Size x 1 x 28 x 28, scaled to [0, 1]
	OneHot []float32 // Size x Classes
	Labels []byte
}

// NewBatch allocates a batch of size samples.
func NewBatch(size int) *Batch {
	return &Batch{
		Size:   size,
		Images: make([]float32, size*Pixels),
		OneHot: make([]float32, size*mnist.Classes),
		Labels: make([]byte, size),
	}
}

// Put stores image and label at position n.
func (b *Batch) Put(n int, img *mnist.Image, label byte) {
	var pix = b.Images[n*Pixels : (n+1)*Pixels]
	for i, v := range img {
		pix[i] = float32(v) / 255
	}
	var hot = b.OneHot[n*mnist.Classes : (n+1)*mnist.Classes]
	for i := range hot {
		hot[i] = 0
	}
	hot[label] = 1
	b.Labels[n] = label
}

// Batcher iterates a split in fixed size batches. A trailing partial batch is
// dropped because the network graph has a static batch dimension.
type Batcher struct {
	split    *mnist.Split
	size     int
	order    []int
	pos      int
	shuffle  bool
	maxShift int
	threads  int
	rng      *rand.Rand
	batch    *Batch
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithShuffle shuffles the sample order at every Reset using seed.
func WithShuffle(seed int64) BatcherOption {
	return func(b *Batcher) {
		b.shuffle = true
		b.rng = rand.New(rand.NewSource(seed))
	}
}

// WithShift randomly translates every sample by up to max pixels per axis.
func WithShift(max int, seed int64) BatcherOption {
	return func(b *Batcher) {
		b.maxShift = max
		if b.rng == nil {
			b.rng = rand.New(rand.NewSource(seed))
		}
	}
}

// WithThreads sets the number of goroutines assembling a batch.
func WithThreads(n int) BatcherOption {
	return func(b *Batcher) {
		b.threads = n
	}
}

// NewBatcher creates a batcher over split with the given batch size.
func NewBatcher(split *mnist.Split, size int, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		split:   split,
		size:    size,
		threads: 1,
		batch:   NewBatch(size),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.order = make([]int, split.Len())
	for i := range b.order {
		b.order[i] = i
	}
	b.Reset()
	return b
}

// Len returns the number of full batches per epoch.
func (b *Batcher) Len() int {
	if b.size <= 0 {
		return 0
	}
	return len(b.order) / b.size
}

// Size returns the batch size.
func (b *Batcher) Size() int {
	return b.size
}

// Reset starts a new epoch, reshuffling when enabled.
func (b *Batcher) Reset() {
	b.pos = 0
	if b.shuffle {
		b.rng.Shuffle(len(b.order), func(i, j int) { b.order[i], b.order[j] = b.order[j], b.order[i] })
	}
}

// Next fills the next batch. It returns nil at the end of the epoch. The
// returned batch is reused by the following call.
func (b *Batcher) Next(ctx context.Context) (*Batch, error) {
	if b.size <= 0 || b.pos+b.size > len(b.order) {
		return nil, nil
	}
	var idx = b.order[b.pos : b.pos+b.size]
	b.pos += b.size

	// shifts are drawn up front so the result does not depend on scheduling
	var shifts [][2]int
	if b.maxShift > 0 {
		shifts = make([][2]int, len(idx))
		for i := range shifts {
			shifts[i][0] = b.rng.Intn(2*b.maxShift+1) - b.maxShift
			shifts[i][1] = b.rng.Intn(2*b.maxShift+1) - b.maxShift
		}
	}

	err := parallel.ForEach(ctx, len(idx), b.threads, func(i int) error {
		var img = &b.split.Images[idx[i]]
		if shifts != nil {
			shifted := mnist.Shift(img, shifts[i][0], shifts[i][1])
			img = &shifted
		}
		b.batch.Put(i, img, b.split.Labels[idx[i]])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b.batch, nil
}
