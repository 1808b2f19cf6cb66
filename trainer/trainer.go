package trainer

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	G "gorgonia.org/gorgonia"

	"github.com/neurlang/capsnet/datasets"
	"github.com/neurlang/capsnet/learning"
	"github.com/neurlang/capsnet/net/capsnet"
)

// ErrDiverged is returned when the loss stops being a finite number.
var ErrDiverged = errors.New("trainer: loss is not finite")

// Metrics summarises one pass over a split.
type Metrics struct {
	Loss      float64
	Accuracy  float64
	Samples   int
	Confusion *ConfusionMeter
}

// EpochResult is reported after every epoch.
type EpochResult struct {
	Epoch    int
	Train    Metrics
	Test     Metrics
	Duration time.Duration
}

// Trainer owns the machine executing the network graph and the solver.
type Trainer struct {
	net        *capsnet.Network
	h          learning.HyperParameters
	log        *zap.Logger
	vm         G.VM
	solver     G.Solver
	learnables G.Nodes

	// OnEpoch is called after every epoch; an error stops training.
	OnEpoch func(EpochResult) error
}

// New differentiates the network cost and compiles the graph.
func New(net *capsnet.Network, h learning.HyperParameters, log *zap.Logger) (*Trainer, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if h.BatchSize != net.Batch() {
		return nil, errors.Errorf("trainer: batch size %d does not match network batch %d", h.BatchSize, net.Batch())
	}
	if log == nil {
		log = zap.NewNop()
	}
	learnables := net.Learnables()
	if _, err := G.Grad(net.Cost, learnables...); err != nil {
		return nil, errors.Wrap(err, "trainer: gradients")
	}
	return &Trainer{
		net:        net,
		h:          h,
		log:        log,
		vm:         G.NewTapeMachine(net.Graph(), G.BindDualValues(learnables...)),
		solver:     h.Solver(),
		learnables: learnables,
	}, nil
}

// Close releases the machine.
func (t *Trainer) Close() error {
	return t.vm.Close()
}

// Step runs one batch forward and backward. With update set the solver is
// stepped. It returns the loss and the predicted classes.
func (t *Trainer) Step(b *datasets.Batch, update bool) (float64, []int, error) {
	if err := t.net.Let(b.Images, b.OneHot, b.OneHot); err != nil {
		return 0, nil, err
	}
	defer t.vm.Reset()
	if err := t.vm.RunAll(); err != nil {
		return 0, nil, errors.Wrap(err, "trainer: run")
	}
	cost := t.net.CostValue()
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return cost, nil, ErrDiverged
	}
	predicted := capsnet.Predict(t.net.LengthsValue(), t.net.Topology().Classes)
	if update {
		if err := t.solver.Step(G.NodesToValueGrads(t.learnables)); err != nil {
			return cost, predicted, errors.Wrap(err, "trainer: solver step")
		}
	}
	return cost, predicted, nil
}

// pass runs every batch of the batcher once.
func (t *Trainer) pass(ctx context.Context, batches *datasets.Batcher, update bool, epoch int) (m Metrics, err error) {
	var loss AverageMeter
	var confusion = NewConfusionMeter(t.net.Topology().Classes)
	var started = time.Now()

	batches.Reset()
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		b, err := batches.Next(ctx)
		if err != nil {
			return m, err
		}
		if b == nil {
			break
		}
		cost, predicted, err := t.Step(b, update)
		if err != nil {
			return m, errors.Wrapf(err, "epoch %d batch %d", epoch, i)
		}
		loss.Add(cost, b.Size)
		confusion.Add(predicted, b.Labels)

		if update && t.h.LogEvery > 0 && (i+1)%t.h.LogEvery == 0 {
			t.log.Info("batch",
				zap.Int("epoch", epoch),
				zap.Int("batch", i+1),
				zap.Int("batches", batches.Len()),
				zap.Float64("loss", loss.Value()),
				zap.Float64("accuracy", confusion.Accuracy()),
				zap.Duration("elapsed", time.Since(started)))
		}
	}
	return Metrics{
		Loss:      loss.Value(),
		Accuracy:  confusion.Accuracy(),
		Samples:   confusion.Total(),
		Confusion: confusion,
	}, nil
}

// Evaluate measures loss and accuracy on batches without updating weights.
func (t *Trainer) Evaluate(ctx context.Context, batches *datasets.Batcher) (Metrics, error) {
	return t.pass(ctx, batches, false, 0)
}

// Run trains for the configured number of epochs, evaluating test after
// each. A cancelled ctx stops between batches and returns ctx.Err().
func (t *Trainer) Run(ctx context.Context, train, test *datasets.Batcher) ([]EpochResult, error) {
	t.log.Info("training",
		zap.Int("parameters", t.net.Parameters()),
		zap.Int("epochs", t.h.Epochs),
		zap.Int("batch_size", t.h.BatchSize),
		zap.Float64("learn_rate", t.h.LearnRate),
		zap.Int("train_batches", train.Len()),
		zap.Int("test_batches", test.Len()))

	var results []EpochResult
	for epoch := 1; epoch <= t.h.Epochs; epoch++ {
		started := time.Now()
		trainMetrics, err := t.pass(ctx, train, true, epoch)
		if err != nil {
			return results, err
		}
		testMetrics, err := t.pass(ctx, test, false, epoch)
		if err != nil {
			return results, err
		}
		r := EpochResult{
			Epoch:    epoch,
			Train:    trainMetrics,
			Test:     testMetrics,
			Duration: time.Since(started),
		}
		results = append(results, r)

		t.log.Info("epoch",
			zap.Int("epoch", epoch),
			zap.Float64("train_loss", r.Train.Loss),
			zap.Float64("train_accuracy", r.Train.Accuracy),
			zap.Float64("test_loss", r.Test.Loss),
			zap.Float64("test_accuracy", r.Test.Accuracy),
			zap.Duration("duration", r.Duration))
		t.log.Debug("confusion", zap.Int("epoch", epoch), zap.String("matrix", "\n"+r.Test.Confusion.String()))

		if t.OnEpoch != nil {
			if err := t.OnEpoch(r); err != nil {
				return results, errors.Wrapf(err, "epoch %d hook", epoch)
			}
		}
	}
	return results, nil
}

// Machine returns the machine executing the graph, for inference after training.
func (t *Trainer) Machine() G.VM {
	return t.vm
}
