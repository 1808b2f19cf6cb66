package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	G "gorgonia.org/gorgonia"

	"github.com/neurlang/capsnet/config"
	"github.com/neurlang/capsnet/datasets"
	"github.com/neurlang/capsnet/datasets/mnist"
	"github.com/neurlang/capsnet/device"
	"github.com/neurlang/capsnet/history"
	"github.com/neurlang/capsnet/inference"
	"github.com/neurlang/capsnet/learning"
	"github.com/neurlang/capsnet/loss"
	"github.com/neurlang/capsnet/net/capsnet"
	"github.com/neurlang/capsnet/trainer"
)

// previewCount is the number of digits drawn in a reconstruction preview.
const previewCount = 8

func addTrainFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("epochs", 0, "training epochs")
	f.Int("batch-size", 0, "samples per batch")
	f.Float64("learn-rate", 0, "Adam learning rate")
	f.Float64("clip", 0, "gradient clipping bound (0 = off)")
	f.Int("routing-iterations", 0, "dynamic routing rounds")
	f.Int64("seed", 0, "random seed (0 = random)")
	f.Int("threads", 0, "worker goroutines (0 = physical cores)")
	f.Bool("no-augment", false, "disable random shifts of training images")
	f.Int("train-limit", 0, "use only this many training samples")
	f.Int("test-limit", 0, "use only this many test samples")
	f.String("history", "", "SQLite file receiving per-epoch metrics")
	f.String("preview-dir", "", "directory receiving reconstruction previews")
}

func addDataFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("data-dir", "", "directory holding the MNIST files")
	f.String("mirror", "", "base URL to download the MNIST files from")
	f.Bool("no-download", false, "fail instead of downloading missing files")
}

// applyFlags overrides configuration values with the flags set on the command line.
func applyFlags(c *config.Config, f *pflag.FlagSet) {
	f.Visit(func(fl *pflag.Flag) {
		switch fl.Name {
		case "epochs":
			c.Training.Epochs, _ = f.GetInt(fl.Name)
		case "batch-size":
			c.Training.BatchSize, _ = f.GetInt(fl.Name)
		case "learn-rate":
			c.Training.LearnRate, _ = f.GetFloat64(fl.Name)
		case "clip":
			c.Training.Clip, _ = f.GetFloat64(fl.Name)
		case "routing-iterations":
			c.Topology.RoutingIterations, _ = f.GetInt(fl.Name)
		case "seed":
			c.Training.Seed, _ = f.GetInt64(fl.Name)
		case "threads":
			c.Training.Threads, _ = f.GetInt(fl.Name)
		case "no-augment":
			off, _ := f.GetBool(fl.Name)
			c.Training.Augment = !off
		case "train-limit":
			c.Training.TrainLimit, _ = f.GetInt(fl.Name)
		case "test-limit":
			c.Training.TestLimit, _ = f.GetInt(fl.Name)
		case "history":
			c.HistoryPath, _ = f.GetString(fl.Name)
		case "preview-dir":
			c.PreviewDir, _ = f.GetString(fl.Name)
		case "data-dir":
			c.Data.Dir, _ = f.GetString(fl.Name)
		case "mirror":
			c.Data.Mirror, _ = f.GetString(fl.Name)
		case "no-download":
			off, _ := f.GetBool(fl.Name)
			c.Data.Download = !off
		}
	})
}

func loadDataset(ctx context.Context, c config.Config) (*mnist.Set, error) {
	if c.Data.Download {
		d := mnist.Downloader{Mirror: c.Data.Mirror, Log: logger}
		if err := d.Download(ctx, c.Data.Dir); err != nil {
			return nil, err
		}
	}
	set, err := mnist.Load(c.Data.Dir, c.Data.Verify)
	if err != nil {
		return nil, err
	}
	set.Train.Truncate(c.Training.TrainLimit)
	set.Infer.Truncate(c.Training.TestLimit)
	logger.Info("dataset",
		zap.String("dir", c.Data.Dir),
		zap.Int("train", set.Train.Len()),
		zap.Int("test", set.Infer.Len()))
	return set, nil
}

func runDownload(cmd *cobra.Command, args []string) error {
	c := cfg
	applyFlags(&c, cmd.Flags())
	d := mnist.Downloader{Mirror: c.Data.Mirror, Log: logger}
	if err := d.Download(cmd.Context(), c.Data.Dir); err != nil {
		return err
	}
	logger.Info("dataset ready", zap.String("dir", c.Data.Dir))
	return nil
}

func runDevice(cmd *cobra.Command, args []string) error {
	threads, _ := cmd.Flags().GetInt("threads")
	device.Report(logger, threads)
	return nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c := cfg
	applyFlags(&c, cmd.Flags())
	if err := c.Validate(); err != nil {
		return err
	}

	h := learning.FromConfig(c.Training)
	h.Threads = device.Report(logger, c.Training.Threads)
	seed := h.ResolveSeed()
	logger.Info("seed", zap.Int64("seed", seed))

	set, err := loadDataset(ctx, c)
	if err != nil {
		return err
	}

	p := loss.Params{
		MPlus:                c.Loss.MPlus,
		MMinus:               c.Loss.MMinus,
		Lambda:               c.Loss.Lambda,
		ReconstructionWeight: c.Loss.ReconstructionWeight,
	}
	net, err := capsnet.New(G.NewGraph(), c.Topology, h.BatchSize, p, h.Initializer())
	if err != nil {
		return err
	}
	tr, err := trainer.New(net, h, logger)
	if err != nil {
		return err
	}
	defer tr.Close()

	trainOpts := []datasets.BatcherOption{datasets.WithShuffle(seed), datasets.WithThreads(h.Threads)}
	if h.Augment && h.MaxShift > 0 {
		trainOpts = append(trainOpts, datasets.WithShift(h.MaxShift, seed+1))
	}
	train := datasets.NewBatcher(&set.Train, h.BatchSize, trainOpts...)
	test := datasets.NewBatcher(&set.Infer, h.BatchSize, datasets.WithThreads(h.Threads))
	if train.Len() == 0 || test.Len() == 0 {
		return errors.Errorf("batch size %d is larger than the train (%d) or test (%d) split", h.BatchSize, set.Train.Len(), set.Infer.Len())
	}

	var hooks []func(trainer.EpochResult) error
	if c.HistoryPath != "" {
		store, err := history.Open(ctx, c.HistoryPath)
		if err != nil {
			return err
		}
		defer store.Close()
		raw, err := yaml.Marshal(c)
		if err != nil {
			return errors.Wrap(err, "marshal config")
		}
		run, err := store.NewRun(ctx, string(raw), seed)
		if err != nil {
			return err
		}
		logger.Info("history", zap.String("path", c.HistoryPath), zap.String("run", run))
		hooks = append(hooks, func(r trainer.EpochResult) error {
			return store.Record(ctx, history.Epoch{
				RunID:         run,
				Epoch:         r.Epoch,
				TrainLoss:     r.Train.Loss,
				TrainAccuracy: r.Train.Accuracy,
				TestLoss:      r.Test.Loss,
				TestAccuracy:  r.Test.Accuracy,
				Seconds:       r.Duration.Seconds(),
			})
		})
	}
	if c.PreviewDir != "" {
		if err := os.MkdirAll(c.PreviewDir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", c.PreviewDir)
		}
		hooks = append(hooks, func(r trainer.EpochResult) error {
			return preview(ctx, tr, net, test, filepath.Join(c.PreviewDir, fmt.Sprintf("epoch_%03d.png", r.Epoch)))
		})
	}
	tr.OnEpoch = func(r trainer.EpochResult) error {
		fmt.Printf("epoch %d: train loss %.5f accuracy %.4f, test loss %.5f accuracy %.4f (%s)\n",
			r.Epoch, r.Train.Loss, r.Train.Accuracy, r.Test.Loss, r.Test.Accuracy, r.Duration.Round(1e9))
		for _, hook := range hooks {
			if err := hook(r); err != nil {
				return err
			}
		}
		return nil
	}

	results, err := tr.Run(ctx, train, test)
	if err != nil {
		return err
	}
	last := results[len(results)-1]
	logger.Info("done",
		zap.Int("epochs", len(results)),
		zap.Float64("test_accuracy", last.Test.Accuracy),
		zap.Float64("test_error", 1-last.Test.Accuracy))
	return nil
}

// preview reconstructs the first test batch and writes originals over
// reconstructions to path.
func preview(ctx context.Context, tr *trainer.Trainer, net *capsnet.Network, test *datasets.Batcher, path string) error {
	test.Reset()
	b, err := test.Next(ctx)
	if err != nil || b == nil {
		return err
	}
	r, err := inference.Infer(tr.Machine(), net, b.Images)
	if err != nil {
		return err
	}
	n := previewCount
	if n > b.Size {
		n = b.Size
	}
	logger.Debug("preview", zap.String("path", path), zap.Ints("predicted", r.Predicted[:n]))
	return inference.WriteGrid(path, b.Images, r.Reconstructions, n, mnist.ImgSize)
}
