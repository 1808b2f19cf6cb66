// Package config holds the capsnet training configuration.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds all training configuration.
type Config struct {
	// Dataset location and retrieval
	Data DataConfig `yaml:"data"`

	// Network topology
	Topology Topology `yaml:"topology"`

	// Loss constants
	Loss LossConfig `yaml:"loss"`

	// Optimisation
	Training TrainingConfig `yaml:"training"`

	// Metrics history database, empty disables it
	HistoryPath string `yaml:"history_path"`

	// Directory for reconstruction previews, empty disables them
	PreviewDir string `yaml:"preview_dir"`

	Logging LoggingConfig `yaml:"logging"`
}

// DataConfig configures the MNIST files.
type DataConfig struct {
	Dir      string `yaml:"dir"`
	Mirror   string `yaml:"mirror"`
	Download bool   `yaml:"download"`
	Verify   bool   `yaml:"verify"`
}

// Topology describes the capsule network layers.
type Topology struct {
	ImageSize int `yaml:"image_size"`
	Classes   int `yaml:"classes"`

	ConvChannels int `yaml:"conv_channels"`
	ConvKernel   int `yaml:"conv_kernel"`

	PrimaryChannels int `yaml:"primary_channels"` // capsule channels
	PrimaryDim      int `yaml:"primary_dim"`
	PrimaryKernel   int `yaml:"primary_kernel"`
	PrimaryStride   int `yaml:"primary_stride"`

	DigitDim          int `yaml:"digit_dim"`
	RoutingIterations int `yaml:"routing_iterations"`

	Decoder []int `yaml:"decoder"` // hidden sizes
}

// LossConfig holds margin and reconstruction constants.
type LossConfig struct {
	MPlus                float64 `yaml:"m_plus"`
	MMinus               float64 `yaml:"m_minus"`
	Lambda               float64 `yaml:"lambda"`
	ReconstructionWeight float64 `yaml:"reconstruction_weight"`
}

// TrainingConfig holds the training loop hyper-parameters.
type TrainingConfig struct {
	Epochs    int     `yaml:"epochs"`
	BatchSize int     `yaml:"batch_size"`
	LearnRate float64 `yaml:"learn_rate"`
	Seed      int64   `yaml:"seed"`
	Threads   int     `yaml:"threads"` // 0 = physical cores
	Augment   bool    `yaml:"augment"`
	MaxShift  int     `yaml:"max_shift"`
	LogEvery  int     `yaml:"log_every"`
	Clip      float64 `yaml:"clip"` // gradient clipping bound, 0 = off

	// Limits for quick runs, 0 = whole set
	TrainLimit int `yaml:"train_limit"`
	TestLimit  int `yaml:"test_limit"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration of the original CapsNet paper setup.
func Default() Config {
	return Config{
		Data: DataConfig{
			Dir:      "/tmp/mnist/",
			Mirror:   "https://ossci-datasets.s3.amazonaws.com/mnist/",
			Download: true,
			Verify:   true,
		},
		Topology: Topology{
			ImageSize:         28,
			Classes:           10,
			ConvChannels:      256,
			ConvKernel:        9,
			PrimaryChannels:   32,
			PrimaryDim:        8,
			PrimaryKernel:     9,
			PrimaryStride:     2,
			DigitDim:          16,
			RoutingIterations: 3,
			Decoder:           []int{512, 1024},
		},
		Loss: LossConfig{
			MPlus:                0.9,
			MMinus:               0.1,
			Lambda:               0.5,
			ReconstructionWeight: 0.0005,
		},
		Training: TrainingConfig{
			Epochs:    30,
			BatchSize: 100,
			LearnRate: 0.001,
			Seed:      1,
			Augment:   true,
			MaxShift:  2,
			LogEvery:  50,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// ConvOut is the spatial size after the first convolution.
func (t Topology) ConvOut() int {
	return t.ImageSize - t.ConvKernel + 1
}

// PrimaryGrid is the spatial size of the primary capsule grid.
func (t Topology) PrimaryGrid() int {
	if t.PrimaryStride <= 0 {
		return 0
	}
	return (t.ConvOut()-t.PrimaryKernel)/t.PrimaryStride + 1
}

// PrimaryCapsules is the number of capsules routed into the digit layer.
func (t Topology) PrimaryCapsules() int {
	g := t.PrimaryGrid()
	return t.PrimaryChannels * g * g
}

// Validate checks the topology for sizes that cannot be built.
func (t Topology) Validate() error {
	for name, v := range map[string]int{
		"image_size":         t.ImageSize,
		"classes":            t.Classes,
		"conv_channels":      t.ConvChannels,
		"conv_kernel":        t.ConvKernel,
		"primary_channels":   t.PrimaryChannels,
		"primary_dim":        t.PrimaryDim,
		"primary_kernel":     t.PrimaryKernel,
		"primary_stride":     t.PrimaryStride,
		"digit_dim":          t.DigitDim,
		"routing_iterations": t.RoutingIterations,
	} {
		if v <= 0 {
			return errors.Errorf("topology: %s must be positive, got %d", name, v)
		}
	}
	if t.ConvOut() < t.PrimaryKernel {
		return errors.Errorf("topology: conv output %d is smaller than primary kernel %d", t.ConvOut(), t.PrimaryKernel)
	}
	for i, h := range t.Decoder {
		if h <= 0 {
			return errors.Errorf("topology: decoder layer %d must be positive, got %d", i, h)
		}
	}
	return nil
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if err := c.Topology.Validate(); err != nil {
		return err
	}
	if c.Training.Epochs <= 0 {
		return errors.Errorf("training: epochs must be positive, got %d", c.Training.Epochs)
	}
	if c.Training.BatchSize <= 0 {
		return errors.Errorf("training: batch_size must be positive, got %d", c.Training.BatchSize)
	}
	if c.Training.LearnRate <= 0 {
		return errors.Errorf("training: learn_rate must be positive, got %g", c.Training.LearnRate)
	}
	if c.Training.MaxShift < 0 {
		return errors.Errorf("training: max_shift must not be negative, got %d", c.Training.MaxShift)
	}
	if c.Training.Clip < 0 {
		return errors.Errorf("training: clip must not be negative, got %g", c.Training.Clip)
	}
	if c.Loss.MMinus >= c.Loss.MPlus {
		return errors.Errorf("loss: m_minus %g must be below m_plus %g", c.Loss.MMinus, c.Loss.MPlus)
	}
	if c.Data.Dir == "" {
		return errors.New("data: dir must be set")
	}
	return nil
}
