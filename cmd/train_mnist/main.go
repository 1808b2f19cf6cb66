package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/neurlang/capsnet/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
	pgo        bool

	// Loaded configuration, before flag overrides
	cfg config.Config

	// Logger
	logger *zap.Logger

	// CPU profile written with --pgo
	profilePath = "default.pgo"
	stopProfile func()
)

// rootCmd trains by default
var rootCmd = &cobra.Command{
	Use:   "train_mnist",
	Short: "Train a capsule network with dynamic routing on MNIST",
	Long: `Trains CapsNet (dynamic routing between capsules) on MNIST.

The network is a 9x9 convolution, a layer of 32x6x6 primary capsules of
dimension 8 and ten 16D digit capsules agreed upon by three rounds of routing
by agreement, plus a decoder reconstructing the digit from its capsule.
The loss is the margin loss on capsule lengths plus 0.0005 times the
reconstruction error. Loss and accuracy are printed after every epoch.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		if logger, err = newLogger(verbose || cfg.Logging.Level == "debug", cfg.Logging.JSON); err != nil {
			return err
		}
		if pgo {
			// collect profile data into the default.pgo file
			if stopProfile, err = startProfile(profilePath); err != nil {
				return err
			}
		}
		return nil
	},
	RunE: runTrain,
}

// trainCmd is the explicit form of the root command
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the network and print loss and accuracy per epoch",
	RunE:  runTrain,
}

// downloadCmd only fetches the dataset
var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download and verify the MNIST files",
	RunE:  runDownload,
}

// deviceCmd reports the hardware
var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Show the CPU features and CUDA devices used for training",
	RunE:  runDevice,
}

func newLogger(verbose, json bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if !json {
		config = zap.NewDevelopmentConfig()
		config.DisableStacktrace = true
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	log, err := config.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize logger")
	}
	return log, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&pgo, "pgo", false, "write a CPU profile to default.pgo")

	addTrainFlags(rootCmd)
	addDataFlags(rootCmd)
	addTrainFlags(trainCmd)
	addDataFlags(trainCmd)
	addDataFlags(downloadCmd)
	deviceCmd.Flags().Int("threads", 0, "worker goroutines (0 = physical cores)")

	rootCmd.AddCommand(trainCmd, downloadCmd, deviceCmd)
}

// finish stops the profile and flushes the logger. Cobra skips post-run
// hooks when a command fails, so it runs after every execution instead.
func finish() {
	if stopProfile != nil {
		stopProfile()
		stopProfile = nil
	}
	if logger != nil {
		_ = logger.Sync()
	}
}

// run executes the command line. A nil args reads os.Args.
func run(ctx context.Context, args []string) error {
	defer finish()
	if args != nil {
		rootCmd.SetArgs(args)
	}
	return rootCmd.ExecuteContext(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, nil)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
