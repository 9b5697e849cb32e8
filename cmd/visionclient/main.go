// Command visionclient connects to a car, estimates a steering correction
// from lane markings in each sampled frame and sends it back as a command.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cs-isia-racer/car/internal/client"
	"github.com/cs-isia-racer/car/internal/config"
	"github.com/cs-isia-racer/car/internal/observability"
	"github.com/cs-isia-racer/car/internal/vision"
)

type options struct {
	configPath string
	car        string
	rate       float64
	fallback   string
	annotate   bool
	retry      time.Duration
	logLevel   string
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "visionclient",
		Short: "Steer a car from its camera frames",
		Long: `visionclient reads telemetry from the car's /ws channel, runs the lane
estimator on one frame in every 1/rate messages and replies with
{"command":{"steering":v}} plus, when annotation is on, a "data" payload
carrying the annotated frame for other connected clients to display.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "config file holding the vision section")
	flags.StringVar(&opts.car, "car", "localhost:5042", "car address, host:port or URL")
	flags.Float64Var(&opts.rate, "rate", 0, "fraction of frames to process (default from config)")
	flags.StringVar(&opts.fallback, "fallback", "", "angle when no lane is found: neutral or last (default from config)")
	flags.BoolVar(&opts.annotate, "annotate", true, "send annotated frames as data")
	flags.DurationVar(&opts.retry, "retry", 2*time.Second, "delay before reconnecting after a dropped connection, 0 to exit instead")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("rate") {
		cfg.Vision.Rate = opts.rate
	}
	if flags.Changed("fallback") {
		cfg.Vision.Fallback = strings.ToLower(opts.fallback)
	}
	if flags.Changed("annotate") {
		cfg.Vision.Annotate = opts.annotate
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(opts.logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	control, err := client.NewControl(opts.car, 2*time.Second)
	if err != nil {
		return err
	}
	estimator := vision.NewEstimator(vision.ParamsFromConfig(cfg.Vision))
	runner, err := client.NewRunner(control.BaseURL(), cfg.Vision.Rate, client.NewVisionProcessor(estimator), logger)
	if err != nil {
		return err
	}

	for {
		if running, err := control.StartStream(ctx); err != nil {
			logger.Warn("stream start request failed", slog.String("error", err.Error()))
		} else if !running {
			logger.Warn("car reports its stream loop is not running")
		}

		err := runner.Run(ctx)
		stats := runner.Stats()
		logger.Info("telemetry session ended",
			slog.Uint64("received", stats.Received),
			slog.Uint64("processed", stats.Processed),
			slog.Uint64("failed", stats.Failed),
		)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if opts.retry <= 0 {
			return err
		}
		logger.Warn("connection lost, reconnecting", slog.String("error", err.Error()), slog.Duration("after", opts.retry))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(opts.retry):
		}
	}
}
