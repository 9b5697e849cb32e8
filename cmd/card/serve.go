package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cs-isia-racer/car/internal/capture"
	"github.com/cs-isia-racer/car/internal/device"
	"github.com/cs-isia-racer/car/internal/observability"
	"github.com/cs-isia-racer/car/internal/server"
	"github.com/cs-isia-racer/car/internal/state"
	"github.com/cs-isia-racer/car/internal/storage"
	"github.com/cs-isia-racer/car/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the car server",
	Long: `Start the camera stream, the websocket telemetry channel at /ws and the
HTTP control surface (capture, steering, throttle, health).

A camera failure stops the stream loop; card then shuts down and exits
non-zero rather than serving stale frames.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	health := device.NewHealth()
	actuators, err := device.NewActuators(cfg.Actuator, health, logger)
	if err != nil {
		return fmt.Errorf("initializing actuators: %w", err)
	}
	camera, err := device.NewCamera(ctx, cfg.Camera, logger)
	if err != nil {
		return fmt.Errorf("initializing camera: %w", err)
	}
	defer camera.Close()

	shared := state.NewShared()
	frames := state.NewFrameBuffer()
	session := capture.New(shared, capture.OptionsFromConfig(cfg.Capture), logger)

	var catalog server.SessionLister
	if cfg.Capture.CatalogPath != "" {
		cat, err := storage.Open(cfg.Capture.CatalogPath, logger)
		if err != nil {
			return fmt.Errorf("opening capture catalog: %w", err)
		}
		defer cat.Close()
		session.WithRecorder(cat)
		catalog = cat
	}

	registry := server.NewRegistry(logger)
	loop := stream.New(cfg.Stream, camera, shared, frames, registry, session, logger)
	srv := server.New(cfg, server.Deps{
		Shared:    shared,
		Frames:    frames,
		Actuators: actuators,
		Capture:   session,
		Catalog:   catalog,
		Stream:    loop,
		Health:    health,
		Registry:  registry,
	}, logger)

	logger.Info("starting car",
		slog.String("camera", cfg.Camera.Driver),
		slog.String("actuator", cfg.Actuator.Driver),
		slog.Bool("degraded_actuators", cfg.Actuator.Degraded),
		slog.String("address", cfg.Server.Address()),
	)

	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Run(ctx) }()
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Run(ctx) }()

	var runErr error
	select {
	case err := <-loopErr:
		if err != nil {
			runErr = fmt.Errorf("stream loop: %w", err)
		}
		cancel()
		if err := <-srvErr; err != nil {
			runErr = errors.Join(runErr, err)
		}
	case err := <-srvErr:
		runErr = err
		cancel()
		if err := <-loopErr; err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("stream loop: %w", err))
		}
	}

	if _, err := session.Stop(); err == nil {
		logger.Info("stopped running capture on shutdown")
	}
	session.Wait()

	if runErr != nil {
		logger.Error("car stopped", slog.String("error", runErr.Error()))
		return runErr
	}
	logger.Info("car stopped")
	return nil
}
