// Package device defines the camera and actuator collaborators driven by the
// car and provides the variants selected by configuration.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cs-isia-racer/car/internal/config"
	"github.com/cs-isia-racer/car/internal/observability"
)

// ErrCameraClosed is returned by Next once the camera can no longer produce frames.
var ErrCameraClosed = errors.New("camera closed")

// Camera produces an unbounded sequence of encoded frames. Next blocks until a
// frame is available; a non-context error is terminal.
type Camera interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Actuator accepts a normalized value in [-1, 1]. Writes are fire and forget.
type Actuator interface {
	Write(value float64) error
}

// Actuators groups the two output channels of the car.
type Actuators struct {
	Steering Actuator
	Throttle Actuator
}

// NewCamera constructs the camera variant named by cfg.Driver.
func NewCamera(ctx context.Context, cfg config.CameraConfig, logger *slog.Logger) (Camera, error) {
	logger = observability.WithComponent(observability.OrDefault(logger), "camera")
	switch cfg.Driver {
	case "mock":
		return NewMockCamera(cfg.Width, cfg.Height, cfg.FrameRate), nil
	case "zmq":
		return NewZMQCamera(ctx, cfg.Endpoint, cfg.LogEvery, logger)
	default:
		return nil, fmt.Errorf("unknown camera driver %q", cfg.Driver)
	}
}

// NewActuators constructs the actuator variant named by cfg.Driver and wraps
// each channel in a Guard. With cfg.Degraded set, write faults are swallowed
// and recorded on health.
func NewActuators(cfg config.ActuatorConfig, health *Health, logger *slog.Logger) (Actuators, error) {
	logger = observability.WithComponent(observability.OrDefault(logger), "actuator")

	var steering, throttle Actuator
	switch cfg.Driver {
	case "mock":
		steering = NewMockActuator("steering", logger)
		throttle = NewMockActuator("throttle", logger)
	case "sysfs":
		s, err := OpenSysfsPWM(cfg.Steering, cfg.Period, cfg.Unit)
		if err != nil {
			if !cfg.Degraded {
				return Actuators{}, fmt.Errorf("opening steering pwm: %w", err)
			}
			health.MarkDegraded("steering", err)
			logger.Warn("steering pwm unavailable, continuing degraded", slog.String("error", err.Error()))
		}
		t, err := OpenSysfsPWM(cfg.Throttle, cfg.Period, cfg.Unit)
		if err != nil {
			if !cfg.Degraded {
				return Actuators{}, fmt.Errorf("opening throttle pwm: %w", err)
			}
			health.MarkDegraded("throttle", err)
			logger.Warn("throttle pwm unavailable, continuing degraded", slog.String("error", err.Error()))
		}
		steering, throttle = s, t
	default:
		return Actuators{}, fmt.Errorf("unknown actuator driver %q", cfg.Driver)
	}

	return Actuators{
		Steering: Guard("steering", steering, cfg.Degraded, health, logger),
		Throttle: Guard("throttle", throttle, cfg.Degraded, health, logger),
	}, nil
}
