// Package stream runs the loop that pulls camera frames and fans them out to
// telemetry clients and the capture tap.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cs-isia-racer/car/internal/config"
	"github.com/cs-isia-racer/car/internal/device"
	"github.com/cs-isia-racer/car/internal/observability"
	"github.com/cs-isia-racer/car/internal/state"
	"github.com/cs-isia-racer/car/internal/types"
)

// ErrAlreadyRunning is returned by Run when the loop is already running.
var ErrAlreadyRunning = errors.New("stream loop already running")

// Broadcaster fans a message out to registered clients.
type Broadcaster interface {
	Broadcast(msg []byte, exclude types.ClientID) int
}

// Tap receives frames while a capture session is running.
type Tap interface {
	Capturing() bool
	Tap(frame []byte)
}

// Stats is a diagnostic snapshot of the loop.
type Stats = types.StreamStats

type Loop struct {
	camera  device.Camera
	shared  *state.Shared
	buffer  *state.FrameBuffer
	clients Broadcaster
	capture Tap
	pull    time.Duration
	logger  *slog.Logger

	running atomic.Bool
	frames  atomic.Uint64

	mu     sync.Mutex
	window []time.Duration
	next   int
	filled int
}

func New(cfg config.StreamConfig, camera device.Camera, shared *state.Shared, buffer *state.FrameBuffer, clients Broadcaster, capture Tap, logger *slog.Logger) *Loop {
	size := cfg.FPSWindow
	if size < 1 {
		size = 20
	}
	return &Loop{
		camera:  camera,
		shared:  shared,
		buffer:  buffer,
		clients: clients,
		capture: capture,
		pull:    cfg.PullInterval,
		logger:  observability.WithComponent(observability.OrDefault(logger), "stream"),
		window:  make([]time.Duration, size),
	}
}

// Run pulls frames until ctx is done or the camera fails. A camera failure is
// terminal and returned to the caller; cancellation returns nil.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.running.Store(false)

	l.logger.Info("stream loop started")
	last := time.Now()
	for {
		frame, err := l.camera.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("stream loop stopped")
				return nil
			}
			l.logger.Error("camera failed, stopping stream loop", slog.String("error", err.Error()))
			return fmt.Errorf("camera: %w", err)
		}

		l.cycle(frame)

		now := time.Now()
		l.observe(now.Sub(last))
		last = now

		if err := l.pace(ctx, now); err != nil {
			l.logger.Info("stream loop stopped")
			return nil
		}
	}
}

func (l *Loop) cycle(frame []byte) {
	l.buffer.Write(frame)
	msg := types.NewTelemetry(l.shared.Throttle.Get(), l.shared.Steering.Get(), frame)
	payload, err := json.Marshal(msg)
	if err != nil {
		l.logger.Warn("encoding telemetry failed", slog.String("error", err.Error()))
	} else if l.clients != nil {
		l.clients.Broadcast(payload, types.NoClient)
	}
	if l.capture != nil && l.capture.Capturing() {
		l.capture.Tap(frame)
	}
	if n := l.frames.Add(1); n%1000 == 0 {
		l.logger.Debug("stream progress", slog.Uint64("frames", n), slog.Float64("fps", l.FPS()))
	}
}

// pace sleeps out the remainder of the pull interval, if one is configured.
func (l *Loop) pace(ctx context.Context, cycleEnd time.Time) error {
	if l.pull <= 0 {
		return ctx.Err()
	}
	wait := l.pull - time.Since(cycleEnd)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Loop) observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.window[l.next] = d
	l.next = (l.next + 1) % len(l.window)
	if l.filled < len(l.window) {
		l.filled++
	}
}

// FPS returns the achieved frame rate averaged over the last window of cycles.
func (l *Loop) FPS() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.filled == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < l.filled; i++ {
		total += l.window[i]
	}
	if total <= 0 {
		return 0
	}
	return float64(l.filled) / total.Seconds()
}

func (l *Loop) Running() bool {
	return l.running.Load()
}

func (l *Loop) Stats() Stats {
	return Stats{
		Running: l.Running(),
		FPS:     l.FPS(),
		Frames:  l.frames.Load(),
	}
}
