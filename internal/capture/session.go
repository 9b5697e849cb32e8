// Package capture persists camera frames to disk during a recording session.
//
// A Session is either Idle or Running. Start moves it to Running and launches
// a persistence task that polls the frame tap; Stop flips it back to Idle and
// the task notices on its next poll, so stopping has a latency of at most one
// poll interval.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cs-isia-racer/car/internal/config"
	"github.com/cs-isia-racer/car/internal/observability"
	"github.com/cs-isia-racer/car/internal/state"
)

// State conflicts. The messages are part of the control surface.
var (
	ErrAlreadyCapturing = errors.New("already capturing")
	ErrExistingTarget   = errors.New("can't start capture into existing folder")
	ErrNotCapturing     = errors.New("no capture to stop")
)

// IsStateConflict reports whether err was caused by the session state rather
// than by storage.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrAlreadyCapturing) ||
		errors.Is(err, ErrExistingTarget) ||
		errors.Is(err, ErrNotCapturing)
}

// Recorder is notified when sessions begin and end.
type Recorder interface {
	SessionStarted(ctx context.Context, info Info) error
	SessionStopped(ctx context.Context, info Info) error
}

// Info describes a session.
type Info struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitzero"`
	Frames    uint64    `json:"frames"`
}

type Options struct {
	PollInterval time.Duration
	Extension    string
	Journal      bool
}

func OptionsFromConfig(cfg config.CaptureConfig) Options {
	return Options{
		PollInterval: cfg.PollInterval,
		Extension:    cfg.Extension,
		Journal:      cfg.Journal,
	}
}

type run struct {
	id        string
	path      string
	startedAt time.Time
	stoppedAt time.Time
	frames    atomic.Uint64
	failures  atomic.Uint64
}

func (r *run) info() Info {
	return Info{
		ID:        r.id,
		Path:      r.path,
		StartedAt: r.startedAt,
		StoppedAt: r.stoppedAt,
		Frames:    r.frames.Load(),
	}
}

// Session is the capture state machine. The zero value is not usable; use New.
type Session struct {
	opts     Options
	shared   *state.Shared
	tap      *state.FrameBuffer
	recorder Recorder
	logger   *slog.Logger

	mu      sync.Mutex
	current *run

	wg sync.WaitGroup
}

func New(shared *state.Shared, opts Options, logger *slog.Logger) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second / 60
	}
	if opts.Extension == "" {
		opts.Extension = "jpg"
	}
	return &Session{
		opts:   opts,
		shared: shared,
		tap:    state.NewFrameBuffer(),
		logger: observability.WithComponent(observability.OrDefault(logger), "capture"),
	}
}

// WithRecorder sets the recorder notified of session boundaries.
func (s *Session) WithRecorder(r Recorder) *Session {
	s.recorder = r
	return s
}

// Capturing reports whether a session is Running.
func (s *Session) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Current returns the running session, if any.
func (s *Session) Current() (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Info{}, false
	}
	return s.current.info(), true
}

// Tap hands the latest frame to the persistence task.
func (s *Session) Tap(frame []byte) {
	s.tap.Write(frame)
}

// Start begins a session writing into outputPath. It fails without side
// effects if a session is running or outputPath already exists.
func (s *Session) Start(ctx context.Context, outputPath string) (Info, error) {
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return Info{}, ErrAlreadyCapturing
	}
	if _, err := os.Stat(outputPath); err == nil {
		s.mu.Unlock()
		return Info{}, ErrExistingTarget
	} else if !errors.Is(err, os.ErrNotExist) {
		s.mu.Unlock()
		return Info{}, fmt.Errorf("checking capture target: %w", err)
	}

	_, baseline := s.tap.ReadVersion()
	r := &run{
		id:        ulid.Make().String(),
		path:      outputPath,
		startedAt: time.Now(),
	}
	s.current = r
	s.wg.Add(1)
	s.mu.Unlock()

	info := r.info()
	s.logger.Info("capture started", slog.String("session", info.ID), slog.String("path", outputPath))
	if s.recorder != nil {
		if err := s.recorder.SessionStarted(ctx, info); err != nil {
			s.logger.Warn("recording session start failed", slog.String("error", err.Error()))
		}
	}

	go s.persist(r, baseline)
	return info, nil
}

// Stop returns the session to Idle. Frames tapped before the persistence task
// observes the change may still be written.
func (s *Session) Stop() (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Info{}, ErrNotCapturing
	}
	r := s.current
	r.stoppedAt = time.Now()
	s.current = nil
	return r.info(), nil
}

// Wait blocks until every persistence task has exited.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) active(r *run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == r
}

func (s *Session) persist(r *run, lastVersion uint64) {
	defer s.wg.Done()
	logger := s.logger.With(slog.String("session", r.id))

	var journal *Journal
	defer func() {
		if journal != nil {
			if err := journal.Close(); err != nil {
				logger.Warn("closing journal failed", slog.String("error", err.Error()))
			}
		}
		final := r.info()
		logger.Info("capture stopped",
			slog.Uint64("frames", final.Frames),
			slog.Uint64("write_failures", r.failures.Load()),
		)
		if s.recorder != nil {
			if err := s.recorder.SessionStopped(context.Background(), final); err != nil {
				logger.Warn("recording session stop failed", slog.String("error", err.Error()))
			}
		}
	}()

	journaling := s.opts.Journal
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for range ticker.C {
		frame, version := s.tap.ReadVersion()
		if !s.active(r) {
			return
		}
		if version == lastVersion || len(frame) == 0 {
			continue
		}
		lastVersion = version

		seq := r.frames.Load()
		steering := s.shared.Steering.Get()
		throttle := s.shared.Throttle.Get()
		name, err := WriteFrame(r.path, seq, steering, throttle, s.opts.Extension, frame)
		if err != nil {
			r.failures.Add(1)
			logger.Error("writing frame failed", slog.Uint64("seq", seq), slog.String("error", err.Error()))
			continue
		}
		r.frames.Add(1)
		logger.Debug("saved frame", slog.String("file", name))

		if !journaling {
			continue
		}
		if journal == nil {
			if journal, err = OpenJournal(r.path); err != nil {
				logger.Warn("opening journal failed, journaling disabled for session", slog.String("error", err.Error()))
				journaling = false
				journal = nil
				continue
			}
		}
		entry := Entry{
			Seq:       seq,
			File:      name,
			Steering:  steering,
			Throttle:  throttle,
			UnixNanos: time.Now().UnixNano(),
		}
		if err := journal.Record(entry); err != nil {
			logger.Warn("journal write failed", slog.String("error", err.Error()))
		}
	}
}
