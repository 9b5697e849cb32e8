package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cs-isia-racer/car/internal/observability"
	"github.com/cs-isia-racer/car/internal/types"
	"github.com/cs-isia-racer/car/internal/vision"
)

// Decision is what a Processor makes of one frame.
type Decision struct {
	Steering   float64
	Annotation *types.Annotation
}

// Processor turns an encoded frame into a steering decision.
type Processor interface {
	Process(frame []byte) (Decision, error)
}

// VisionProcessor steers from lane markings.
type VisionProcessor struct {
	estimator *vision.Estimator
}

func NewVisionProcessor(estimator *vision.Estimator) *VisionProcessor {
	return &VisionProcessor{estimator: estimator}
}

func (p *VisionProcessor) Process(frame []byte) (Decision, error) {
	res, annotated, err := p.estimator.ProcessFrame(frame)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Steering: res.Angle}
	if annotated != nil {
		d.Annotation = &types.Annotation{
			Image: base64.StdEncoding.EncodeToString(annotated),
			Angle: res.Angle,
			Lines: len(res.Kept),
		}
	}
	return d, nil
}

// Stats counts what the runner did with received telemetry.
type Stats struct {
	Received  uint64
	Processed uint64
	Failed    uint64
}

// Runner consumes the telemetry channel, runs a Processor on a fraction of the
// frames and sends the resulting command back on the same connection.
type Runner struct {
	url       string
	every     uint64
	processor Processor
	dialer    *websocket.Dialer
	writeWait time.Duration
	logger    *slog.Logger

	received  atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
}

// NewRunner builds a runner for the car at baseURL. rate is the fraction of
// telemetry messages to process; 0 processes every message.
func NewRunner(baseURL string, rate float64, processor Processor, logger *slog.Logger) (*Runner, error) {
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	wsURL, err := TelemetryURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Runner{
		url:       wsURL,
		every:     sampleEvery(rate),
		processor: processor,
		dialer:    &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		writeWait: 5 * time.Second,
		logger:    observability.WithComponent(observability.OrDefault(logger), "vision"),
	}, nil
}

// TelemetryURL derives the websocket endpoint from the car's base URL.
func TelemetryURL(baseURL string) (string, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return "", ErrMissingBaseURL
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func sampleEvery(rate float64) uint64 {
	if rate <= 0 || math.IsNaN(rate) {
		return 1
	}
	every := math.Round(1 / rate)
	if every < 1 {
		return 1
	}
	return uint64(every)
}

func (r *Runner) URL() string {
	return r.url
}

func (r *Runner) Stats() Stats {
	return Stats{
		Received:  r.received.Load(),
		Processed: r.processed.Load(),
		Failed:    r.failed.Load(),
	}
}

// Run connects and processes telemetry until ctx is done or the connection
// drops. The car does not reconnect clients; a dropped connection is returned
// and the caller decides whether to dial again.
func (r *Runner) Run(ctx context.Context) error {
	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("dialing %s: %w", r.url, err)
	}
	r.logger.Info("connected", slog.String("url", r.url), slog.Uint64("every", r.every))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading telemetry: %w", err)
		}
		reply, ok := r.handle(raw)
		if !ok {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(r.writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sending command: %w", err)
		}
	}
}

// handle returns the reply for one inbound message, if any.
func (r *Runner) handle(raw []byte) ([]byte, bool) {
	var msg types.Telemetry
	if err := json.Unmarshal(raw, &msg); err != nil || msg.State == nil {
		// relayed data from other clients lands here too
		return nil, false
	}
	n := r.received.Add(1)
	if (n-1)%r.every != 0 {
		return nil, false
	}

	frame, err := msg.State.Frame()
	if err == nil && len(frame) == 0 {
		err = errors.New("empty frame")
	}
	var d Decision
	if err == nil {
		d, err = r.processor.Process(frame)
	}
	if err != nil {
		if f := r.failed.Add(1); f == 1 || f%100 == 0 {
			r.logger.Warn("processing frame failed", slog.String("error", err.Error()), slog.Uint64("failures", f))
		}
		return nil, false
	}
	r.processed.Add(1)

	steering := d.Steering
	out, err := json.Marshal(types.ClientMessage{
		Command: &types.Command{Steering: &steering},
		Data:    d.Annotation,
	})
	if err != nil {
		r.logger.Warn("encoding command failed", slog.String("error", err.Error()))
		return nil, false
	}
	return out, true
}
