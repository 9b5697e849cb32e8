// Package client talks to a running car: the control surface over HTTP and
// the telemetry channel over websocket.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cs-isia-racer/car/internal/types"
)

// ErrMissingBaseURL is returned when a Control is built without a base URL.
var ErrMissingBaseURL = errors.New("missing base url")

// RequestError carries the status and error body of a failed request.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// Control is an HTTP client for the car's control surface.
type Control struct {
	baseURL string
	client  *http.Client
}

// NewControl builds a client for baseURL, either host:port or a full URL.
func NewControl(baseURL string, timeout time.Duration) (*Control, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Control{baseURL: baseURL, client: &http.Client{Timeout: timeout}}, nil
}

func (c *Control) BaseURL() string {
	return c.baseURL
}

// Capturing reports whether a capture session is running.
func (c *Control) Capturing(ctx context.Context) (bool, error) {
	return c.boolValue(ctx, "/capture")
}

// StartCapture starts a session writing into out, or into the car's default
// directory when out is empty.
func (c *Control) StartCapture(ctx context.Context, out string) error {
	path := "/capture/start"
	if out != "" {
		path += "?out=" + url.QueryEscape(out)
	}
	_, err := c.boolValue(ctx, path)
	return err
}

func (c *Control) StopCapture(ctx context.Context) error {
	_, err := c.boolValue(ctx, "/capture/stop")
	return err
}

// StartStream reports whether the streaming loop is running.
func (c *Control) StartStream(ctx context.Context) (bool, error) {
	return c.boolValue(ctx, "/stream/start")
}

// Steer moves the steering by delta and returns the stored value.
func (c *Control) Steer(ctx context.Context, delta float64) (float64, error) {
	return c.floatValue(ctx, "/steer/"+formatFloat(delta))
}

func (c *Control) SetSteering(ctx context.Context, value float64) (float64, error) {
	return c.floatValue(ctx, "/steer/set/"+formatFloat(value))
}

func (c *Control) Throttle(ctx context.Context, delta float64) (float64, error) {
	return c.floatValue(ctx, "/throttle/"+formatFloat(delta))
}

func (c *Control) Health(ctx context.Context) (types.Health, error) {
	var health types.Health
	err := c.get(ctx, "/health", &health)
	return health, err
}

func (c *Control) Sessions(ctx context.Context, limit int) ([]types.SessionRecord, error) {
	path := "/capture/sessions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var records []types.SessionRecord
	err := c.get(ctx, path, &records)
	return records, err
}

// PollHealth fetches /health every interval and hands each result to update
// until ctx is done. A failed fetch is passed as err.
func (c *Control) PollHealth(ctx context.Context, interval time.Duration, update func(types.Health, error)) {
	if update == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		update(c.Health(ctx))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Control) boolValue(ctx context.Context, path string) (bool, error) {
	var resp struct {
		Value bool `json:"value"`
	}
	err := c.get(ctx, path, &resp)
	return resp.Value, err
}

func (c *Control) floatValue(ctx context.Context, path string) (float64, error) {
	var resp struct {
		Value float64 `json:"value"`
	}
	err := c.get(ctx, path, &resp)
	return resp.Value, err
}

func (c *Control) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e types.ErrorResponse
		if json.Unmarshal(body, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(body))
		}
		return &RequestError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
