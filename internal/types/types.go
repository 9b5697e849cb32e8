// Package types defines the JSON messages exchanged with telemetry clients
// and returned by the control surface.
package types

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// ClientID identifies a registered telemetry client for the lifetime of its
// connection.
type ClientID string

// NoClient excludes nobody from a broadcast.
const NoClient ClientID = ""

// State is the periodic snapshot sent to every client.
type State struct {
	Throttle float64 `json:"throttle"`
	Steering float64 `json:"steering"`
	// Image is the latest encoded frame, base64 encoded.
	Image string `json:"image"`
}

// Telemetry is the outbound envelope: {"state": {...}}.
type Telemetry struct {
	State *State `json:"state"`
}

// NewTelemetry builds a telemetry message from raw values.
func NewTelemetry(throttle, steering float64, frame []byte) Telemetry {
	return Telemetry{State: &State{
		Throttle: throttle,
		Steering: steering,
		Image:    base64.StdEncoding.EncodeToString(frame),
	}}
}

// Frame decodes the base64 image carried by the state.
func (s *State) Frame() ([]byte, error) {
	return base64.StdEncoding.DecodeString(s.Image)
}

// Command sets the steering to an absolute value.
type Command struct {
	Steering *float64 `json:"steering"`
}

// Inbound is a message received from a client. Command and Data may both be
// present; Data is opaque and relayed to peers unmodified.
type Inbound struct {
	Command *Command        `json:"command,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	// State is set when a client echoes telemetry back; it is ignored.
	State json.RawMessage `json:"state,omitempty"`
}

// Annotation is the data payload produced by a vision client.
type Annotation struct {
	Image string  `json:"image,omitempty"`
	Angle float64 `json:"angle"`
	Lines int     `json:"lines"`
}

// ValueResponse is the success body of the control surface.
type ValueResponse struct {
	Value any `json:"value"`
}

// ErrorResponse is the failure body of the control surface.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SessionRecord describes one capture session in the catalog.
type SessionRecord struct {
	ID        string     `json:"id"`
	Path      string     `json:"path"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	Frames    uint64     `json:"frames"`
}

// ClientMessage is what a vision client sends back: a steering command and,
// optionally, an annotation for other clients to display.
type ClientMessage struct {
	Command *Command    `json:"command,omitempty"`
	Data    *Annotation `json:"data,omitempty"`
}

// StreamStats describes the streaming loop.
type StreamStats struct {
	Running bool    `json:"running"`
	FPS     float64 `json:"fps"`
	Frames  uint64  `json:"frames"`
}

type CaptureHealth struct {
	Capturing bool   `json:"capturing"`
	Session   string `json:"session,omitempty"`
}

// HostStats is a coarse view of the machine the car runs on. Fields the host
// cannot report are nil.
type HostStats struct {
	Load1          *float64 `json:"load1"`
	MemUsedPercent *float64 `json:"mem_used_percent"`
}

// Health is the body of GET /health.
type Health struct {
	Status         string        `json:"status"`
	Degraded       bool          `json:"degraded"`
	DegradedReason string        `json:"degraded_reason,omitempty"`
	Clients        int           `json:"clients"`
	Stream         StreamStats   `json:"stream"`
	Capture        CaptureHealth `json:"capture"`
	Host           HostStats     `json:"host"`
}
