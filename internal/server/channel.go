package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cs-isia-racer/car/internal/observability"
	"github.com/cs-isia-racer/car/internal/types"
)

var errServerClosing = errors.New("server shutting down")

// channel is the duplex link to one telemetry client. The send direction owns
// all writes to conn; the receive direction owns all reads. Either one faulting
// tears both down.
type channel struct {
	srv    *Server
	conn   *websocket.Conn
	id     types.ClientID
	outbox chan []byte
	logger *slog.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

func newChannel(srv *Server, conn *websocket.Conn) *channel {
	return &channel{
		srv:    srv,
		conn:   conn,
		outbox: make(chan []byte, srv.cfg.Server.OutboxSize),
		logger: srv.logger,
		closed: make(chan struct{}),
	}
}

// Deliver enqueues msg for the send direction without blocking.
func (c *channel) Deliver(msg []byte) error {
	select {
	case <-c.closed:
		return ErrClientClosed
	default:
	}
	select {
	case c.outbox <- msg:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Close tears the channel down from the server side.
func (c *channel) Close() error {
	c.teardown(errServerClosing)
	return nil
}

func (c *channel) start() {
	c.id = c.srv.registry.Add(c)
	c.logger = observability.WithClient(c.srv.logger, string(c.id))
	c.logger.Info("client connected", slog.String("remote_addr", c.conn.RemoteAddr().String()))

	go c.sendLoop()
	go c.receiveLoop()
}

func (c *channel) teardown(reason error) {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
		c.srv.registry.Remove(c.id)
		if reason != nil {
			c.logger.Info("client disconnected", slog.String("reason", reason.Error()))
		} else {
			c.logger.Info("client disconnected")
		}
	})
}

func (c *channel) sendLoop() {
	cfg := c.srv.cfg.Server
	telemetry := time.NewTicker(cfg.TelemetryInterval)
	defer telemetry.Stop()
	ping := time.NewTicker(pingInterval(cfg.PongWait))
	defer ping.Stop()

	for {
		var (
			kind    = websocket.TextMessage
			payload []byte
		)
		select {
		case <-c.closed:
			return
		case msg := <-c.outbox:
			payload = msg
		case <-telemetry.C:
			msg, err := json.Marshal(c.srv.snapshot())
			if err != nil {
				c.logger.Warn("encoding telemetry failed", slog.String("error", err.Error()))
				continue
			}
			payload = msg
		case <-ping.C:
			kind = websocket.PingMessage
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
		if err := c.conn.WriteMessage(kind, payload); err != nil {
			c.teardown(fmt.Errorf("write: %w", err))
			return
		}
	}
}

func (c *channel) receiveLoop() {
	cfg := c.srv.cfg.Server
	c.conn.SetReadLimit(cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.teardown(fmt.Errorf("read: %w", err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := c.dispatch(raw); err != nil {
			c.teardown(err)
			return
		}
	}
}

// dispatch handles one inbound message. A message may carry both a command and
// data; data is relayed to the other clients byte for byte.
func (c *channel) dispatch(raw []byte) error {
	var msg types.Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("malformed message: %w", err)
	}

	if msg.Command != nil && msg.Command.Steering != nil {
		stored, err := c.srv.controls.SetSteering(*msg.Command.Steering)
		if err != nil {
			return fmt.Errorf("applying steering command: %w", err)
		}
		c.logger.Debug("steering command", slog.Float64("requested", *msg.Command.Steering), slog.Float64("stored", stored))
	}

	if len(msg.Data) > 0 && string(msg.Data) != "null" {
		c.srv.registry.Broadcast(raw, c.id)
	}
	return nil
}

func pingInterval(pongWait time.Duration) time.Duration {
	if pongWait <= 0 {
		return 54 * time.Second
	}
	return (pongWait * 9) / 10
}
