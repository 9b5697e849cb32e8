package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cs-isia-racer/car/internal/observability"
	"github.com/cs-isia-racer/car/internal/types"
)

var (
	// ErrOutboxFull means the recipient is not keeping up; the message is dropped
	// for that recipient only.
	ErrOutboxFull = errors.New("client outbox full")
	// ErrClientClosed means the recipient has torn down.
	ErrClientClosed = errors.New("client closed")
)

// Handle is the registry's view of a connected client. Deliver must not block.
type Handle interface {
	Deliver(msg []byte) error
}

// Registry maps client ids to their handles.
type Registry struct {
	mu      sync.Mutex
	clients map[types.ClientID]Handle
	logger  *slog.Logger

	dropped atomic.Uint64
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		clients: make(map[types.ClientID]Handle),
		logger:  observability.WithComponent(observability.OrDefault(logger), "registry"),
	}
}

// Add registers h under a fresh id.
func (r *Registry) Add(h Handle) types.ClientID {
	id := types.ClientID(uuid.NewString())
	r.mu.Lock()
	r.clients[id] = h
	n := len(r.clients)
	r.mu.Unlock()
	r.logger.Debug("client registered", slog.String("client_id", string(id)), slog.Int("clients", n))
	return id
}

// Remove deletes id. It reports whether id was registered.
func (r *Registry) Remove(id types.ClientID) bool {
	r.mu.Lock()
	_, ok := r.clients[id]
	delete(r.clients, id)
	n := len(r.clients)
	r.mu.Unlock()
	if ok {
		r.logger.Debug("client removed", slog.String("client_id", string(id)), slog.Int("clients", n))
	}
	return ok
}

// Broadcast hands msg to every client except exclude and returns how many
// accepted it. A failing recipient never affects the others: a full outbox
// drops the message for that recipient, and a closed one is removed once the
// critical section ends.
func (r *Registry) Broadcast(msg []byte, exclude types.ClientID) int {
	var stale []types.ClientID
	delivered := 0

	r.mu.Lock()
	for id, h := range r.clients {
		if id == exclude {
			continue
		}
		switch err := h.Deliver(msg); {
		case err == nil:
			delivered++
		case errors.Is(err, ErrOutboxFull):
			r.dropped.Add(1)
		default:
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		r.Remove(id)
	}
	return delivered
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Close removes every client and closes those that support it.
func (r *Registry) Close() {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.clients))
	for id, h := range r.clients {
		handles = append(handles, h)
		delete(r.clients, id)
	}
	r.mu.Unlock()

	for _, h := range handles {
		if c, ok := h.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// Dropped returns the number of messages dropped on full outboxes.
func (r *Registry) Dropped() uint64 {
	return r.dropped.Load()
}
