package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs-isia-racer/car/internal/observability"
	"github.com/cs-isia-racer/car/internal/types"
)

type fakeHandle struct {
	mu       sync.Mutex
	received [][]byte
	err      error
	closed   atomic.Bool
}

func (h *fakeHandle) Deliver(msg []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.received = append(h.received, msg)
	return nil
}

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

func (h *fakeHandle) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

func TestRegistryAddAssignsUniqueIDs(t *testing.T) {
	r := NewRegistry(observability.Discard())
	seen := map[types.ClientID]bool{}
	for i := 0; i < 50; i++ {
		id := r.Add(&fakeHandle{})
		require.NotEqual(t, types.NoClient, id)
		require.False(t, seen[id])
		seen[id] = true
	}
	assert.Equal(t, 50, r.Count())
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry(observability.Discard())
	id := r.Add(&fakeHandle{})
	assert.True(t, r.Remove(id))
	assert.False(t, r.Remove(id))
	assert.False(t, r.Remove("never-registered"))
	assert.Equal(t, 0, r.Count())
}

func TestBroadcastExcludesSender(t *testing.T) {
	r := NewRegistry(observability.Discard())
	a, b, c := &fakeHandle{}, &fakeHandle{}, &fakeHandle{}
	idA := r.Add(a)
	r.Add(b)
	r.Add(c)

	delivered := r.Broadcast([]byte("hello"), idA)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 1, c.count())

	assert.Equal(t, 3, r.Broadcast([]byte("all"), types.NoClient))
}

func TestBroadcastIsolatesFailingRecipients(t *testing.T) {
	r := NewRegistry(observability.Discard())
	healthy := &fakeHandle{}
	slow := &fakeHandle{err: ErrOutboxFull}
	gone := &fakeHandle{err: ErrClientClosed}
	broken := &fakeHandle{err: errors.New("unexpected")}
	r.Add(healthy)
	r.Add(slow)
	r.Add(gone)
	r.Add(broken)

	assert.Equal(t, 1, r.Broadcast([]byte("frame"), types.NoClient))
	assert.Equal(t, 1, healthy.count())
	assert.Equal(t, uint64(1), r.Dropped())

	// the slow client stays registered; closed and broken ones are removed
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, 1, r.Broadcast([]byte("frame"), types.NoClient))
	assert.Equal(t, 2, healthy.count())
}

func TestBroadcastConcurrentWithRemoval(t *testing.T) {
	r := NewRegistry(observability.Discard())
	handles := make([]*fakeHandle, 20)
	ids := make([]types.ClientID, 20)
	for i := range handles {
		handles[i] = &fakeHandle{}
		ids[i] = r.Add(handles[i])
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			r.Broadcast([]byte("tick"), types.NoClient)
		}
	}()
	go func() {
		defer wg.Done()
		for _, id := range ids[:10] {
			r.Remove(id)
		}
	}()
	wg.Wait()

	assert.Equal(t, 10, r.Count())
	before := make([]int, len(handles))
	for i, h := range handles {
		before[i] = h.count()
	}
	r.Broadcast([]byte("after"), types.NoClient)
	for i, h := range handles {
		if i < 10 {
			assert.Equal(t, before[i], h.count(), "removed client %d received a message", i)
		} else {
			assert.Equal(t, before[i]+1, h.count())
		}
	}
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry(observability.Discard())
	h := &fakeHandle{}
	r.Add(h)
	r.Close()
	assert.True(t, h.closed.Load())
	assert.Equal(t, 0, r.Count())
}
