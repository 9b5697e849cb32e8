package state

import "sync"

// FrameBuffer is a single-slot cache of the latest encoded frame. Each Write
// fully replaces the previous frame; there is no queue.
type FrameBuffer struct {
	mu      sync.Mutex
	frame   []byte
	version uint64
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Write stores a copy of frame, replacing whatever was held.
func (b *FrameBuffer) Write(frame []byte) {
	buf := make([]byte, len(frame))
	copy(buf, frame)

	b.mu.Lock()
	b.frame = buf
	b.version++
	b.mu.Unlock()
}

// Read returns a copy of the held frame, or an empty slice before any write.
func (b *FrameBuffer) Read() []byte {
	frame, _ := b.ReadVersion()
	return frame
}

// ReadVersion returns a copy of the held frame together with the number of
// writes seen so far. Version 0 means nothing was ever written.
func (b *FrameBuffer) ReadVersion() ([]byte, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.frame))
	copy(out, b.frame)
	return out, b.version
}
