package state

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueClampsInitial(t *testing.T) {
	assert.Equal(t, 1.0, NewValue(5, -1, 1).Get())
	assert.Equal(t, -1.0, NewValue(-5, -1, 1).Get())
	assert.Equal(t, 0.25, NewValue(0.25, -1, 1).Get())
}

func TestValueUpdateStaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	v := NewValue(0, -1, 1)
	for i := 0; i < 1000; i++ {
		delta := (rng.Float64() - 0.5) * 4
		got := v.Update(delta)
		require.GreaterOrEqual(t, got, -1.0)
		require.LessOrEqual(t, got, 1.0)
		require.Equal(t, got, v.Get())
	}
}

func TestValueSet(t *testing.T) {
	v := NewValue(0, -1, 1)
	assert.Equal(t, 0.5, v.Set(0.5))
	assert.Equal(t, 1.0, v.Set(math.Inf(1)))
	assert.Equal(t, -1.0, v.Set(-3))
	assert.Equal(t, -1.0, v.Set(math.NaN()))
	assert.Equal(t, -1.0, v.Update(math.NaN()))
}

func TestValueConcurrentUpdates(t *testing.T) {
	v := NewValue(0, -100, 100)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v.Update(0.01)
			}
		}()
	}
	wg.Wait()
	// no lost updates: 50*100*0.01 = 50
	assert.InDelta(t, 50.0, v.Get(), 1e-6)
}

func TestSharedDefaults(t *testing.T) {
	s := NewShared()
	assert.Equal(t, 0.0, s.Steering.Get())
	assert.Equal(t, 0.0, s.Throttle.Get())
	lo, hi := s.Steering.Bounds()
	assert.Equal(t, -1.0, lo)
	assert.Equal(t, 1.0, hi)
}

func TestFrameBufferEmpty(t *testing.T) {
	b := NewFrameBuffer()
	frame, version := b.ReadVersion()
	assert.Empty(t, frame)
	assert.Zero(t, version)
}

func TestFrameBufferLatestWins(t *testing.T) {
	b := NewFrameBuffer()
	b.Write([]byte("A"))
	b.Write([]byte("B"))
	assert.Equal(t, []byte("B"), b.Read())

	_, version := b.ReadVersion()
	assert.Equal(t, uint64(2), version)
}

func TestFrameBufferCopies(t *testing.T) {
	b := NewFrameBuffer()
	src := []byte("frame")
	b.Write(src)
	src[0] = 'X'

	got := b.Read()
	assert.Equal(t, []byte("frame"), got)
	got[0] = 'Y'
	assert.Equal(t, []byte("frame"), b.Read())
}

func TestFrameBufferNoTornReads(t *testing.T) {
	b := NewFrameBuffer()
	frames := [][]byte{
		[]byte("aaaaaaaaaaaaaaaa"),
		[]byte("bbbbbbbbbbbbbbbbbbbbbbbb"),
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			b.Write(frames[i%2])
		}
	}()
	for i := 0; i < 2000; i++ {
		got := b.Read()
		if len(got) == 0 {
			continue
		}
		require.True(t, string(got) == string(frames[0]) || string(got) == string(frames[1]))
	}
	wg.Wait()
}
