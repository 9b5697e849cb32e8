// Package state holds the mutable values shared between the streaming loop,
// telemetry clients and the control surface. Each value has its own lock;
// nothing here performs I/O.
package state

import (
	"math"
	"sync"

	"github.com/cs-isia-racer/car/internal/config"
)

// Value is a float clamped to [min, max] on every mutation.
type Value struct {
	mu       sync.Mutex
	v        float64
	min, max float64
}

// NewValue returns a Value holding clamp(initial).
func NewValue(initial, min, max float64) *Value {
	v := &Value{min: min, max: max}
	v.v = v.clamp(initial)
	return v
}

func (v *Value) Get() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.v
}

// Update adds delta to the current value under a single lock acquisition and
// returns the stored result. A NaN delta leaves the value unchanged.
func (v *Value) Update(delta float64) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !math.IsNaN(delta) {
		v.v = v.clamp(v.v + delta)
	}
	return v.v
}

// Set stores clamp(x) and returns it. NaN leaves the value unchanged.
func (v *Value) Set(x float64) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !math.IsNaN(x) {
		v.v = v.clamp(x)
	}
	return v.v
}

// Bounds returns the inclusive range of the value.
func (v *Value) Bounds() (float64, float64) {
	return v.min, v.max
}

func (v *Value) clamp(x float64) float64 {
	if math.IsNaN(x) {
		return v.v
	}
	return math.Max(v.min, math.Min(x, v.max))
}

// Shared is the steering/throttle pair driven by clients. The two fields are
// independent: a reader may observe them at different mutation instants.
type Shared struct {
	Steering *Value
	Throttle *Value
}

func NewShared() *Shared {
	return &Shared{
		Steering: NewValue(0, config.MinSteering, config.MaxSteering),
		Throttle: NewValue(0, config.MinThrottle, config.MaxThrottle),
	}
}
