package device

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Health tracks faults that were tolerated instead of stopping the car.
type Health struct {
	mu      sync.Mutex
	reasons map[string]string
	faults  atomic.Uint64
}

func NewHealth() *Health {
	return &Health{reasons: make(map[string]string)}
}

// MarkDegraded records err as the latest fault of component.
func (h *Health) MarkDegraded(component string, err error) {
	if h == nil || err == nil {
		return
	}
	h.faults.Add(1)
	h.mu.Lock()
	h.reasons[component] = err.Error()
	h.mu.Unlock()
}

// Degraded reports whether any fault was tolerated, with a summary of the
// latest fault per component.
func (h *Health) Degraded() (bool, string) {
	if h == nil {
		return false, ""
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.reasons) == 0 {
		return false, ""
	}
	parts := make([]string, 0, len(h.reasons))
	for component, reason := range h.reasons {
		parts = append(parts, component+": "+reason)
	}
	sort.Strings(parts)
	return true, strings.Join(parts, "; ")
}

// Faults returns the number of tolerated faults.
func (h *Health) Faults() uint64 {
	if h == nil {
		return 0
	}
	return h.faults.Load()
}

// Guarded wraps an actuator. When swallow is set, write faults are logged and
// recorded on Health rather than returned.
type Guarded struct {
	name    string
	inner   Actuator
	swallow bool
	health  *Health
	logger  *slog.Logger
}

func Guard(name string, inner Actuator, swallow bool, health *Health, logger *slog.Logger) *Guarded {
	return &Guarded{name: name, inner: inner, swallow: swallow, health: health, logger: logger}
}

func (g *Guarded) Write(value float64) error {
	var err error
	if g.inner == nil {
		err = errPWMNotOpen
	} else {
		err = g.inner.Write(value)
	}
	if err == nil {
		return nil
	}
	if !g.swallow {
		return fmt.Errorf("%s actuator: %w", g.name, err)
	}
	g.health.MarkDegraded(g.name, err)
	if g.logger != nil {
		g.logger.Warn("actuator write failed, continuing degraded",
			slog.String("channel", g.name),
			slog.Float64("value", value),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
