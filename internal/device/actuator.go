package device

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cs-isia-racer/car/internal/config"
)

var errPWMNotOpen = errors.New("pwm channel not open")

// MockActuator records writes instead of driving hardware.
type MockActuator struct {
	mu     sync.Mutex
	name   string
	last   float64
	writes int
	fail   error
	logger *slog.Logger
}

func NewMockActuator(name string, logger *slog.Logger) *MockActuator {
	return &MockActuator{name: name, logger: logger}
}

func (m *MockActuator) Write(value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.last = value
	m.writes++
	if m.logger != nil {
		m.logger.Debug("actuator write", slog.String("channel", m.name), slog.Float64("value", value))
	}
	return nil
}

// FailWith makes every following Write return err. Pass nil to recover.
func (m *MockActuator) FailWith(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// Last returns the last written value and the number of successful writes.
func (m *MockActuator) Last() (float64, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.writes
}

// SysfsPWM drives a Linux sysfs PWM channel. A value v maps to a pulse of
// Neutral+Span*v units, each unit lasting `unit`.
type SysfsPWM struct {
	mu      sync.Mutex
	path    string
	neutral float64
	span    float64
	unit    time.Duration
}

// OpenSysfsPWM configures the period of the channel at ch.Path and enables it.
func OpenSysfsPWM(ch config.PWMChannelConfig, period, unit time.Duration) (*SysfsPWM, error) {
	if ch.Path == "" {
		return nil, fmt.Errorf("pwm path is required")
	}
	if unit <= 0 {
		return nil, fmt.Errorf("pwm unit must be positive")
	}
	p := &SysfsPWM{path: ch.Path, neutral: ch.Neutral, span: ch.Span, unit: unit}
	if err := p.writeAttr("period", strconv.FormatInt(period.Nanoseconds(), 10)); err != nil {
		return nil, err
	}
	if err := p.Write(0); err != nil {
		return nil, err
	}
	if err := p.writeAttr("enable", "1"); err != nil {
		return nil, err
	}
	return p, nil
}

// Pulse returns the pulse width, in device units, for a normalized value.
func (p *SysfsPWM) Pulse(value float64) float64 {
	return p.neutral + p.span*value
}

func (p *SysfsPWM) Write(value float64) error {
	if p == nil {
		return errPWMNotOpen
	}
	duty := time.Duration(p.Pulse(value) * float64(p.unit))
	return p.writeAttr("duty_cycle", strconv.FormatInt(duty.Nanoseconds(), 10))
}

func (p *SysfsPWM) writeAttr(name, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.WriteFile(filepath.Join(p.path, name), []byte(value), 0o644); err != nil {
		return fmt.Errorf("writing pwm %s: %w", name, err)
	}
	return nil
}
