package server

import (
	"github.com/cs-isia-racer/car/internal/device"
	"github.com/cs-isia-racer/car/internal/state"
)

// Controls pairs each state mutation with the actuator write of the stored
// value. The returned value is the stored one even when the write fails.
type Controls struct {
	shared    *state.Shared
	actuators device.Actuators
}

func NewControls(shared *state.Shared, actuators device.Actuators) *Controls {
	return &Controls{shared: shared, actuators: actuators}
}

func (c *Controls) SetSteering(value float64) (float64, error) {
	stored := c.shared.Steering.Set(value)
	return stored, write(c.actuators.Steering, stored)
}

func (c *Controls) UpdateSteering(delta float64) (float64, error) {
	stored := c.shared.Steering.Update(delta)
	return stored, write(c.actuators.Steering, stored)
}

func (c *Controls) UpdateThrottle(delta float64) (float64, error) {
	stored := c.shared.Throttle.Update(delta)
	return stored, write(c.actuators.Throttle, stored)
}

func write(a device.Actuator, value float64) error {
	if a == nil {
		return nil
	}
	return a.Write(value)
}
