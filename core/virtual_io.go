package core

import (
	"fmt"
	"sync"
)

type pinMode uint8

const (
	pinUnconfigured pinMode = iota
	pinOutput
	pinInputPullUp
	pinPWM
)

// VirtualGPIO is an in-memory GPIODriver and PWMDriver. Inputs read high
// (pulled up) unless a source function has been attached with SetInput.
type VirtualGPIO struct {
	mu     sync.Mutex
	modes  map[GPIOPin]pinMode
	levels map[GPIOPin]bool
	inputs map[GPIOPin]func() bool
	duty   map[PWMPin]PWMValue
}

// NewVirtualGPIO creates a driver with every pin unconfigured
func NewVirtualGPIO() *VirtualGPIO {
	return &VirtualGPIO{
		modes:  make(map[GPIOPin]pinMode),
		levels: make(map[GPIOPin]bool),
		inputs: make(map[GPIOPin]func() bool),
		duty:   make(map[PWMPin]PWMValue),
	}
}

// SetInput attaches a function that produces the level of an input pin
func (g *VirtualGPIO) SetInput(pin GPIOPin, level func() bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inputs[pin] = level
}

// ConfigureOutput implements GPIODriver
func (g *VirtualGPIO) ConfigureOutput(pin GPIOPin) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.modes[pin] = pinOutput
	g.levels[pin] = false
	return nil
}

// ConfigureInputPullUp implements GPIODriver
func (g *VirtualGPIO) ConfigureInputPullUp(pin GPIOPin) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.modes[pin] = pinInputPullUp
	return nil
}

// SetPin implements GPIODriver
func (g *VirtualGPIO) SetPin(pin GPIOPin, value bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.modes[pin] != pinOutput {
		return fmt.Errorf("gpio %d is not an output", pin)
	}
	g.levels[pin] = value
	return nil
}

// GetPin implements GPIODriver
func (g *VirtualGPIO) GetPin(pin GPIOPin) (bool, error) {
	g.mu.Lock()
	mode := g.modes[pin]
	src := g.inputs[pin]
	level := g.levels[pin]
	g.mu.Unlock()

	switch mode {
	case pinInputPullUp:
		if src != nil {
			return src(), nil
		}
		return true, nil
	case pinOutput:
		return level, nil
	}
	return false, fmt.Errorf("gpio %d is not configured", pin)
}

// ConfigureHardwarePWM implements PWMDriver
func (g *VirtualGPIO) ConfigureHardwarePWM(pin PWMPin, cycleTicks uint32) (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.modes[GPIOPin(pin)] = pinPWM
	g.duty[pin] = 0
	return cycleTicks, nil
}

// SetDutyCycle implements PWMDriver
func (g *VirtualGPIO) SetDutyCycle(pin PWMPin, value PWMValue) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.modes[GPIOPin(pin)] != pinPWM {
		return fmt.Errorf("pin %d is not configured for pwm", pin)
	}
	if uint32(value) > g.GetMaxValue() {
		return fmt.Errorf("pwm value %d out of range", value)
	}
	g.duty[pin] = value
	return nil
}

// GetMaxValue implements PWMDriver
func (g *VirtualGPIO) GetMaxValue() uint32 {
	return 255
}

// DisablePWM implements PWMDriver
func (g *VirtualGPIO) DisablePWM(pin PWMPin) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.modes[GPIOPin(pin)] = pinOutput
	g.levels[GPIOPin(pin)] = false
	delete(g.duty, pin)
	return nil
}

// Duty returns the current duty value of a pwm pin and whether it is active
func (g *VirtualGPIO) Duty(pin PWMPin) (PWMValue, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.duty[pin]
	return v, ok
}
