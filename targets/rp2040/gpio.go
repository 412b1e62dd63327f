//go:build rp2040

package main

import (
	"machine"

	"pulsecnc/core"
)

// GPIODriver implements core.GPIODriver on the RP2040 pins
type GPIODriver struct {
	configured map[core.GPIOPin]machine.Pin
}

// NewGPIODriver creates a driver with no pins configured
func NewGPIODriver() *GPIODriver {
	return &GPIODriver{configured: make(map[core.GPIOPin]machine.Pin)}
}

func (d *GPIODriver) pin(pin core.GPIOPin) (machine.Pin, error) {
	if pin > 29 {
		return 0, errBadPin
	}
	return machine.Pin(pin), nil
}

// ConfigureOutput implements core.GPIODriver
func (d *GPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	p, err := d.pin(pin)
	if err != nil {
		return err
	}
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.Low()
	d.configured[pin] = p
	return nil
}

// ConfigureInputPullUp implements core.GPIODriver
func (d *GPIODriver) ConfigureInputPullUp(pin core.GPIOPin) error {
	p, err := d.pin(pin)
	if err != nil {
		return err
	}
	p.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	d.configured[pin] = p
	return nil
}

// SetPin implements core.GPIODriver; unconfigured pins become outputs
func (d *GPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	p, ok := d.configured[pin]
	if !ok {
		if err := d.ConfigureOutput(pin); err != nil {
			return err
		}
		p = d.configured[pin]
	}
	p.Set(value)
	return nil
}

// GetPin implements core.GPIODriver
func (d *GPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	p, ok := d.configured[pin]
	if !ok {
		return false, errNotConfigured
	}
	return p.Get(), nil
}
