//go:build rp2040

package main

import (
	"machine"

	"pulsecnc/core"
)

// pwmMax matches the 8-bit duty range hosts expect
const pwmMax = 255

// timerFreq converts cycle ticks to a period; ticks are microseconds
const timerFreq = 1000000

// pwmPeripheral abstracts over TinyGo's unexported *pwmGroup type
type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

// PWMDriver implements core.PWMDriver on the RP2040's 8 PWM slices.
// GPIO N belongs to slice (N>>1)&7, channel A for even pins and B for odd.
type PWMDriver struct {
	channels map[core.PWMPin]uint8
}

// NewPWMDriver creates a driver with no channels configured
func NewPWMDriver() *PWMDriver {
	return &PWMDriver{channels: make(map[core.PWMPin]uint8)}
}

// GetMaxValue implements core.PWMDriver
func (d *PWMDriver) GetMaxValue() uint32 {
	return pwmMax
}

// ConfigureHardwarePWM implements core.PWMDriver. Both channels of a slice
// share its period; the last configuration wins.
func (d *PWMDriver) ConfigureHardwarePWM(pin core.PWMPin, cycleTicks uint32) (uint32, error) {
	if pin > 29 {
		return 0, errBadPin
	}
	pwm := slice(pin)
	period := uint64(cycleTicks) * 1e9 / timerFreq
	if err := pwm.Configure(machine.PWMConfig{Period: period}); err != nil {
		return 0, err
	}
	channel, err := pwm.Channel(machine.Pin(pin))
	if err != nil {
		return 0, err
	}
	pwm.Set(channel, 0)
	d.channels[pin] = channel
	return cycleTicks, nil
}

// SetDutyCycle implements core.PWMDriver
func (d *PWMDriver) SetDutyCycle(pin core.PWMPin, value core.PWMValue) error {
	channel, ok := d.channels[pin]
	if !ok {
		return errNotConfigured
	}
	if value > pwmMax {
		value = pwmMax
	}
	pwm := slice(pin)
	pwm.Set(channel, uint32(value)*pwm.Top()/pwmMax)
	return nil
}

// DisablePWM implements core.PWMDriver. TinyGo cannot detach a pin from
// its slice, so the channel is held at zero duty.
func (d *PWMDriver) DisablePWM(pin core.PWMPin) error {
	channel, ok := d.channels[pin]
	if !ok {
		return nil
	}
	slice(pin).Set(channel, 0)
	delete(d.channels, pin)
	return nil
}

func slice(pin core.PWMPin) pwmPeripheral {
	switch (pin >> 1) & 7 {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	}
	return machine.PWM7
}
