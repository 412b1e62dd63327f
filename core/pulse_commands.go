package core

import (
	"errors"

	"pulsecnc/protocol"
)

var errNoIO = errors.New("no io driver on this device")

// registerPulseCommands exposes the PulseEngine operations as commands.
// Masks are 32-bit pin masks.
func (d *Device) registerPulseCommands() {
	d.registry.Register("pulse_clear", "", d.handlePulseClear)
	d.registry.Register("pulse_delay", "us=%u", d.handlePulseDelay)
	d.registry.Register("pulse_step", "mask=%u width=%u", d.handlePulseStep)
	d.registry.Register("pulse_dir", "set=%u clear=%u", d.handlePulseDir)
	d.registry.Register("pulse_start", "", d.handlePulseStart)
	d.registry.Register("pulse_finalize", "", d.handlePulseFinalize)
	d.registry.Register("pulse_run", "", d.handlePulseRun)
	d.registry.Register("pulse_query", "", d.handlePulseQuery)
	d.registerResponse("pulse_status", "busy=%c queued=%u")
}

func (d *Device) handlePulseClear(data *[]byte) error {
	if err := d.engine.Clear(); err != nil {
		return err
	}
	d.mu.Lock()
	d.queued = 0
	d.mu.Unlock()
	return nil
}

func (d *Device) appended(err error) error {
	if err == nil {
		d.mu.Lock()
		d.queued++
		d.mu.Unlock()
	}
	return err
}

func (d *Device) handlePulseDelay(data *[]byte) error {
	us, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return d.appended(d.engine.AppendDelay(us))
}

func (d *Device) handlePulseStep(data *[]byte) error {
	mask, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	width, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return d.appended(d.engine.AppendPulse(mask, width))
}

func (d *Device) handlePulseDir(data *[]byte) error {
	set, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	clear, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return d.appended(d.engine.AppendDirection(set, clear))
}

func (d *Device) handlePulseStart(data *[]byte) error {
	return d.engine.StartAsync()
}

func (d *Device) handlePulseFinalize(data *[]byte) error {
	return d.engine.Finalize()
}

func (d *Device) handlePulseRun(data *[]byte) error {
	return d.engine.RunBlocking()
}

func (d *Device) handlePulseQuery(data *[]byte) error {
	busy, err := d.engine.IsBusy()
	if err != nil {
		return err
	}
	d.mu.Lock()
	queued := d.queued
	d.mu.Unlock()
	return d.sendResponse("pulse_status", func(out protocol.OutputBuffer) {
		if busy {
			protocol.EncodeVLQUint(out, 1)
		} else {
			protocol.EncodeVLQUint(out, 0)
		}
		protocol.EncodeVLQUint(out, queued)
	})
}

// registerIOCommands exposes endstop inputs and the spindle PWM
func (d *Device) registerIOCommands() {
	d.registry.Register("config_input_pullup", "pin=%c", d.handleConfigInput)
	d.registry.Register("config_output", "pin=%c", d.handleConfigOutput)
	d.registry.Register("gpio_set", "pin=%c value=%c", d.handleGPIOSet)
	d.registry.Register("gpio_read", "pin=%c", d.handleGPIORead)
	d.registerResponse("gpio_state", "pin=%c value=%c")
	d.registry.Register("pwm_config", "pin=%c cycle=%u", d.handlePWMConfig)
	d.registry.Register("pwm_set", "pin=%c value=%u", d.handlePWMSet)
	d.registry.Register("pwm_disable", "pin=%c", d.handlePWMDisable)
	d.registerResponse("pwm_info", "pin=%c max=%u")
}

func decodePin(data *[]byte) (uint32, error) {
	pin, err := protocol.DecodeVLQUint(data)
	return pin & 0xFF, err
}

func (d *Device) handleConfigInput(data *[]byte) error {
	pin, err := decodePin(data)
	if err != nil {
		return err
	}
	if d.gpio == nil {
		return errNoIO
	}
	return d.gpio.ConfigureInputPullUp(GPIOPin(pin))
}

func (d *Device) handleConfigOutput(data *[]byte) error {
	pin, err := decodePin(data)
	if err != nil {
		return err
	}
	if d.gpio == nil {
		return errNoIO
	}
	return d.gpio.ConfigureOutput(GPIOPin(pin))
}

func (d *Device) handleGPIOSet(data *[]byte) error {
	pin, err := decodePin(data)
	if err != nil {
		return err
	}
	value, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if d.gpio == nil {
		return errNoIO
	}
	return d.gpio.SetPin(GPIOPin(pin), value != 0)
}

func (d *Device) handleGPIORead(data *[]byte) error {
	pin, err := decodePin(data)
	if err != nil {
		return err
	}
	if d.gpio == nil {
		return errNoIO
	}
	level, err := d.gpio.GetPin(GPIOPin(pin))
	if err != nil {
		return err
	}
	return d.sendResponse("gpio_state", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, pin)
		if level {
			protocol.EncodeVLQUint(out, 1)
		} else {
			protocol.EncodeVLQUint(out, 0)
		}
	})
}

func (d *Device) handlePWMConfig(data *[]byte) error {
	pin, err := decodePin(data)
	if err != nil {
		return err
	}
	cycle, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if d.pwm == nil {
		return errNoIO
	}
	if _, err := d.pwm.ConfigureHardwarePWM(PWMPin(pin), cycle); err != nil {
		return err
	}
	return d.sendResponse("pwm_info", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, pin)
		protocol.EncodeVLQUint(out, d.pwm.GetMaxValue())
	})
}

func (d *Device) handlePWMSet(data *[]byte) error {
	pin, err := decodePin(data)
	if err != nil {
		return err
	}
	value, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if d.pwm == nil {
		return errNoIO
	}
	return d.pwm.SetDutyCycle(PWMPin(pin), PWMValue(value))
}

func (d *Device) handlePWMDisable(data *[]byte) error {
	pin, err := decodePin(data)
	if err != nil {
		return err
	}
	if d.pwm == nil {
		return errNoIO
	}
	return d.pwm.DisablePWM(PWMPin(pin))
}
