package mcu

import (
	"context"
	"fmt"
	"time"

	"pulsecnc/core"
)

// busyPollInterval is the sleep between pulse_query polls in RunBlocking
const busyPollInterval = time.Millisecond

// SerialEngine is a core.PulseEngine whose buffer lives on a remote MCU.
// Append calls are packed into blocks and sent when a block fills or the
// engine is started, queried or finalized.
type SerialEngine struct {
	m     *MCU
	batch *Batch
}

// NewSerialEngine creates an engine on an identified MCU
func NewSerialEngine(m *MCU) (*SerialEngine, error) {
	for _, name := range []string{"pulse_clear", "pulse_delay", "pulse_step", "pulse_dir", "pulse_start", "pulse_finalize", "pulse_query"} {
		if _, err := m.Command(name); err != nil {
			return nil, fmt.Errorf("mcu is not a pulse engine: %w", err)
		}
	}
	return &SerialEngine{m: m, batch: m.NewBatch()}, nil
}

// Info implements core.InfoProvider from the dictionary constants
func (e *SerialEngine) Info() core.PulseEngineInfo {
	info := core.PulseEngineInfo{Name: "serial"}
	if dict := e.m.Dictionary(); dict != nil {
		if name, ok := dict.Config["PULSE_ENGINE"].(string); ok {
			info.Name = "serial/" + name
		}
	}
	if v, ok := e.m.Constant("PULSE_MIN_US"); ok {
		info.MinPulseUS = uint32(v)
	}
	if v, ok := e.m.Constant("PULSE_MAX_DELAY_US"); ok {
		info.MaxDelayUS = uint32(v)
	}
	return info
}

// Clear implements core.PulseEngine
func (e *SerialEngine) Clear() error {
	e.batch.Discard()
	return e.m.Send(context.Background(), "pulse_clear")
}

// AppendDelay implements core.PulseEngine
func (e *SerialEngine) AppendDelay(us uint32) error {
	return e.batch.Add(context.Background(), "pulse_delay", us)
}

// AppendPulse implements core.PulseEngine
func (e *SerialEngine) AppendPulse(mask uint32, widthUS uint32) error {
	return e.batch.Add(context.Background(), "pulse_step", mask, widthUS)
}

// AppendDirection implements core.PulseEngine
func (e *SerialEngine) AppendDirection(set, clear uint32) error {
	return e.batch.Add(context.Background(), "pulse_dir", set, clear)
}

// IsBusy implements core.PulseEngine. It may be called from another
// goroutine while a move is being appended.
func (e *SerialEngine) IsBusy() (bool, error) {
	ctx := context.Background()
	if err := e.batch.Flush(ctx); err != nil {
		return false, err
	}
	status, err := e.m.Query(ctx, "pulse_query", "pulse_status")
	if err != nil {
		return false, err
	}
	return status.Uint("busy") != 0, nil
}

// StartAsync implements core.PulseEngine
func (e *SerialEngine) StartAsync() error {
	ctx := context.Background()
	if err := e.batch.Flush(ctx); err != nil {
		return err
	}
	return e.m.Send(ctx, "pulse_start")
}

// Finalize implements core.PulseEngine
func (e *SerialEngine) Finalize() error {
	ctx := context.Background()
	if err := e.batch.Flush(ctx); err != nil {
		return err
	}
	return e.m.Send(ctx, "pulse_finalize")
}

// RunBlocking implements core.PulseEngine. The MCU plays the buffer in the
// background so no ACK waits on motion; completion is polled.
func (e *SerialEngine) RunBlocking() error {
	if err := e.StartAsync(); err != nil {
		return err
	}
	if err := e.Finalize(); err != nil {
		return err
	}
	for {
		busy, err := e.IsBusy()
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
		time.Sleep(busyPollInterval)
	}
}

// SerialIO drives MCU pins: a core.GPIODriver for endstops and a
// core.PWMDriver for the spindle.
type SerialIO struct {
	m      *MCU
	maxPWM uint32
}

// NewSerialIO creates pin drivers on an identified MCU
func NewSerialIO(m *MCU) *SerialIO {
	return &SerialIO{m: m, maxPWM: 255}
}

// ConfigureOutput implements core.GPIODriver
func (s *SerialIO) ConfigureOutput(pin core.GPIOPin) error {
	return s.m.Send(context.Background(), "config_output", uint32(pin))
}

// ConfigureInputPullUp implements core.GPIODriver
func (s *SerialIO) ConfigureInputPullUp(pin core.GPIOPin) error {
	return s.m.Send(context.Background(), "config_input_pullup", uint32(pin))
}

// SetPin implements core.GPIODriver
func (s *SerialIO) SetPin(pin core.GPIOPin, value bool) error {
	return s.m.Send(context.Background(), "gpio_set", uint32(pin), value)
}

// GetPin implements core.GPIODriver
func (s *SerialIO) GetPin(pin core.GPIOPin) (bool, error) {
	state, err := s.m.Query(context.Background(), "gpio_read", "gpio_state", uint32(pin))
	if err != nil {
		return false, err
	}
	return state.Uint("value") != 0, nil
}

// ConfigureHardwarePWM implements core.PWMDriver
func (s *SerialIO) ConfigureHardwarePWM(pin core.PWMPin, cycleTicks uint32) (uint32, error) {
	info, err := s.m.Query(context.Background(), "pwm_config", "pwm_info", uint32(pin), cycleTicks)
	if err != nil {
		return 0, err
	}
	s.maxPWM = info.Uint("max")
	return cycleTicks, nil
}

// SetDutyCycle implements core.PWMDriver
func (s *SerialIO) SetDutyCycle(pin core.PWMPin, value core.PWMValue) error {
	return s.m.Send(context.Background(), "pwm_set", uint32(pin), uint32(value))
}

// GetMaxValue implements core.PWMDriver
func (s *SerialIO) GetMaxValue() uint32 {
	return s.maxPWM
}

// DisablePWM implements core.PWMDriver
func (s *SerialIO) DisablePWM(pin core.PWMPin) error {
	return s.m.Send(context.Background(), "pwm_disable", uint32(pin))
}
