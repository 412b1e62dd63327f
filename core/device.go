package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"pulsecnc/internal/logging"
	"pulsecnc/protocol"
)

// Device is the MCU side of a serial pulse engine. It owns the command
// registry and data dictionary, and runs the commands decoded by its
// Transport against a local PulseEngine, GPIO and PWM driver.
type Device struct {
	registry  *CommandRegistry
	dict      *Dictionary
	transport *protocol.Transport
	logger    *slog.Logger

	engine PulseEngine
	gpio   GPIODriver
	pwm    PWMDriver

	mu       sync.Mutex
	queued   uint32 // commands appended since the last pulse_clear
	errCount uint32

	responseIDs map[string]uint16
}

// DeviceOption configures a Device
type DeviceOption func(*Device)

// WithDeviceLogger sets the structured logger
func WithDeviceLogger(logger *slog.Logger) DeviceOption {
	return func(d *Device) {
		d.logger = logger
	}
}

// WithDeviceGPIO exposes digital pins to the host
func WithDeviceGPIO(gpio GPIODriver) DeviceOption {
	return func(d *Device) {
		d.gpio = gpio
	}
}

// WithDevicePWM exposes hardware PWM to the host
func WithDevicePWM(pwm PWMDriver) DeviceOption {
	return func(d *Device) {
		d.pwm = pwm
	}
}

// NewDevice creates a device writing its responses to w
func NewDevice(w io.Writer, engine PulseEngine, opts ...DeviceOption) *Device {
	d := &Device{
		registry:    NewCommandRegistry(),
		engine:      engine,
		logger:      logging.NewNop(),
		responseIDs: make(map[string]uint16),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.dict = NewDictionary(d.registry)
	d.transport = protocol.NewTransport(w, d.dispatch)
	d.transport.SetResetCallback(func() {
		d.logger.Info("host reset detected")
	})

	d.registerCoreCommands()
	d.registerPulseCommands()
	d.registerIOCommands()
	return d
}

// Registry returns the command registry
func (d *Device) Registry() *CommandRegistry {
	return d.registry
}

// Dictionary returns the data dictionary
func (d *Device) Dictionary() *Dictionary {
	return d.dict
}

// Receive feeds bytes read from the host
func (d *Device) Receive(p []byte) error {
	return d.transport.Receive(p)
}

// Serve reads from r until it fails or ctx is canceled
func (d *Device) Serve(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			// Command errors are reported to the host as command_error
			_ = d.Receive(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (d *Device) dispatch(cmdID uint16, data *[]byte) error {
	err := d.registry.Dispatch(cmdID, data)
	if err == nil {
		return nil
	}

	d.mu.Lock()
	d.errCount++
	d.mu.Unlock()

	name := "unknown"
	if cmd, ok := d.registry.GetCommand(cmdID); ok {
		name = cmd.Name
	}
	d.logger.Warn("command failed", "command", name, "error", err)
	if sendErr := d.sendResponse("command_error", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(cmdID))
		protocol.EncodeVLQString(out, truncate(err.Error(), 40))
	}); sendErr != nil {
		return sendErr
	}
	return err
}

func (d *Device) registerResponse(name, format string) {
	d.responseIDs[name] = d.registry.RegisterResponse(name, format)
}

// sendResponse frames a registered response
func (d *Device) sendResponse(name string, args func(protocol.OutputBuffer)) error {
	id, ok := d.responseIDs[name]
	if !ok {
		return errors.New("unregistered response " + name)
	}
	return d.transport.SendCommand(id, args)
}

// registerCoreCommands registers identify first: Klipper hosts bootstrap
// with identify_response as ID 0 and identify as ID 1.
func (d *Device) registerCoreCommands() {
	d.registerResponse("identify_response", "offset=%u data=%.*s")
	d.registry.Register("identify", "offset=%u count=%c", d.handleIdentify)
	d.registerResponse("command_error", "cmd=%hu msg=%*s")
	d.registry.Register("get_status", "", d.handleGetStatus)
	d.registerResponse("status", "errors=%u")

	d.dict.AddConstant("MCU", "pulsecnc")
	if ip, ok := d.engine.(InfoProvider); ok {
		info := ip.Info()
		d.dict.AddConstant("PULSE_ENGINE", info.Name)
		d.dict.AddConstant("PULSE_MIN_US", info.MinPulseUS)
		d.dict.AddConstant("PULSE_MAX_DELAY_US", info.MaxDelayUS)
	}
}

func (d *Device) handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := d.dict.GetChunk(offset, uint8(count))
	return d.sendResponse("identify_response", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQBytes(out, chunk)
	})
}

func (d *Device) handleGetStatus(data *[]byte) error {
	d.mu.Lock()
	errs := d.errCount
	d.mu.Unlock()
	return d.sendResponse("status", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, errs)
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
