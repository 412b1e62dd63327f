package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"pulsecnc/core"
	"pulsecnc/host/mcu"
	"pulsecnc/host/serial"
	"pulsecnc/host/status"
	"pulsecnc/standalone"
	"pulsecnc/standalone/planner"
)

// rig is an opened pulse engine with its IO drivers
type rig struct {
	cfg     *standalone.MachineConfig
	engine  core.PulseEngine
	gpio    core.GPIODriver
	pwm     core.PWMDriver
	mcu     *mcu.MCU     // serial and loopback
	device  *core.Device // virtual and loopback
	closers []func() error
}

// openRig connects to the engine selected by --engine
func openRig(ctx context.Context, o *rootOptions) (*rig, error) {
	cfg, err := o.machineConfig()
	if err != nil {
		return nil, err
	}
	r := &rig{cfg: cfg}

	switch o.engine {
	case engineVirtual:
		engine, gpio := r.virtualMachine(o.timeScale)
		r.engine, r.gpio, r.pwm = engine, gpio, gpio
		r.device = core.NewDevice(io.Discard, engine, core.WithDeviceGPIO(gpio), core.WithDevicePWM(gpio))
		return r, nil

	case engineLoopback:
		engine, gpio := r.virtualMachine(o.timeScale)
		hostConn, devConn := net.Pipe()
		r.device = core.NewDevice(devConn, engine,
			core.WithDeviceLogger(o.logger.With("component", "device")),
			core.WithDeviceGPIO(gpio), core.WithDevicePWM(gpio))
		devCtx, cancel := context.WithCancel(context.Background())
		served := make(chan struct{})
		go func() {
			defer close(served)
			_ = r.device.Serve(devCtx, devConn)
		}()
		r.closers = append(r.closers, func() error {
			cancel()
			err := devConn.Close()
			<-served
			return err
		})
		r.mcu = mcu.New(hostConn, mcu.WithLogger(o.logger.With("component", "mcu")))

	case engineSerial:
		cfg := serial.DefaultConfig(o.device)
		cfg.Baud = o.baud
		m, err := mcu.Open(cfg, mcu.WithLogger(o.logger.With("component", "mcu")))
		if err != nil {
			return nil, err
		}
		r.mcu = m
	}

	// The MCU closes first so the loopback device sees EOF
	r.closers = append([]func() error{r.mcu.Close}, r.closers...)

	if err := r.mcu.Identify(ctx); err != nil {
		r.Close()
		return nil, fmt.Errorf("identify: %w", err)
	}
	engine, err := mcu.NewSerialEngine(r.mcu)
	if err != nil {
		r.Close()
		return nil, err
	}
	sio := mcu.NewSerialIO(r.mcu)
	r.engine, r.gpio, r.pwm = engine, sio, sio
	return r, nil
}

// virtualMachine builds a software engine whose endstops sit at step zero
func (r *rig) virtualMachine(timeScale float64) (*core.VirtualEngine, *core.VirtualGPIO) {
	engine := core.NewVirtualEngine()
	engine.TimeScale = timeScale
	gpio := core.NewVirtualGPIO()
	for _, a := range standalone.Axes {
		ax := r.cfg.Axis(a)
		engine.BindAxis(a.String(), ax.StepPin, ax.DirPin)
		if ax.HasEndstop {
			name := a.String()
			gpio.SetInput(core.GPIOPin(ax.EndstopPin), func() bool {
				return engine.Position(name) > 0
			})
		}
	}
	return engine, gpio
}

// planner creates an initialized planner on the rig
func (r *rig) planner(o *rootOptions, metrics *planner.Metrics) (*planner.Planner, error) {
	p := planner.NewPlanner(r.cfg, r.engine,
		planner.WithLogger(o.logger),
		planner.WithMetrics(metrics),
		planner.WithGPIO(r.gpio),
		planner.WithPWM(r.pwm))
	if err := p.Init(); err != nil {
		return nil, err
	}
	return p, nil
}

// statusServer starts the status server when --metrics-addr is set. The
// returned metrics and server are nil otherwise.
func (r *rig) statusServer(ctx context.Context, o *rootOptions) (*planner.Metrics, *status.Server) {
	if o.metricsAddr == "" {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	metrics := planner.NewMetrics(reg)
	srv := status.NewServer(r.engine, reg, o.logger.With("component", "status"))
	go func() {
		if err := srv.Serve(ctx, o.metricsAddr); err != nil {
			o.logger.Error("status server stopped", "error", err)
		}
	}()
	return metrics, srv
}

// Close releases the engine connection
func (r *rig) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
