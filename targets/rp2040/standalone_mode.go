//go:build rp2040

package main

import (
	"context"
	"time"

	"pulsecnc/core"
	"pulsecnc/standalone"
	"pulsecnc/standalone/config"
	"pulsecnc/standalone/manager"
	"pulsecnc/standalone/planner"
)

// boardConfig wires the default machine to this board: step/dir pairs in
// the PIO window, endstops and the spindle outside it.
func boardConfig() *standalone.MachineConfig {
	cfg := config.DefaultConfig()
	cfg.X.StepPin, cfg.X.DirPin, cfg.X.EndstopPin = 2, 3, 14
	cfg.Y.StepPin, cfg.Y.DirPin, cfg.Y.EndstopPin = 4, 5, 15
	cfg.Z.StepPin, cfg.Z.DirPin, cfg.Z.EndstopPin = 6, 7, 16
	cfg.E.StepPin, cfg.E.DirPin = 8, 9
	cfg.SpindlePWMPin = 17
	return cfg
}

// RunStandaloneMode executes G-code lines read from USB and answers each
// with "ok" or "error: ...".
func RunStandaloneMode(engine core.PulseEngine, gpio core.GPIODriver, pwm core.PWMDriver) {
	cfg := boardConfig()
	if err := config.Validate(cfg); err != nil {
		blinkForever(250 * time.Millisecond)
	}

	p := planner.NewPlanner(cfg, engine, planner.WithGPIO(gpio), planner.WithPWM(pwm))
	if err := p.Init(); err != nil {
		blinkForever(250 * time.Millisecond)
	}
	m, err := manager.New(cfg, p, nil)
	if err != nil {
		blinkForever(250 * time.Millisecond)
	}

	usb := &usbPort{}
	for {
		_ = m.Run(context.Background(), usb, usb)
		time.Sleep(100 * time.Millisecond)
	}
}
