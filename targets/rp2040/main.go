//go:build rp2040

// Firmware for an RP2040 pulse engine. In the default mode it serves the
// pulse and IO commands to a host over USB CDC; in standalone mode it runs
// G-code received over USB itself.
package main

import (
	"context"
	"errors"
	"machine"
	"time"

	"pulsecnc/core"
	"pulsecnc/targets/pio"
)

var (
	errBadPin          = errors.New("no such gpio")
	errNotConfigured   = errors.New("pin not configured")
	errUSBDisconnected = errors.New("usb host disconnected")
)

// Step and direction pins live in GPIO2..GPIO9, driven by PIO0 SM0
var engineConfig = pio.Config{
	PIO:          0,
	StateMachine: 0,
	PinBase:      machine.GPIO2,
	PinCount:     8,
}

func main() {
	// Clear any watchdog state left from before the reset
	_ = machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})

	InitUSB()

	gpio := NewGPIODriver()
	pwm := NewPWMDriver()
	engine, err := pio.NewEngine(engineConfig)
	if err != nil {
		blinkForever(100 * time.Millisecond)
	}

	if GetMode().Standalone {
		RunStandaloneMode(engine, gpio, pwm)
		return
	}

	usb := &usbPort{}
	dev := core.NewDevice(usb, engine, core.WithDeviceGPIO(gpio), core.WithDevicePWM(pwm))
	dev.Dictionary().AddConstant("MCU", "rp2040")

	for {
		// Serve returns when the host goes away; wait for it to come back
		func() {
			defer func() {
				_ = recover()
			}()
			_ = dev.Serve(context.Background(), usb)
		}()
		time.Sleep(100 * time.Millisecond)
	}
}

// blinkForever signals a fatal setup error on the board LED
func blinkForever(period time.Duration) {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		led.High()
		time.Sleep(period)
		led.Low()
		time.Sleep(period)
	}
}
