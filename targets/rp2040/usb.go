//go:build rp2040

package main

import (
	"machine"
	"time"
)

const usbPollInterval = 100 * time.Microsecond

// InitUSB configures machine.Serial, which is USB CDC on the RP2040
func InitUSB() {
	_ = machine.Serial.Configure(machine.UARTConfig{})
}

// usbPort adapts machine.Serial to io.ReadWriter. Read blocks until at
// least one byte has arrived.
type usbPort struct {
	writeFailures uint32
}

func (p *usbPort) Read(b []byte) (int, error) {
	for machine.Serial.Buffered() == 0 {
		time.Sleep(usbPollInterval)
	}
	n := 0
	for n < len(b) && machine.Serial.Buffered() > 0 {
		c, err := machine.Serial.ReadByte()
		if err != nil {
			return n, err
		}
		b[n] = c
		n++
	}
	return n, nil
}

// Write sends everything or gives up after repeated failures, which
// usually means the host disconnected.
func (p *usbPort) Write(b []byte) (int, error) {
	written := 0
	for written < len(b) {
		n, err := machine.Serial.Write(b[written:])
		if err != nil || n == 0 {
			p.writeFailures++
			if p.writeFailures > 10 {
				p.writeFailures = 0
				return written, errUSBDisconnected
			}
			time.Sleep(time.Millisecond)
			continue
		}
		written += n
	}
	p.writeFailures = 0
	return written, nil
}
