// Package serial opens the USB/UART link to a pulse engine MCU.
package serial

import (
	"io"
)

// Port is a serial connection. Reads that time out return (0, nil); a
// closed port returns an error.
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate; USB CDC devices ignore it
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultBaud is the Klipper default rate
const DefaultBaud = 250000

// DefaultConfig returns the configuration used when only a device is given
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100,
	}
}
