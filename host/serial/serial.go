// Package serial opens the USB serial line to an rcpod controller.
package serial

import (
	"io"
	"time"
)

// Port is an open serial line.
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// Config describes the line to open.
type Config struct {
	// Device is the OS path, e.g. /dev/ttyACM0 or COM3.
	Device string
	// Baud is ignored by USB CDC controllers but must be a valid rate.
	Baud int
	// ReadTimeout bounds each Read. Zero blocks until data arrives.
	ReadTimeout time.Duration
}

const DefaultBaud = 250000

// DefaultConfig returns the settings the rcpod firmware expects.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100 * time.Millisecond,
	}
}
