//go:build !wasm

package serial

import (
	"io"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

var _ Port = (*NativePort)(nil)

// NativePort is a Port backed by github.com/tarm/serial.
type NativePort struct {
	port    Port
	timeout bool
}

// Open opens cfg.Device.
func Open(cfg *Config) (*NativePort, error) {
	if cfg == nil {
		return nil, errors.New("serial config is nil")
	}
	if cfg.Device == "" {
		return nil, errors.New("serial device path is empty")
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", cfg.Device)
	}
	return &NativePort{port: port, timeout: cfg.ReadTimeout > 0}, nil
}

// Read reports an expired read timeout as an empty read rather than
// io.EOF, so callers can keep polling the line.
func (p *NativePort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if p.timeout && n == 0 && err == io.EOF {
		return 0, nil
	}
	return n, err
}

func (p *NativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *NativePort) Close() error {
	return p.port.Close()
}

// Flush discards unread input.
func (p *NativePort) Flush() error {
	return p.port.Flush()
}

