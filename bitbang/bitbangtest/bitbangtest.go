// Package bitbangtest wires a software bus to a simulated controller for
// tests of code built on top of the bus.
package bitbangtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rcpod/bitbang"
	"rcpod/bitbang/i2csim"
	"rcpod/gpio"
	"rcpod/logging"
)

// SCL and SDA are the port B lines the simulated bus uses.
const (
	SCL = 6
	SDA = 7
)

// NewBus returns a bus on RB6/RB7 of a fresh simulated controller.
func NewBus(tb testing.TB, opts ...bitbang.Option) (*bitbang.Bus, *i2csim.Wire) {
	tb.Helper()
	wire := i2csim.NewWire(gpio.PortB, SCL, SDA)
	opts = append([]bitbang.Option{bitbang.WithLogger(logging.NewTestLogger(tb))}, opts...)
	bus, err := Attach(wire, opts...)
	require.NoError(tb, err)
	return bus, wire
}

// Attach builds a bus on RB6/RB7 of ctrl.
func Attach(ctrl gpio.Controller, opts ...bitbang.Option) (*bitbang.Bus, error) {
	board, err := gpio.NewBoard(ctrl, gpio.PortB)
	if err != nil {
		return nil, err
	}
	return OnBoard(board, opts...)
}

// OnBoard builds a bus on RB6/RB7 of board.
func OnBoard(board *gpio.Board, opts ...bitbang.Option) (*bitbang.Bus, error) {
	sclPin, err := board.Pin(gpio.PortB.Name, SCL)
	if err != nil {
		return nil, err
	}
	sdaPin, err := board.Pin(gpio.PortB.Name, SDA)
	if err != nil {
		return nil, err
	}
	scl, err := gpio.NewOpenDrain(sclPin)
	if err != nil {
		return nil, err
	}
	sda, err := gpio.NewOpenDrain(sdaPin)
	if err != nil {
		return nil, err
	}
	return bitbang.New(scl, sda, opts...)
}
