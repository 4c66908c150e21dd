package link

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rcpod/bitbang/bitbangtest"
	"rcpod/bitbang/i2csim"
	"rcpod/core"
	"rcpod/device/tc74"
	"rcpod/gpio"
	"rcpod/logging"
)

type registers map[uint16]byte

func (r registers) PokeRegister(addr uint16, v byte) error {
	r[addr] = v
	return nil
}

func (r registers) PeekRegister(addr uint16) (byte, error) {
	return r[addr], nil
}

// emulate connects a Link to an emulated controller driving ctrl.
func emulate(t *testing.T, ctrl gpio.Controller, opts ...core.Option) *Link {
	t.Helper()
	host, dev := net.Pipe()
	fw := core.NewFirmware(ctrl, logging.NewTestLogger(t), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fw.Serve(ctx, dev)
	}()

	l, err := New(context.Background(), host, time.Second, logging.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		l.Close()
		cancel()
		<-done
	})
	return l
}

func TestIdentify(t *testing.T) {
	l := emulate(t, registers{}, core.WithVersion("rcpod-test"))

	d := l.Dictionary()
	require.NotNil(t, d)
	assert.Equal(t, "rcpod-test", d.Version)
	assert.Equal(t, "rcpod", d.Config["MCU"])
	assert.Equal(t, "6", d.Config["PORTB"])
	assert.Equal(t, "134", d.Config["TRISB"])

	m, ok := d.Command("poke")
	require.True(t, ok)
	assert.Equal(t, "addr=%hu value=%c", m.Format)
	assert.Equal(t, []byte{0x78, 0x9C}, l.RawDictionary()[:2])
}

func TestPokePeek(t *testing.T) {
	regs := registers{0x06: 0x5A}
	l := emulate(t, regs)

	require.NoError(t, l.PokeRegister(0x86, 0x3F))
	v, err := l.PeekRegister(0x86)
	require.NoError(t, err)
	assert.Equal(t, byte(0x3F), v)

	v, err = l.Peek(context.Background(), 0x06)
	require.NoError(t, err)
	assert.Equal(t, byte(0x5A), v)
}

func TestUnknownCommand(t *testing.T) {
	l := emulate(t, registers{})
	err := l.Command(context.Background(), "get_uptime", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestReset(t *testing.T) {
	resets := make(chan struct{}, 1)
	l := emulate(t, registers{}, core.WithResetHandler(func() { resets <- struct{}{} }))

	require.NoError(t, l.PokeRegister(1, 1))
	require.NoError(t, l.Reset(context.Background()))
	<-resets
	require.NoError(t, l.PokeRegister(1, 2))
	v, err := l.PeekRegister(1)
	require.NoError(t, err)
	assert.Equal(t, byte(2), v)
}

func TestNewFailsWithoutController(t *testing.T) {
	host, dev := net.Pipe()
	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := dev.Read(buf); err != nil {
				return
			}
		}
	}()
	_, err := New(context.Background(), host, 50*time.Millisecond, logging.NewTestLogger(t))
	require.Error(t, err)

	// The link closed the port on failure.
	_, err = host.Write([]byte{0})
	assert.Error(t, err)
}

func TestTemperatureOverLink(t *testing.T) {
	wire := i2csim.NewWire(gpio.PortB, bitbangtest.SCL, bitbangtest.SDA)
	mem := i2csim.NewMemory(2)
	mem.Load(tc74.RegTemperature, []byte{0x17})
	wire.Attach(i2csim.NewTarget(tc74.BaseAddress, mem))

	l := emulate(t, wire)
	bus, err := bitbangtest.Attach(l)
	require.NoError(t, err)

	temp, err := tc74.New(bus, 0).ReadTemperature()
	require.NoError(t, err)
	assert.Equal(t, int8(23), temp)

	pokes, peeks := wire.Stats()
	assert.Positive(t, pokes)
	assert.Positive(t, peeks)
}

func TestControllerFaultSurfaces(t *testing.T) {
	wire := i2csim.NewWire(gpio.PortB, bitbangtest.SCL, bitbangtest.SDA)
	l := emulate(t, wire)
	wire.SetFault(errors.New("controller fault"))

	err := l.PokeRegister(0x86, 0)
	var cerr *ControllerError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "poke", cerr.Command)
	assert.Equal(t, "controller fault", cerr.Message)

	start := time.Now()
	_, err = l.PeekRegister(0x06)
	assert.ErrorIs(t, err, ErrController)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "peek failure waited for the timeout")

	_, err = gpio.NewBoard(l, gpio.PortB)
	assert.ErrorIs(t, err, gpio.ErrCommunication)
	assert.ErrorIs(t, err, ErrController)

	wire.SetFault(nil)
	require.NoError(t, l.PokeRegister(0x86, 0xFF))
	pokes, _ := wire.Stats()
	assert.Equal(t, 1, pokes)
}

func TestParsePlainDictionary(t *testing.T) {
	d, err := ParseDictionary([]byte(`{"version":"v","commands":{"poke addr=%hu value=%c":2},"responses":{}}`))
	require.NoError(t, err)
	m, ok := d.Command("poke")
	require.True(t, ok)
	assert.Equal(t, uint16(2), m.ID)
	_, ok = d.Response("peek_response")
	assert.False(t, ok)

	_, err = ParseDictionary([]byte{0x78, 0x9C, 0x00})
	assert.Error(t, err)
}
