package pcf8574

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rcpod/bitbang/bitbangtest"
	"rcpod/bitbang/i2csim"
)

// port models the expander: every written byte is the new port value and
// reads return it.
type port struct{ v byte }

func (p *port) Begin(int, bool)   {}
func (p *port) Write(b byte) bool { p.v = b; return true }
func (p *port) Read() byte        { return p.v }
func (p *port) End()              {}

func TestPins(t *testing.T) {
	bus, wire := bitbangtest.NewBus(t)
	io := &port{v: 0xFF}
	wire.Attach(i2csim.NewTarget(BaseAddress+3, io))

	d := New(bus, BaseAddress, 3)
	require.NoError(t, d.SetPin(0, false))
	require.NoError(t, d.SetPin(7, false))
	assert.Equal(t, byte(0x7E), io.v)
	assert.Equal(t, byte(0x7E), d.Latch())

	high, err := d.Pin(1)
	require.NoError(t, err)
	assert.True(t, high)
	high, err = d.Pin(7)
	require.NoError(t, err)
	assert.False(t, high)

	require.NoError(t, d.Write(0xA5))
	v, err := d.Read()
	require.NoError(t, err)
	assert.Equal(t, byte(0xA5), v)

	assert.Error(t, d.SetPin(8, true))
}

func TestFailedWriteKeepsLatch(t *testing.T) {
	bus, _ := bitbangtest.NewBus(t)
	d := New(bus, BaseAddressA, 0)
	assert.Error(t, d.SetPin(2, false))
	assert.Equal(t, byte(0xFF), d.Latch())
}
