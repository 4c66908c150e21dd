package tc74

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rcpod/bitbang/bitbangtest"
	"rcpod/bitbang/i2csim"
)

func TestReadTemperature(t *testing.T) {
	for _, c := range []struct {
		raw  byte
		want int8
	}{
		{0x17, 23},
		{0x00, 0},
		{0x7F, 127},
		{0xFF, -1},
		{0xE7, -25},
		{0x80, -128},
	} {
		bus, wire := bitbangtest.NewBus(t)
		mem := i2csim.NewMemory(2)
		mem.Load(RegTemperature, []byte{c.raw})
		wire.Attach(i2csim.NewTarget(BaseAddress, mem))

		got, err := New(bus, 0).ReadTemperature()
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "raw %#02x", c.raw)
	}
}

func TestStandbyAndReady(t *testing.T) {
	bus, wire := bitbangtest.NewBus(t)
	mem := i2csim.NewMemory(2)
	mem.Load(RegConfig, []byte{ConfigReady})
	tgt := i2csim.NewTarget(BaseAddress+5, mem)
	wire.Attach(tgt)

	d := New(bus, 5)
	assert.Equal(t, uint16(0x4D), d.Address())

	ready, err := d.Ready()
	require.NoError(t, err)
	assert.True(t, ready)

	tgt.Reset()
	require.NoError(t, d.Standby(true))
	assert.Equal(t, []byte{0x4D << 1, RegConfig, ConfigStandby}, tgt.Observed())
	assert.Equal(t, byte(ConfigStandby), mem.Bytes()[RegConfig])

	ready, err = d.Ready()
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestMissingSensor(t *testing.T) {
	bus, _ := bitbangtest.NewBus(t)
	_, err := New(bus, 0).ReadTemperature()
	assert.Error(t, err)
}
