package eeprom

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rcpod/bitbang/bitbangtest"
	"rcpod/bitbang/i2csim"
)

func TestWriteSplitsPagesAndBlocks(t *testing.T) {
	bus, wire := bitbangtest.NewBus(t)
	mem := i2csim.NewMemory(2048, i2csim.WithBlocks(256), i2csim.WithWriteCycle(3))
	tgt := &i2csim.Target{Address: BaseAddress, Width: 8, Handler: mem}
	wire.Attach(tgt)

	e, err := New(bus, 0, Conf24C16)
	require.NoError(t, err)

	data := make([]byte, 40)
	for i := range data {
		data[i] = byte(i + 1)
	}
	// 0xF4..0x11B crosses pages at 0x100 and 0x110 and the block boundary.
	n, err := e.WriteAt(data, 0xF4)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, mem.Bytes()[0xF4:0xF4+40])

	got := make([]byte, 40)
	n, err = e.ReadAt(got, 0xF4)
	require.NoError(t, err)
	assert.Equal(t, 40, n)
	assert.Equal(t, data, got)

	// Block 1 is written through device address 0x51.
	assert.Contains(t, tgt.Observed(), byte(0x51<<1))
}

func TestTwoByteAddressing(t *testing.T) {
	bus, wire := bitbangtest.NewBus(t)
	mem := i2csim.NewMemory(4096, i2csim.WithPointerSize(2))
	tgt := i2csim.NewTarget(BaseAddress+1, mem)
	wire.Attach(tgt)

	e, err := New(bus, 1, Conf24C32)
	require.NoError(t, err)
	_, err = e.WriteAt([]byte{0xCA, 0xFE}, 0x0ABC)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x51 << 1, 0x0A, 0xBC, 0xCA, 0xFE}, tgt.Observed()[:5])

	got := make([]byte, 2)
	_, err = e.ReadAt(got, 0x0ABC)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xCA, 0xFE}, got)
}

func TestReadWriteSeek(t *testing.T) {
	bus, wire := bitbangtest.NewBus(t)
	mem := i2csim.NewMemory(256)
	wire.Attach(i2csim.NewTarget(BaseAddress, mem))

	e, err := New(bus, 0, Conf24C02)
	require.NoError(t, err)

	pos, err := e.Seek(-4, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(252), pos)

	n, err := e.Write([]byte{1, 2, 3, 4, 5, 6})
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = e.Seek(252, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 8)
	n, err = e.Read(buf)
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf[:4])

	n, err = e.Read(buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = e.Seek(1, io.SeekEnd)
	assert.Error(t, err)
}

func TestWriteCycleTimeout(t *testing.T) {
	bus, wire := bitbangtest.NewBus(t)
	mem := i2csim.NewMemory(256, i2csim.WithWriteCycle(1<<30))
	wire.Attach(i2csim.NewTarget(BaseAddress, mem))

	e, err := New(bus, 0, Conf24C02)
	require.NoError(t, err)

	clock := time.Unix(0, 0)
	e.now = func() time.Time { return clock }
	e.sleep = func(d time.Duration) { clock = clock.Add(time.Millisecond) }

	_, err = e.WriteAt([]byte{0x01}, 0)
	assert.ErrorIs(t, err, ErrWriteTimeout)
}

func TestNewValidates(t *testing.T) {
	bus, _ := bitbangtest.NewBus(t)
	_, err := New(bus, 1, Conf24C16)
	assert.Error(t, err, "24C16 needs all eight addresses")
	_, err = New(bus, 7, Conf24C02)
	assert.NoError(t, err)
	_, err = New(bus, 0, Config{Size: 300, PageSize: 8, AddressBytes: 1})
	assert.Error(t, err)

	c, ok := Lookup("24c08")
	require.True(t, ok)
	assert.Equal(t, 1024, c.Size)
}
