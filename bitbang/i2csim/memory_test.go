package i2csim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryPointer(t *testing.T) {
	m := NewMemory(8)
	m.Begin(0, false)
	assert.True(t, m.Write(0x06))
	assert.True(t, m.Write(0xAA))
	assert.True(t, m.Write(0xBB))
	assert.True(t, m.Write(0xCC)) // wraps to 0
	m.End()

	assert.Equal(t, []byte{0xCC, 0, 0, 0, 0, 0, 0xAA, 0xBB}, m.Bytes())

	m.Begin(0, false)
	m.Write(0x07)
	m.Begin(0, true)
	assert.Equal(t, byte(0xBB), m.Read())
	assert.Equal(t, byte(0xCC), m.Read())
	assert.Equal(t, 1, m.Pointer())
}

func TestMemoryTwoBytePointer(t *testing.T) {
	m := NewMemory(0x1000, WithPointerSize(2))
	m.Load(0x0123, []byte{0x42})
	m.Begin(0, false)
	m.Write(0x01)
	m.Write(0x23)
	m.Begin(0, true)
	assert.Equal(t, byte(0x42), m.Read())
}

func TestMemoryBlocks(t *testing.T) {
	m := NewMemory(512, WithBlocks(256))
	m.Begin(1, false)
	m.Write(0x10)
	m.Write(0x5A)
	assert.Equal(t, byte(0x5A), m.Bytes()[0x110])
}

func TestMemoryReadOnlyAndBusy(t *testing.T) {
	ro := NewMemory(4, ReadOnly())
	ro.Begin(0, false)
	assert.True(t, ro.Write(0x00), "pointer byte is always accepted")
	assert.False(t, ro.Write(0x01))

	m := NewMemory(4, WithWriteCycle(2))
	assert.False(t, m.Busy())
	m.Begin(0, false)
	m.Write(0)
	m.Write(1)
	m.End()
	assert.True(t, m.Busy())
	assert.True(t, m.Busy())
	assert.False(t, m.Busy())
}
