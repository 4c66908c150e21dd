package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVLQRoundTrip(t *testing.T) {
	for _, v := range []int32{
		0, 1, -1, 95, 96, -32, -33, 127, 128, -128, 255, 300,
		1000, -1000, 65535, -65535, 1000000, -1000000,
		1 << 30, -(1 << 30), 0x7FFFFFFF, -0x80000000,
	} {
		out := NewScratchOutput()
		EncodeVLQInt(out, v)
		data := append([]byte(nil), out.Result()...)
		got, err := DecodeVLQInt(&data)
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, got)
		assert.Empty(t, data, "value %d left bytes", v)
	}
}

func TestVLQEncoding(t *testing.T) {
	for _, tc := range []struct {
		v    int32
		want []byte
	}{
		{0, []byte{0x00}},
		{-1, []byte{0x7F}},
		{95, []byte{0x5F}},
		{96, []byte{0x80, 0x60}},
		{-33, []byte{0xFF, 0x5F}},
		{300, []byte{0x82, 0x2C}},
	} {
		out := NewScratchOutput()
		EncodeVLQInt(out, tc.v)
		assert.Equal(t, tc.want, out.Result(), "value %d", tc.v)
	}
}

func TestVLQUint(t *testing.T) {
	for _, v := range []uint32{0, 127, 128, 0xFFFF, 0x80000000, 0xFFFFFFFF} {
		out := NewScratchOutput()
		EncodeVLQUint(out, v)
		data := out.Result()
		got, err := DecodeVLQUint(&data)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestVLQBytes(t *testing.T) {
	out := NewScratchOutput()
	EncodeVLQBytes(out, []byte{0xDE, 0xAD})
	EncodeVLQBytes(out, []byte("RB6"))
	EncodeVLQBytes(out, nil)
	data := out.Result()

	b, err := DecodeVLQBytes(&data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD}, b)
	b, err = DecodeVLQBytes(&data)
	require.NoError(t, err)
	assert.Equal(t, "RB6", string(b))
	b, err = DecodeVLQBytes(&data)
	require.NoError(t, err)
	assert.Empty(t, b)
	assert.Empty(t, data)
}

func TestVLQErrors(t *testing.T) {
	var empty []byte
	_, err := DecodeVLQInt(&empty)
	assert.ErrorIs(t, err, ErrBufferTooSmall)

	truncated := []byte{0x82}
	_, err = DecodeVLQInt(&truncated)
	assert.ErrorIs(t, err, ErrBufferTooSmall)

	endless := []byte{0x81, 0x81, 0x81, 0x81, 0x81, 0x01}
	_, err = DecodeVLQInt(&endless)
	assert.ErrorIs(t, err, ErrInvalidVLQ)

	short := []byte{0x05, 0x01}
	_, err = DecodeVLQBytes(&short)
	assert.ErrorIs(t, err, ErrBufferTooSmall)
}
