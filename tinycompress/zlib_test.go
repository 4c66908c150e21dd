package tinycompress

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inflate(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := zlib.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer r.Close()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return out
}

func TestCompressRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte(`{"version":"rcpod"}`)},
		{"one block", bytes.Repeat([]byte{0xA5}, maxBlock)},
		{"several blocks", bytes.Repeat([]byte("0123456789"), 20000)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out := Compress(tc.data)
			assert.Equal(t, header[:], out[:2])
			assert.True(t, bytes.Equal(tc.data, inflate(t, out)))
		})
	}
}

func TestWriterStreaming(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for i := 0; i < 100; i++ {
		n, err := w.Write([]byte("chunk "))
		require.NoError(t, err)
		assert.Equal(t, 6, n)
	}
	require.NoError(t, w.Close())
	assert.Equal(t, bytes.Repeat([]byte("chunk "), 100), inflate(t, buf.Bytes()))

	_, err := w.Write([]byte{1})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, w.Close())
}

func TestStoredLayout(t *testing.T) {
	out := Compress([]byte{0x01, 0x02})
	assert.Equal(t, []byte{0x78, 0x9C, 0x01, 0x02, 0x00, 0xFD, 0xFF, 0x01, 0x02}, out[:9])
	assert.Len(t, out, 13)
}
