package core

import (
	"bytes"
	"io"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inflate(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := zlib.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return out
}

func TestDictionaryDocument(t *testing.T) {
	r := NewCommandRegistry()
	r.RegisterResponse("identify_response", "offset=%u data=%.*s")
	r.Register("identify", "offset=%u count=%c", func(*[]byte) error { return nil })

	d := NewDictionary(r)
	d.SetVersion("test-1")
	d.AddConstant("PORTB", uint16(6))

	raw, err := d.Bytes()
	require.NoError(t, err)

	var doc dictionaryJSON
	require.NoError(t, json.Unmarshal(inflate(t, raw), &doc))
	assert.Equal(t, "test-1", doc.Version)
	assert.Equal(t, "6", doc.Config["PORTB"])
	assert.Equal(t, 1, doc.Commands["identify offset=%u count=%c"])
	assert.Equal(t, 0, doc.Responses["identify_response offset=%u data=%.*s"])
}

func TestDictionaryCacheInvalidation(t *testing.T) {
	d := NewDictionary(NewCommandRegistry())
	first, err := d.Bytes()
	require.NoError(t, err)
	again, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	d.AddConstant("X", 1)
	changed, err := d.Bytes()
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}

func TestDictionaryChunks(t *testing.T) {
	d := NewDictionary(NewCommandRegistry())
	full, err := d.Bytes()
	require.NoError(t, err)

	var joined []byte
	for off := uint32(0); ; {
		chunk, err := d.Chunk(off, 10)
		require.NoError(t, err)
		joined = append(joined, chunk...)
		off += uint32(len(chunk))
		if len(chunk) < 10 {
			break
		}
	}
	assert.Equal(t, full, joined)

	past, err := d.Chunk(uint32(len(full))+5, 10)
	require.NoError(t, err)
	assert.Empty(t, past)
}
