// Package tinycompress writes zlib streams made only of stored DEFLATE
// blocks. The output is larger than the input, but any zlib reader accepts
// it and producing it takes no compression state.
package tinycompress

import (
	"errors"
	"hash"
	"hash/adler32"
	"io"
)

// maxBlock is the largest stored block DEFLATE allows.
const maxBlock = 0xFFFF

var ErrClosed = errors.New("tinycompress: write to closed writer")

// header selects DEFLATE with a 32K window and default level; 0x789C is a
// multiple of 31 as RFC 1950 requires.
var header = [2]byte{0x78, 0x9C}

// Writer is an io.WriteCloser producing a zlib stream on w.
type Writer struct {
	w       io.Writer
	buf     []byte
	adler   hash.Hash32
	started bool
	closed  bool
	err     error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:     w,
		buf:   make([]byte, 0, 4096),
		adler: adler32.New(),
	}
}

// Write buffers p, emitting a block each time maxBlock bytes are pending.
func (z *Writer) Write(p []byte) (int, error) {
	if z.closed {
		return 0, ErrClosed
	}
	if z.err != nil {
		return 0, z.err
	}
	n := len(p)
	z.adler.Write(p)
	for len(p) > 0 {
		room := maxBlock - len(z.buf)
		if room > len(p) {
			room = len(p)
		}
		z.buf = append(z.buf, p[:room]...)
		p = p[room:]
		if len(z.buf) == maxBlock {
			if err := z.block(false); err != nil {
				return n - len(p), err
			}
		}
	}
	return n, nil
}

// Close emits the final block and the Adler-32 trailer. It does not close
// the underlying writer.
func (z *Writer) Close() error {
	if z.closed {
		return z.err
	}
	z.closed = true
	if z.err != nil {
		return z.err
	}
	if err := z.block(true); err != nil {
		return err
	}
	sum := z.adler.Sum32()
	_, z.err = z.w.Write([]byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)})
	return z.err
}

func (z *Writer) block(final bool) error {
	out := make([]byte, 0, len(header)+5+len(z.buf))
	if !z.started {
		out = append(out, header[:]...)
		z.started = true
	}
	var bfinal byte
	if final {
		bfinal = 1
	}
	size := uint16(len(z.buf))
	out = append(out, bfinal, byte(size), byte(size>>8), byte(^size), byte(^size>>8))
	out = append(out, z.buf...)
	z.buf = z.buf[:0]
	_, z.err = z.w.Write(out)
	return z.err
}

// Compress returns data wrapped in a zlib stream.
func Compress(data []byte) []byte {
	var out sliceWriter
	w := NewWriter(&out)
	w.Write(data)
	w.Close()
	return out
}

type sliceWriter []byte

func (s *sliceWriter) Write(p []byte) (int, error) {
	*s = append(*s, p...)
	return len(p), nil
}
