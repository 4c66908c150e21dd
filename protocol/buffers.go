package protocol

// InputBuffer is a queue of received bytes awaiting framing.
type InputBuffer interface {
	Data() []byte
	Available() int
	Pop(n int)
}

// OutputBuffer receives encoded bytes.
type OutputBuffer interface {
	Output(data []byte)
}

// SliceInputBuffer serves an InputBuffer from a fixed slice.
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	if n > len(s.data) {
		n = len(s.data)
	}
	s.data = s.data[n:]
}

// ScratchOutput collects one frame payload. Bytes beyond MessagePayloadMax
// are dropped and the buffer is marked as overflowed.
type ScratchOutput struct {
	buf      [MessagePayloadMax]byte
	pos      int
	overflow bool
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	s.pos += n
	if n < len(data) {
		s.overflow = true
	}
}

// Result returns the collected bytes; the slice is reused after Reset.
func (s *ScratchOutput) Result() []byte { return s.buf[:s.pos] }
func (s *ScratchOutput) Len() int       { return s.pos }
func (s *ScratchOutput) Overflow() bool { return s.overflow }

func (s *ScratchOutput) Reset() {
	s.pos = 0
	s.overflow = false
}

// SliceOutput is an OutputBuffer that grows without bound.
type SliceOutput []byte

func (s *SliceOutput) Output(data []byte) { *s = append(*s, data...) }

// FifoBuffer is a ring buffer of received bytes. One slot is kept free to
// tell a full buffer from an empty one.
type FifoBuffer struct {
	buf   []byte
	read  int
	write int
}

func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write stores as much of data as fits and returns the count stored.
func (f *FifoBuffer) Write(data []byte) int {
	n := 0
	for _, b := range data {
		next := (f.write + 1) % len(f.buf)
		if next == f.read {
			break
		}
		f.buf[f.write] = b
		f.write = next
		n++
	}
	return n
}

func (f *FifoBuffer) Read(data []byte) int {
	n := 0
	for n < len(data) && f.read != f.write {
		data[n] = f.buf[f.read]
		f.read = (f.read + 1) % len(f.buf)
		n++
	}
	return n
}

func (f *FifoBuffer) Available() int {
	if f.write >= f.read {
		return f.write - f.read
	}
	return len(f.buf) - f.read + f.write
}

func (f *FifoBuffer) Free() int { return len(f.buf) - f.Available() - 1 }

// Data returns the buffered bytes as one contiguous slice, copying when
// the contents wrap.
func (f *FifoBuffer) Data() []byte {
	if f.read <= f.write {
		return f.buf[f.read:f.write]
	}
	out := make([]byte, 0, f.Available())
	out = append(out, f.buf[f.read:]...)
	return append(out, f.buf[:f.write]...)
}

func (f *FifoBuffer) Pop(n int) {
	if avail := f.Available(); n > avail {
		n = avail
	}
	f.read = (f.read + n) % len(f.buf)
}

func (f *FifoBuffer) IsEmpty() bool { return f.read == f.write }

func (f *FifoBuffer) Reset() {
	f.read = 0
	f.write = 0
}
