package i2csim

import "sync"

// Memory is a register file target: the first bytes of every write select
// the register pointer, further bytes are stored, and reads return bytes
// from the pointer on. The pointer auto-increments and wraps.
type Memory struct {
	mu sync.Mutex

	data        []byte
	pointerSize int
	blockSize   int

	block     int
	ptr       int
	ptrBytes  int
	wrote     bool
	readOnly  bool
	busyPolls int
	busyLeft  int
}

// MemoryOption configures a Memory.
type MemoryOption func(*Memory)

// WithPointerSize sets the number of pointer bytes (1 or 2). Default 1.
func WithPointerSize(n int) MemoryOption {
	return func(m *Memory) { m.pointerSize = n }
}

// WithBlocks splits the memory into blocks of size bytes selected by the
// matched address offset, the way 24C04..24C16 EEPROMs page their array.
func WithBlocks(size int) MemoryOption {
	return func(m *Memory) { m.blockSize = size }
}

// ReadOnly withholds the acknowledge on data bytes.
func ReadOnly() MemoryOption {
	return func(m *Memory) { m.readOnly = true }
}

// WithWriteCycle makes the memory refuse its address for n address
// attempts after each write.
func WithWriteCycle(n int) MemoryOption {
	return func(m *Memory) { m.busyPolls = n }
}

// NewMemory returns a zeroed memory of size bytes.
func NewMemory(size int, opts ...MemoryOption) *Memory {
	m := &Memory{data: make([]byte, size), pointerSize: 1}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load copies b into the memory at off.
func (m *Memory) Load(off int, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.data[off:], b)
}

// Bytes returns a copy of the memory contents.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// Pointer returns the current register pointer.
func (m *Memory) Pointer() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ptr
}

func (m *Memory) Begin(block int, read bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = block
	if !read {
		m.ptrBytes = 0
	}
}

func (m *Memory) Write(b byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ptrBytes < m.pointerSize {
		if m.ptrBytes == 0 {
			m.ptr = 0
		}
		m.ptr = m.ptr<<8 | int(b)
		m.ptrBytes++
		if m.ptrBytes == m.pointerSize {
			m.ptr = (m.block*m.blockSize + m.ptr) % len(m.data)
		}
		return true
	}
	if m.readOnly {
		return false
	}
	m.data[m.ptr] = b
	m.ptr = (m.ptr + 1) % len(m.data)
	m.wrote = true
	return true
}

func (m *Memory) Read() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.data[m.ptr]
	m.ptr = (m.ptr + 1) % len(m.data)
	return v
}

func (m *Memory) End() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.wrote {
		m.busyLeft = m.busyPolls
		m.wrote = false
	}
}

// Busy reports whether an internal write cycle is still running. Each call
// is one refused address attempt.
func (m *Memory) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busyLeft > 0 {
		m.busyLeft--
		return true
	}
	return false
}
