package i2csim

// Handler supplies the register behaviour of a simulated target.
type Handler interface {
	// Begin is called when the target is addressed. block is the offset of
	// the matched address from the target's base address.
	Begin(block int, read bool)
	// Write receives a byte from the master; returning false withholds the
	// acknowledge.
	Write(b byte) bool
	// Read returns the next byte to send to the master.
	Read() byte
	// End is called on STOP after the target was addressed.
	End()
}

// Busy is implemented by handlers that can refuse their address, like an
// EEPROM during its internal write cycle.
type Busy interface {
	Busy() bool
}

type phase uint8

const (
	phIdle phase = iota
	phAddr
	phRecv
	phSend
)

// Target is a bit-level I2C slave state machine. It samples SDA on rising
// SCL edges and changes its own SDA output only on falling edges.
type Target struct {
	// Address is the 7-bit base address.
	Address uint16
	// Width is the number of consecutive addresses the target answers;
	// zero means one.
	Width int
	// HoldClock makes the target stretch SCL low indefinitely once it has
	// acknowledged its address.
	HoldClock bool
	Handler   Handler

	phase     phase
	bit       int
	shift     byte
	pending   []bool
	ackSlot   bool
	read      bool
	addressed bool
	masterAck bool
	out       byte

	sdaLow bool
	sclLow bool

	bits     []bool
	observed []byte
	starts   int
	stops    int
}

// NewTarget returns a target at addr backed by h.
func NewTarget(addr uint16, h Handler) *Target {
	return &Target{Address: addr, Handler: h}
}

// Bits returns the SDA levels sampled for every complete byte the master
// shifted to this target, address bytes included.
func (t *Target) Bits() []bool {
	out := make([]bool, len(t.bits))
	copy(out, t.bits)
	return out
}

// Observed returns every byte the master sent while this target was
// addressed, address bytes included.
func (t *Target) Observed() []byte {
	out := make([]byte, len(t.observed))
	copy(out, t.observed)
	return out
}

// Conditions returns the number of START (including repeated) and STOP
// conditions seen.
func (t *Target) Conditions() (starts, stops int) {
	return t.starts, t.stops
}

// ReleaseClock stops stretching SCL.
func (t *Target) ReleaseClock() {
	t.HoldClock = false
	t.sclLow = false
}

// Reset clears the recorded bits and bytes.
func (t *Target) Reset() {
	t.bits = nil
	t.observed = nil
	t.starts, t.stops = 0, 0
}

func (t *Target) matches(addr uint16) (int, bool) {
	width := t.Width
	if width <= 0 {
		width = 1
	}
	if addr < t.Address || int(addr-t.Address) >= width {
		return 0, false
	}
	return int(addr - t.Address), true
}

func (t *Target) start() {
	t.starts++
	t.phase = phAddr
	t.bit, t.shift, t.pending = 0, 0, nil
	t.ackSlot = false
	t.sdaLow = false
}

func (t *Target) stop() {
	t.stops++
	if t.addressed && t.Handler != nil {
		t.Handler.End()
	}
	t.phase = phIdle
	t.addressed = false
	t.ackSlot = false
	t.sdaLow = false
	t.sclLow = false
}

func (t *Target) rising(sda bool) {
	switch t.phase {
	case phAddr, phRecv:
		if t.ackSlot || t.bit >= 8 {
			return
		}
		t.shift <<= 1
		if sda {
			t.shift |= 1
		}
		t.pending = append(t.pending, sda)
		t.bit++
	case phSend:
		if t.ackSlot {
			t.masterAck = !sda
			return
		}
		t.bit++
	}
}

func (t *Target) falling() {
	switch t.phase {
	case phAddr:
		if t.ackSlot {
			t.ackSlot = false
			t.sdaLow = false
			t.bit, t.shift, t.pending = 0, 0, nil
			if t.HoldClock {
				t.sclLow = true
			}
			if t.read {
				t.phase = phSend
				t.load()
			} else {
				t.phase = phRecv
			}
			return
		}
		if t.bit < 8 {
			return
		}
		block, ok := t.matches(uint16(t.shift >> 1))
		if !ok || t.busy() {
			t.phase = phIdle
			return
		}
		t.read = t.shift&1 != 0
		t.addressed = true
		t.record()
		if t.Handler != nil {
			t.Handler.Begin(block, t.read)
		}
		t.ackSlot = true
		t.sdaLow = true
	case phRecv:
		if t.ackSlot {
			t.ackSlot = false
			t.sdaLow = false
			t.bit, t.shift, t.pending = 0, 0, nil
			return
		}
		if t.bit < 8 {
			return
		}
		v := t.shift
		t.record()
		ok := t.Handler == nil || t.Handler.Write(v)
		t.ackSlot = true
		t.sdaLow = ok
	case phSend:
		if t.ackSlot {
			t.ackSlot = false
			if !t.masterAck {
				t.phase = phIdle
				t.sdaLow = false
				return
			}
			t.load()
			return
		}
		if t.bit >= 8 {
			t.ackSlot = true
			t.sdaLow = false
			return
		}
		t.drive()
	}
}

func (t *Target) busy() bool {
	b, ok := t.Handler.(Busy)
	return ok && b.Busy()
}

// record keeps the completed byte and its sampled bits.
func (t *Target) record() {
	t.bits = append(t.bits, t.pending...)
	t.observed = append(t.observed, t.shift)
}

// load fetches the next byte for the master and drives its first bit.
func (t *Target) load() {
	t.bit = 0
	t.out = 0xFF
	if t.Handler != nil {
		t.out = t.Handler.Read()
	}
	t.drive()
}

func (t *Target) drive() {
	t.sdaLow = t.out&(1<<(7-t.bit)) == 0
}
