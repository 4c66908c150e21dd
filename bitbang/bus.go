// Package bitbang implements an I2C master entirely in software on two
// open-drain controller lines.
//
// Lines are never driven high: a one is produced by releasing the line to
// its pull-up, a zero by pulling it low. SDA only changes while SCL is low,
// except for the start and stop conditions.
package bitbang

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"rcpod/gpio"
	"rcpod/logging"
	"rcpod/trace"
)

// Master is the set of framing primitives available inside a Transaction.
type Master interface {
	Start() error
	RepeatedStart() error
	Stop() error
	WriteByte(b byte) error
	ReadByteAck(ack bool) (byte, error)
	State() State
}

// Bus is one software I2C bus on a pair of controller lines. The Bus
// claims its pins until Close; it never closes the controller.
type Bus struct {
	mu sync.Mutex

	scl *gpio.OpenDrainPin
	sda *gpio.OpenDrainPin

	state          State
	halfPeriod     time.Duration
	stretch        bool
	stretchTimeout time.Duration
	deadline       time.Time

	sink   trace.Sink
	logger logging.Logger
	sleep  func(time.Duration)
}

// New releases both lines and returns an idle bus.
func New(scl, sda *gpio.OpenDrainPin, opts ...Option) (*Bus, error) {
	if scl == nil || sda == nil {
		return nil, errors.New("bitbang: nil pin")
	}
	if scl.Pin() == sda.Pin() {
		return nil, fmt.Errorf("bitbang: SCL and SDA both on %s", scl)
	}
	b := &Bus{
		scl:            scl,
		sda:            sda,
		stretch:        true,
		stretchTimeout: DefaultStretchTimeout,
		sink:           trace.Nop,
		sleep:          time.Sleep,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.OrNop(b.logger)

	if err := scl.Pin().Claim(b); err != nil {
		return nil, fmt.Errorf("bitbang: SCL: %w", err)
	}
	if err := sda.Pin().Claim(b); err != nil {
		b.unclaim()
		return nil, fmt.Errorf("bitbang: SDA: %w", err)
	}
	if err := b.sda.Release(); err != nil {
		b.unclaim()
		return nil, err
	}
	if err := b.scl.Release(); err != nil {
		b.unclaim()
		return nil, err
	}
	return b, nil
}

func (b *Bus) unclaim() {
	b.scl.Pin().Unclaim(b)
	b.sda.Pin().Unclaim(b)
}

func (b *Bus) String() string {
	return fmt.Sprintf("bitbang/i2c(%s, %s)", b.scl, b.sda)
}

// State returns the current framing state.
func (b *Bus) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start issues a START condition. The bus must be Idle.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.start()
}

// RepeatedStart issues a START condition without a preceding STOP. The bus
// must be Started.
func (b *Bus) RepeatedStart() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.repeatedStart()
}

// Stop issues a STOP condition and returns the bus to Idle.
func (b *Bus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stop()
}

// WriteByte shifts b out MSB first and samples the target's acknowledge.
// A missing acknowledge returns a *NoAckError and leaves the bus Started.
func (b *Bus) WriteByte(v byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeByte(v)
}

// ReadByteAck shifts a byte in MSB first, then acknowledges it when ack is
// true or leaves it unacknowledged to end the read.
func (b *Bus) ReadByteAck(ack bool) (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readByte(ack)
}

// Transaction runs fn with exclusive use of the bus. Calling the Bus's own
// methods from fn deadlocks; use m. If the bus is not Idle when fn returns,
// a STOP is issued. The error from fn takes precedence.
func (b *Bus) Transaction(fn func(m Master) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := fn(master{b})
	if b.state != Idle {
		if serr := b.stop(); serr != nil {
			if err == nil {
				return serr
			}
			b.logger.Debugw("stop after failed transaction", "bus", b.String(), "error", serr)
		}
	}
	return err
}

// master exposes the unlocked primitives to a Transaction callback.
type master struct{ b *Bus }

func (m master) Start() error                       { return m.b.start() }
func (m master) RepeatedStart() error               { return m.b.repeatedStart() }
func (m master) Stop() error                        { return m.b.stop() }
func (m master) WriteByte(v byte) error             { return m.b.writeByte(v) }
func (m master) ReadByteAck(ack bool) (byte, error) { return m.b.readByte(ack) }
func (m master) State() State                       { return m.b.state }

// WriteAddress sends the address byte for a 7-bit address. A missing
// acknowledge is reported as ErrNoDevice.
func WriteAddress(m Master, addr uint16, read bool) error {
	if addr > 0x7F {
		return fmt.Errorf("%w: %#x", ErrAddress, addr)
	}
	v := byte(addr << 1)
	if read {
		v |= 1
	}
	err := m.WriteByte(v)
	var nack *NoAckError
	if errors.As(err, &nack) {
		nack.Address = true
	}
	return err
}

func (b *Bus) start() error {
	if b.state != Idle {
		return &InvalidStateError{Op: "start", State: b.state}
	}
	b.armDeadline()
	// Both lines must be high before SDA falls.
	if err := b.sda.Release(); err != nil {
		return err
	}
	if err := b.sclHigh(); err != nil {
		return err
	}
	b.delay()
	if err := b.sda.PullLow(); err != nil {
		return err
	}
	b.delay()
	if err := b.scl.PullLow(); err != nil {
		return err
	}
	b.state = Started
	b.sink.Record(trace.Event{Kind: trace.KindStart})
	return nil
}

func (b *Bus) repeatedStart() error {
	if b.state != Started {
		return &InvalidStateError{Op: "repeated start", State: b.state}
	}
	b.armDeadline()
	if err := b.sda.Release(); err != nil {
		return err
	}
	b.delay()
	if err := b.sclHigh(); err != nil {
		return err
	}
	b.delay()
	if err := b.sda.PullLow(); err != nil {
		return err
	}
	b.delay()
	if err := b.scl.PullLow(); err != nil {
		return err
	}
	b.sink.Record(trace.Event{Kind: trace.KindRepeatedStart})
	return nil
}

func (b *Bus) stop() error {
	if b.state == Idle {
		return &InvalidStateError{Op: "stop", State: b.state}
	}
	b.armDeadline()
	if err := b.scl.PullLow(); err != nil {
		return err
	}
	if err := b.sda.PullLow(); err != nil {
		return err
	}
	b.delay()
	if err := b.sclHigh(); err != nil {
		return err
	}
	b.delay()
	if err := b.sda.Release(); err != nil {
		return err
	}
	b.delay()
	b.state = Idle
	b.sink.Record(trace.Event{Kind: trace.KindStop})
	return nil
}

func (b *Bus) writeByte(v byte) error {
	if b.state != Started {
		return &InvalidStateError{Op: "write byte", State: b.state}
	}
	b.armDeadline()
	b.state = ByteInProgress
	for i := 7; i >= 0; i-- {
		if err := b.sda.Drive(gpio.Level(v&(1<<i) != 0)); err != nil {
			return err
		}
		if err := b.clockPulse(); err != nil {
			return err
		}
	}

	b.state = AwaitingAck
	if err := b.sda.Release(); err != nil {
		return err
	}
	b.delay()
	if err := b.sclHigh(); err != nil {
		return err
	}
	b.delay()
	level, err := b.sda.Read()
	if err != nil {
		return err
	}
	if err := b.scl.PullLow(); err != nil {
		return err
	}
	b.state = Started

	ack := level == gpio.Low
	b.sink.Record(trace.Event{Kind: trace.KindWrite, Value: v, Ack: ack})
	if !ack {
		return &NoAckError{Value: v}
	}
	return nil
}

func (b *Bus) readByte(ack bool) (byte, error) {
	if b.state != Started {
		return 0, &InvalidStateError{Op: "read byte", State: b.state}
	}
	b.armDeadline()
	b.state = ByteInProgress
	if err := b.sda.Release(); err != nil {
		return 0, err
	}
	var v byte
	for i := 7; i >= 0; i-- {
		b.delay()
		if err := b.sclHigh(); err != nil {
			return 0, err
		}
		b.delay()
		level, err := b.sda.Read()
		if err != nil {
			return 0, err
		}
		if level == gpio.High {
			v |= 1 << i
		}
		if err := b.scl.PullLow(); err != nil {
			return 0, err
		}
	}

	b.state = AwaitingAck
	if err := b.sda.Drive(gpio.Level(!ack)); err != nil {
		return 0, err
	}
	if err := b.clockPulse(); err != nil {
		return 0, err
	}
	if err := b.sda.Release(); err != nil {
		return 0, err
	}
	b.state = Started
	b.sink.Record(trace.Event{Kind: trace.KindRead, Value: v, Ack: ack})
	return v, nil
}

// clockPulse raises and lowers SCL around a stable SDA.
func (b *Bus) clockPulse() error {
	b.delay()
	if err := b.sclHigh(); err != nil {
		return err
	}
	b.delay()
	return b.scl.PullLow()
}

// sclHigh releases SCL and, with clock stretching enabled, waits until the
// line is actually high.
func (b *Bus) sclHigh() error {
	if err := b.scl.Release(); err != nil {
		return err
	}
	if !b.stretch {
		return nil
	}
	for {
		level, err := b.scl.Read()
		if err != nil {
			return err
		}
		if level == gpio.High {
			return nil
		}
		if !b.deadline.IsZero() && time.Now().After(b.deadline) {
			b.sink.Record(trace.Event{Kind: trace.KindTimeout})
			return fmt.Errorf("%w after %s on %s", ErrTimeout, b.stretchTimeout, b.scl)
		}
		b.delay()
	}
}

func (b *Bus) armDeadline() {
	if b.stretch && b.stretchTimeout > 0 {
		b.deadline = time.Now().Add(b.stretchTimeout)
	} else {
		b.deadline = time.Time{}
	}
}

func (b *Bus) delay() {
	if b.halfPeriod > 0 {
		b.sleep(b.halfPeriod)
	}
}
