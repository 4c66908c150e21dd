package bitbang

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAck matches every *NoAckError.
	ErrNoAck = errors.New("bitbang: byte not acknowledged")
	// ErrNoDevice matches a *NoAckError raised on an address byte.
	ErrNoDevice = errors.New("bitbang: no device at address")
	// ErrInvalidState matches every *InvalidStateError.
	ErrInvalidState = errors.New("bitbang: operation out of sequence")
	// ErrTimeout is returned when a target holds SCL low past the
	// clock-stretch limit.
	ErrTimeout = errors.New("bitbang: clock stretch timeout")
	// ErrAddress is returned for addresses outside the 7-bit range.
	ErrAddress = errors.New("bitbang: address out of 7-bit range")
)

// NoAckError reports a byte the target left unacknowledged.
type NoAckError struct {
	Value   byte // byte as sent on the wire
	Address bool // Value was an address byte
}

func (e *NoAckError) Error() string {
	if e.Address {
		dir := "write"
		if e.Value&1 != 0 {
			dir = "read"
		}
		return fmt.Sprintf("bitbang: no acknowledge from address %#02x (%s)", e.Value>>1, dir)
	}
	return fmt.Sprintf("bitbang: byte %#02x not acknowledged", e.Value)
}

func (e *NoAckError) Is(target error) bool {
	return target == ErrNoAck || (e.Address && target == ErrNoDevice)
}

// InvalidStateError reports a bus primitive called out of sequence.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("bitbang: %s not allowed in state %s", e.Op, e.State)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }
