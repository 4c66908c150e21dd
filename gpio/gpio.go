// Package gpio models the digital lines of an rcpod-style controller.
//
// The controller itself is reached only through two primitives, register
// poke and register peek. A Board owns the controller handle and the shadow
// copies of the direction (TRIS) and output latch (PORT) registers; every Pin
// on the same port shares them, so a direction or level change is always a
// single register write.
package gpio

import (
	"errors"
	"fmt"
)

// Controller is the narrow interface a controller transport must satisfy.
type Controller interface {
	// PokeRegister writes value to the register at addr.
	PokeRegister(addr uint16, value byte) error
	// PeekRegister reads the register at addr.
	PeekRegister(addr uint16) (byte, error)
}

// Level is the electrical level of a line.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "High"
	}
	return "Low"
}

// Direction is the configured direction of a pin. The zero value is Input,
// which is also the controller's reset state.
type Direction uint8

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "Input"
	case Output:
		return "Output"
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

var (
	// ErrCommunication matches every *CommunicationError.
	ErrCommunication = errors.New("gpio: controller communication failed")
	// ErrInvalidState matches every *InvalidStateError.
	ErrInvalidState = errors.New("gpio: operation invalid in current pin state")
	// ErrUnknownPort is returned for a port name the board does not map.
	ErrUnknownPort = errors.New("gpio: unknown port")
	// ErrClaimed matches every *ClaimedError.
	ErrClaimed = errors.New("gpio: pin already claimed")
)

// CommunicationError reports a failed poke or peek on the controller.
type CommunicationError struct {
	Op       string // "poke" or "peek"
	Register uint16
	Err      error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("gpio: %s register %#04x: %v", e.Op, e.Register, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

func (e *CommunicationError) Is(target error) bool { return target == ErrCommunication }

// InvalidStateError reports a pin operation that its direction does not allow.
type InvalidStateError struct {
	Op        string
	Pin       string
	Direction Direction
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("gpio: %s on %s while configured as %s", e.Op, e.Pin, e.Direction)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// ClaimedError reports a line another owner already holds.
type ClaimedError struct {
	Pin   string
	Owner string
}

func (e *ClaimedError) Error() string {
	return fmt.Sprintf("gpio: %s already claimed by %s", e.Pin, e.Owner)
}

func (e *ClaimedError) Is(target error) bool { return target == ErrClaimed }
