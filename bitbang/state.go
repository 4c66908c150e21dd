package bitbang

import "fmt"

// State is the position of a bus in the I2C framing state machine.
type State uint8

const (
	Idle State = iota
	Started
	ByteInProgress
	AwaitingAck
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Started:
		return "Started"
	case ByteInProgress:
		return "ByteInProgress"
	case AwaitingAck:
		return "AwaitingAck"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}
