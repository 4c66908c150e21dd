// Package protocol implements the framed command link between the host and
// an rcpod controller.
//
// A frame is a length byte, a sequence byte (0x10 | n), a payload of
// VLQ-encoded command ids and arguments, a big-endian CRC16 and the 0x7E
// sync byte. Every frame the controller accepts is answered with an empty
// acknowledgement frame carrying the next sequence it expects.
package protocol

import "errors"

// Version is reported by the controller in its identify dictionary.
const Version = "rcpod-link-0.1"

const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin

	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1

	MessageValueSync = 0x7E
	MessageDest      = 0x10
	MessageSeqMask   = 0x0F
)

var (
	ErrInvalidVLQ      = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall  = errors.New("buffer too small for VLQ")
	ErrMessageTooLong  = errors.New("message too long")
	ErrTimeout         = errors.New("timed out waiting for controller")
	ErrTransportClosed = errors.New("transport closed")
)

// Message is one validated frame received from the other end.
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte
	CRC      uint16
}

// NextSequence returns the sequence byte that follows seq.
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
