package protocol

import (
	"go.uber.org/zap"

	"rcpod/logging"
)

// CommandHandler decodes the arguments of command cmdID from the front of
// *data, leaving any following commands in place.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the controller end of the link. It validates incoming
// frames, dispatches their commands, and writes acknowledgements and
// responses to its OutputBuffer. It is driven by a single goroutine.
type Transport struct {
	scan    scanner
	next    uint8
	output  OutputBuffer
	handler CommandHandler
	onReset func()
	logger  logging.Logger
	scratch ScratchOutput
}

func NewTransport(output OutputBuffer, handler CommandHandler, logger logging.Logger) *Transport {
	t := &Transport{
		next:    MessageDest,
		output:  output,
		handler: handler,
		logger:  logging.OrNop(logger),
	}
	t.scan.resync = t.encodeAckNak
	return t
}

// Receive consumes every complete frame in input. A frame whose sequence
// is not the expected one is not executed but still answered, which tells
// the host which sequence to send. A frame with sequence 0x10 while
// another one is expected means the host restarted.
func (t *Transport) Receive(input InputBuffer) {
	n := t.scan.scan(input.Data(), func(msg Message) {
		if msg.Sequence == MessageDest && t.next != MessageDest {
			t.logger.Debugw("host reset detected", "expected", t.next)
			t.next = MessageDest
			if t.onReset != nil {
				t.onReset()
			}
		}
		if msg.Sequence == t.next {
			t.next = NextSequence(t.next)
			t.dispatch(msg.Payload)
		}
		t.encodeAckNak()
	})
	input.Pop(n)
}

func (t *Transport) dispatch(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Errorw("command handler panicked", "panic", r)
			t.scan.desynced = true
		}
	}()
	for len(frame) > 0 {
		id, err := DecodeVLQUint(&frame)
		if err != nil {
			t.logger.Warnw("malformed command id", zap.Error(err))
			t.scan.desynced = true
			return
		}
		if t.handler == nil {
			return
		}
		if err := t.handler(uint16(id), &frame); err != nil {
			// The rest of the frame cannot be decoded once a handler
			// has failed part way through its arguments.
			t.logger.Warnw("command failed", "id", id, zap.Error(err))
			return
		}
	}
}

func (t *Transport) encodeAckNak() {
	frame, _ := AppendFrame(make([]byte, 0, MessageLengthMin), t.next, nil)
	t.output.Output(frame)
}

// SendCommand writes one response frame. Responses share the sequence of
// the acknowledgement that follows them.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	t.scratch.Reset()
	EncodeVLQUint(&t.scratch, uint32(cmdID))
	if args != nil {
		args(&t.scratch)
	}
	if t.scratch.Overflow() {
		return ErrMessageTooLong
	}
	frame, err := AppendFrame(make([]byte, 0, MessageLengthMax), t.next, t.scratch.Result())
	if err != nil {
		return err
	}
	t.output.Output(frame)
	return nil
}

// Reset returns the transport to its power-on state.
func (t *Transport) Reset() {
	t.scan.desynced = false
	t.next = MessageDest
	if t.onReset != nil {
		t.onReset()
	}
}

// SetResetCallback registers fn to run when the host restarts the link.
func (t *Transport) SetResetCallback(fn func()) {
	t.onReset = fn
}

// NextSequence reports the sequence the transport expects next.
func (t *Transport) NextSequence() uint8 {
	return t.next
}
