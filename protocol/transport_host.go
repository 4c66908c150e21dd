package protocol

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"rcpod/logging"
)

// DefaultTimeout bounds a command or response wait when the caller's
// context carries no deadline.
const DefaultTimeout = 2 * time.Second

// ResponseHandler observes every response frame; data is positioned after
// the command id.
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host end of the link. Commands are sent one at a
// time and each waits for the controller's acknowledgement. Responses are
// queued for ReceiveResponse.
type HostTransport struct {
	port    io.ReadWriteCloser
	logger  logging.Logger
	timeout atomic.Int64

	mu  sync.Mutex
	seq uint8

	readMu  sync.Mutex
	scan    scanner
	input   *FifoBuffer
	handler ResponseHandler

	acks      chan Message
	responses chan Message

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
	readErr   error
}

// NewHostTransport starts reading from port immediately.
func NewHostTransport(port io.ReadWriteCloser, logger logging.Logger) *HostTransport {
	t := &HostTransport{
		port:      port,
		logger:    logging.OrNop(logger),
		seq:       MessageDest,
		input:     NewFifoBuffer(512),
		acks:      make(chan Message, 4),
		responses: make(chan Message, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	t.timeout.Store(int64(DefaultTimeout))
	go t.readLoop()
	return t
}

// SetTimeout replaces DefaultTimeout.
func (t *HostTransport) SetTimeout(d time.Duration) {
	t.timeout.Store(int64(d))
}

// SetResponseHandler registers h to observe responses as they arrive.
func (t *HostTransport) SetResponseHandler(h ResponseHandler) {
	t.readMu.Lock()
	t.handler = h
	t.readMu.Unlock()
}

// SendCommand sends one command frame and waits until the controller
// acknowledges it.
func (t *HostTransport) SendCommand(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var payload ScratchOutput
	EncodeVLQUint(&payload, uint32(cmdID))
	if args != nil {
		args(&payload)
	}
	if payload.Overflow() {
		return fmt.Errorf("command %d: %w", cmdID, ErrMessageTooLong)
	}
	frame, err := AppendFrame(nil, t.seq, payload.Result())
	if err != nil {
		return fmt.Errorf("command %d: %w", cmdID, err)
	}

	t.drainAcks()
	if _, err := t.port.Write(frame); err != nil {
		return fmt.Errorf("write command %d: %w", cmdID, err)
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	want := NextSequence(t.seq)
	for {
		select {
		case ack := <-t.acks:
			if ack.Sequence == want {
				t.seq = want
				return nil
			}
			// A stale or resync acknowledgement; keep waiting for ours.
			t.logger.Debugw("ignoring acknowledgement", "seq", ack.Sequence, "want", want)
		case <-ctx.Done():
			return fmt.Errorf("command %d not acknowledged: %w", cmdID, ctxErr(ctx))
		case <-t.done:
			return t.closedErr()
		}
	}
}

// ReceiveResponse returns the oldest queued response.
func (t *HostTransport) ReceiveResponse(ctx context.Context) (Message, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	select {
	case msg := <-t.responses:
		return msg, nil
	case <-ctx.Done():
		return Message{}, fmt.Errorf("waiting for response: %w", ctxErr(ctx))
	case <-t.done:
		return Message{}, t.closedErr()
	}
}

// PendingResponse returns the oldest queued response without waiting.
// Responses precede the acknowledgement of their command, so once
// SendCommand has returned every response to that command is queued.
func (t *HostTransport) PendingResponse() (Message, bool) {
	select {
	case msg := <-t.responses:
		return msg, true
	default:
		return Message{}, false
	}
}

func (t *HostTransport) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d := time.Duration(t.timeout.Load())
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func ctxErr(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return ErrTimeout
	}
	return ctx.Err()
}

func (t *HostTransport) drainAcks() {
	for {
		select {
		case <-t.acks:
		default:
			return
		}
	}
}

func (t *HostTransport) closedErr() error {
	if t.readErr != nil && t.readErr != io.EOF {
		return fmt.Errorf("%w: %v", ErrTransportClosed, t.readErr)
	}
	return ErrTransportClosed
}

func (t *HostTransport) readLoop() {
	defer close(t.done)
	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			t.process(buf[:n])
		}
		if err != nil {
			select {
			case <-t.stop:
			default:
				t.logger.Debugw("link read failed", zap.Error(err))
			}
			t.readErr = err
			return
		}
	}
}

func (t *HostTransport) process(data []byte) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for len(data) > 0 {
		n := t.input.Write(data)
		data = data[n:]
		used := t.scan.scan(t.input.Data(), t.dispatch)
		t.input.Pop(used)
		if n == 0 && used == 0 {
			// A full buffer with no frame in it cannot make progress.
			t.input.Reset()
			t.scan.desynced = true
		}
	}
}

func (t *HostTransport) dispatch(msg Message) {
	msg.Payload = append([]byte(nil), msg.Payload...)
	if len(msg.Payload) == 0 {
		select {
		case t.acks <- msg:
		default:
			t.logger.Warnw("acknowledgement dropped", "seq", msg.Sequence)
		}
		return
	}
	if t.handler != nil {
		data := msg.Payload
		if id, err := DecodeVLQUint(&data); err == nil {
			if err := t.handler(uint16(id), &data); err != nil {
				t.logger.Debugw("response handler failed", "id", id, zap.Error(err))
			}
		}
	}
	for {
		select {
		case t.responses <- msg:
			return
		default:
		}
		// Full: drop the oldest response.
		select {
		case old := <-t.responses:
			t.logger.Warnw("response dropped", "seq", old.Sequence)
		default:
		}
	}
}

// Reset restarts sequence numbering and discards queued input.
func (t *HostTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readMu.Lock()
	defer t.readMu.Unlock()

	t.seq = MessageDest
	t.scan.desynced = false
	t.input.Reset()
	t.drainAcks()
	for len(t.responses) > 0 {
		<-t.responses
	}
}

// Sequence reports the sequence byte of the next command.
func (t *HostTransport) Sequence() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Close closes the port and waits for the reader to exit.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}
