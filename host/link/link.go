// Package link is the host side of the rcpod controller connection. A Link
// identifies the controller, then exposes its register poke and peek
// commands, which makes it a gpio.Controller.
package link

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"rcpod/config"
	"rcpod/gpio"
	"rcpod/host/serial"
	"rcpod/logging"
	"rcpod/protocol"
)

// Bootstrap ids, fixed before the dictionary is known.
const (
	identifyResponseID = 0
	identifyID         = 1

	// identifyChunk keeps every identify_response within one frame.
	identifyChunk = 40
)

var (
	ErrNotIdentified  = errors.New("controller not identified")
	ErrUnknownCommand = errors.New("unknown controller command")
	// ErrController matches every *ControllerError.
	ErrController = errors.New("controller command failed")
)

// ControllerError is a failure the controller reported for one command.
type ControllerError struct {
	Command string
	Message string
}

func (e *ControllerError) Error() string {
	return "controller: " + e.Command + ": " + e.Message
}

func (e *ControllerError) Is(target error) bool { return target == ErrController }

var _ gpio.Controller = (*Link)(nil)

// Link is a connection to one controller. It is safe for concurrent use;
// exchanges are serialised.
type Link struct {
	transport *protocol.HostTransport
	logger    logging.Logger

	mu   sync.Mutex
	raw  []byte
	dict *Dictionary
	poke Message
	peek Message
	resp Message
	// fail is command_error; its ID stays zero-valued when the
	// controller does not report failures.
	fail    Message
	hasFail bool
}

// Dial opens the serial port named in cfg and identifies the controller.
func Dial(ctx context.Context, cfg config.LinkConfig, logger logging.Logger) (*Link, error) {
	sc := serial.DefaultConfig(cfg.Device)
	if cfg.Baud != 0 {
		sc.Baud = cfg.Baud
	}
	port, err := serial.Open(sc)
	if err != nil {
		return nil, err
	}
	return New(ctx, port, cfg.Timeout, logger)
}

// New runs the link over rwc, which it owns from here on. A zero timeout
// selects protocol.DefaultTimeout.
func New(ctx context.Context, rwc io.ReadWriteCloser, timeout time.Duration, logger logging.Logger) (*Link, error) {
	logger = logging.OrNop(logger)
	t := protocol.NewHostTransport(rwc, logger)
	if timeout > 0 {
		t.SetTimeout(timeout)
	}
	l := &Link{transport: t, logger: logger}
	if err := l.Identify(ctx); err != nil {
		return nil, multierr.Append(err, t.Close())
	}
	return l, nil
}

// Identify downloads and parses the controller dictionary.
func (l *Link) Identify(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var raw []byte
	for {
		chunk, err := l.identifyChunk(ctx, uint32(len(raw)))
		if err != nil {
			return errors.Wrapf(err, "identify at offset %d", len(raw))
		}
		raw = append(raw, chunk...)
		if len(chunk) < identifyChunk {
			break
		}
	}
	dict, err := ParseDictionary(raw)
	if err != nil {
		return err
	}

	var msgs [3]Message
	for i, name := range []string{"poke", "peek"} {
		m, ok := dict.Command(name)
		if !ok {
			return errors.Wrap(ErrUnknownCommand, name)
		}
		msgs[i] = m
	}
	resp, ok := dict.Response("peek_response")
	if !ok {
		return errors.Wrap(ErrUnknownCommand, "peek_response")
	}
	msgs[2] = resp

	l.raw, l.dict = raw, dict
	l.poke, l.peek, l.resp = msgs[0], msgs[1], msgs[2]
	l.fail, l.hasFail = dict.Response("command_error")
	l.logger.Debugw("controller identified", "version", dict.Version, "bytes", len(raw),
		"commands", len(dict.Commands))
	return nil
}

func (l *Link) identifyChunk(ctx context.Context, offset uint32) ([]byte, error) {
	err := l.transport.SendCommand(ctx, identifyID, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, offset)
		protocol.EncodeVLQUint(o, identifyChunk)
	})
	if err != nil {
		return nil, err
	}
	for {
		data, err := l.await(ctx, identifyResponseID, Message{ID: identifyID, Name: "identify"})
		if err != nil {
			return nil, err
		}
		got, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			return nil, err
		}
		chunk, err := protocol.DecodeVLQBytes(&data)
		if err != nil {
			return nil, err
		}
		if got == offset {
			return chunk, nil
		}
		l.logger.Debugw("stale identify response", "offset", got, "want", offset)
	}
}

// await returns the arguments of the next response with the given id,
// discarding any others. A command_error for cmd ends the wait.
func (l *Link) await(ctx context.Context, id uint16, cmd Message) ([]byte, error) {
	for {
		msg, err := l.transport.ReceiveResponse(ctx)
		if err != nil {
			return nil, err
		}
		data := msg.Payload
		got, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			return nil, err
		}
		if uint16(got) == id {
			return data, nil
		}
		if cerr := l.controllerError(uint16(got), data, cmd); cerr != nil {
			return nil, cerr
		}
		l.logger.Debugw("skipping response", "id", got, "want", id)
	}
}

// failed collects a command_error for cmd from the responses already
// queued. It is called after the acknowledgement of cmd, which the
// controller sends after any error.
func (l *Link) failed(cmd Message) error {
	for {
		msg, ok := l.transport.PendingResponse()
		if !ok {
			return nil
		}
		data := msg.Payload
		got, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			continue
		}
		if cerr := l.controllerError(uint16(got), data, cmd); cerr != nil {
			return cerr
		}
		l.logger.Debugw("skipping response", "id", got)
	}
}

func (l *Link) controllerError(id uint16, data []byte, cmd Message) error {
	if !l.hasFail || id != l.fail.ID {
		return nil
	}
	failed, err := protocol.DecodeVLQUint(&data)
	if err != nil || uint16(failed) != cmd.ID {
		return nil
	}
	text, _ := protocol.DecodeVLQBytes(&data)
	return &ControllerError{Command: cmd.Name, Message: string(text)}
}

// Dictionary returns the parsed identify data, or nil before Identify.
func (l *Link) Dictionary() *Dictionary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dict
}

// RawDictionary returns the identify data as received.
func (l *Link) RawDictionary() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.raw
}

// Command sends the named command without waiting for a response.
func (l *Link) Command(ctx context.Context, name string, args func(protocol.OutputBuffer)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.commandLocked(name)
	if err != nil {
		return err
	}
	l.logger.Debugw("command", "name", name, "id", m.ID)
	if err := l.transport.SendCommand(ctx, m.ID, args); err != nil {
		return errors.Wrap(err, name)
	}
	return l.failed(m)
}

func (l *Link) commandLocked(name string) (Message, error) {
	if l.dict == nil {
		return Message{}, ErrNotIdentified
	}
	m, ok := l.dict.Command(name)
	if !ok {
		return Message{}, errors.Wrap(ErrUnknownCommand, name)
	}
	return m, nil
}

// Poke writes v to controller register addr.
func (l *Link) Poke(ctx context.Context, addr uint16, v byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dict == nil {
		return ErrNotIdentified
	}
	err := l.transport.SendCommand(ctx, l.poke.ID, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(addr))
		protocol.EncodeVLQUint(o, uint32(v))
	})
	if err == nil {
		err = l.failed(l.poke)
	}
	return errors.Wrapf(err, "poke 0x%03x", addr)
}

// Peek reads controller register addr.
func (l *Link) Peek(ctx context.Context, addr uint16) (byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dict == nil {
		return 0, ErrNotIdentified
	}
	err := l.transport.SendCommand(ctx, l.peek.ID, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(addr))
	})
	if err != nil {
		return 0, errors.Wrapf(err, "peek 0x%03x", addr)
	}
	for {
		data, err := l.await(ctx, l.resp.ID, l.peek)
		if err != nil {
			return 0, errors.Wrapf(err, "peek 0x%03x", addr)
		}
		got, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			return 0, errors.Wrapf(err, "peek 0x%03x", addr)
		}
		v, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			return 0, errors.Wrapf(err, "peek 0x%03x", addr)
		}
		if uint16(got) == addr {
			return byte(v), nil
		}
	}
}

// PokeRegister implements gpio.Controller with the transport's default timeout.
func (l *Link) PokeRegister(addr uint16, v byte) error {
	return l.Poke(context.Background(), addr, v)
}

// PeekRegister implements gpio.Controller with the transport's default timeout.
func (l *Link) PeekRegister(addr uint16) (byte, error) {
	return l.Peek(context.Background(), addr)
}

// Reset asks the controller to return to its power-on state and restarts
// sequence numbering.
func (l *Link) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.commandLocked("reset")
	if err != nil {
		return err
	}
	if err := l.transport.SendCommand(ctx, m.ID, nil); err != nil {
		return errors.Wrap(err, "reset")
	}
	if err := l.failed(m); err != nil {
		return err
	}
	l.transport.Reset()
	return nil
}

// Close shuts the transport and the underlying port.
func (l *Link) Close() error {
	return l.transport.Close()
}
