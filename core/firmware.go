// Package core emulates the rcpod controller firmware: it answers the
// link protocol and carries out register pokes and peeks on a
// gpio.Controller, typically the simulated two-wire line.
package core

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"rcpod/gpio"
	"rcpod/logging"
	"rcpod/protocol"
)

const (
	// identifyMax keeps one identify_response inside a single frame.
	identifyMax = 48
	// errorTextMax keeps one command_error inside a single frame.
	errorTextMax = 48
)

// Firmware answers one host at a time.
type Firmware struct {
	ctrl      gpio.Controller
	logger    logging.Logger
	registry  *CommandRegistry
	dict      *Dictionary
	transport *protocol.Transport
	out       protocol.SliceOutput
	onReset   func()

	identifyResponse uint16
	peekResponse     uint16
	errorResponse    uint16
	resetPending     bool
}

type Option func(*Firmware)

// WithResetHandler runs fn when the host sends reset, after the command
// has been acknowledged.
func WithResetHandler(fn func()) Option {
	return func(f *Firmware) { f.onReset = fn }
}

// WithVersion sets the version reported in the dictionary.
func WithVersion(v string) Option {
	return func(f *Firmware) { f.dict.SetVersion(v) }
}

func NewFirmware(ctrl gpio.Controller, logger logging.Logger, opts ...Option) *Firmware {
	f := &Firmware{
		ctrl:     ctrl,
		logger:   logging.OrNop(logger),
		registry: NewCommandRegistry(),
	}
	f.dict = NewDictionary(f.registry)

	// Host tools assume these two ids before they have read the dictionary.
	f.identifyResponse = f.registry.RegisterResponse("identify_response", "offset=%u data=%.*s")
	f.registry.Register("identify", "offset=%u count=%c", f.handleIdentify)

	f.registry.Register("poke", "addr=%hu value=%c", f.handlePoke)
	f.registry.Register("peek", "addr=%hu", f.handlePeek)
	f.peekResponse = f.registry.RegisterResponse("peek_response", "addr=%hu value=%c")
	f.registry.Register("reset", "", f.handleReset)
	f.errorResponse = f.registry.RegisterResponse("command_error", "id=%hu message=%.*s")

	f.dict.SetBuildVersions("protocol " + protocol.Version)
	f.dict.AddConstant("MCU", "rcpod")
	for _, p := range gpio.RcpodPorts() {
		f.dict.AddConstant("PORT"+p.Name, p.Data)
		f.dict.AddConstant("TRIS"+p.Name, p.Tris)
	}
	for _, opt := range opts {
		opt(f)
	}

	f.transport = protocol.NewTransport(&f.out, f.dispatch, f.logger)
	return f
}

func (f *Firmware) Registry() *CommandRegistry { return f.registry }
func (f *Firmware) Dictionary() *Dictionary    { return f.dict }

// dispatch runs one command. A failed command is reported to the host
// with command_error ahead of the acknowledgement.
func (f *Firmware) dispatch(id uint16, data *[]byte) error {
	err := f.registry.Dispatch(id, data)
	if err == nil {
		return nil
	}
	text := err.Error()
	if len(text) > errorTextMax {
		text = text[:errorTextMax]
	}
	rerr := f.respond(f.errorResponse, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(id))
		protocol.EncodeVLQBytes(o, []byte(text))
	})
	if rerr != nil {
		f.logger.Warnw("command error not reported", "id", id, zap.Error(rerr))
	}
	return err
}

func (f *Firmware) respond(id uint16, args func(protocol.OutputBuffer)) error {
	return f.transport.SendCommand(id, args)
}

func (f *Firmware) handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if count > identifyMax {
		count = identifyMax
	}
	chunk, err := f.dict.Chunk(offset, int(count))
	if err != nil {
		return err
	}
	return f.respond(f.identifyResponse, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, offset)
		protocol.EncodeVLQBytes(o, chunk)
	})
}

func (f *Firmware) handlePoke(data *[]byte) error {
	addr, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	v, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return f.ctrl.PokeRegister(uint16(addr), byte(v))
}

func (f *Firmware) handlePeek(data *[]byte) error {
	addr, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	v, err := f.ctrl.PeekRegister(uint16(addr))
	if err != nil {
		return err
	}
	return f.respond(f.peekResponse, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, addr)
		protocol.EncodeVLQUint(o, uint32(v))
	})
}

func (f *Firmware) handleReset(*[]byte) error {
	f.resetPending = true
	return nil
}

// Receive feeds raw bytes from the host and returns what the controller
// sends back: responses, then the acknowledgement.
func (f *Firmware) Receive(input protocol.InputBuffer) []byte {
	f.out = f.out[:0]
	f.transport.Receive(input)
	return f.out
}

// Serve answers the host on rw until ctx is cancelled or the stream ends.
// When rw is an io.Closer it is closed on cancellation to unblock reads.
func (f *Firmware) Serve(ctx context.Context, rw io.ReadWriter) error {
	if c, ok := rw.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	in := protocol.NewFifoBuffer(512)
	buf := make([]byte, 256)
	for {
		n, err := rw.Read(buf)
		if n > 0 {
			in.Write(buf[:n])
			if out := f.Receive(in); len(out) > 0 {
				if _, werr := rw.Write(out); werr != nil {
					return f.served(ctx, werr)
				}
			}
			f.finishReset()
		}
		if err != nil {
			return f.served(ctx, err)
		}
	}
}

func (f *Firmware) served(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, io.EOF) {
		return nil
	}
	f.logger.Debugw("host stream failed", zap.Error(err))
	return err
}

func (f *Firmware) finishReset() {
	if !f.resetPending {
		return
	}
	f.resetPending = false
	f.logger.Infow("controller reset")
	f.transport.Reset()
	if f.onReset != nil {
		f.onReset()
	}
}
