// Package i2csim simulates the controller side of a software I2C bus: a
// register file whose two port lines behave as open-drain wires, with
// bit-level target devices listening on them.
//
// Wire implements gpio.Controller, so a gpio.Board and bitbang.Bus run on it
// unchanged. Targets are driven purely by the line levels the master
// produces; they share no state with the master.
package i2csim

import (
	"sync"

	"rcpod/gpio"
)

// Wire is a simulated controller with one I2C line pair.
type Wire struct {
	mu sync.Mutex

	port    gpio.Port
	sclMask byte
	sdaMask byte
	regs    map[uint16]byte
	targets []*Target
	fault   error

	scl, sda bool
	pokes    int
	peeks    int
}

// NewWire returns a controller whose port carries SCL on bit scl and SDA on
// bit sda. All lines start as inputs, so both wires idle high.
func NewWire(port gpio.Port, scl, sda int) *Wire {
	w := &Wire{
		port:    port,
		sclMask: 1 << scl,
		sdaMask: 1 << sda,
		regs:    map[uint16]byte{port.Tris: 0xFF},
		scl:     true,
		sda:     true,
	}
	return w
}

// Attach connects targets to the wire.
func (w *Wire) Attach(targets ...*Target) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.targets = append(w.targets, targets...)
}

// SetFault makes every following register access fail with err. A nil err
// heals the wire.
func (w *Wire) SetFault(err error) {
	w.mu.Lock()
	w.fault = err
	w.mu.Unlock()
}

// Lines reports the current SCL and SDA levels.
func (w *Wire) Lines() (scl, sda gpio.Level) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.settle()
	return gpio.Level(w.scl), gpio.Level(w.sda)
}

// Stats returns the number of pokes and peeks served.
func (w *Wire) Stats() (pokes, peeks int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pokes, w.peeks
}

// PokeRegister implements gpio.Controller.
func (w *Wire) PokeRegister(addr uint16, v byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fault != nil {
		return w.fault
	}
	w.pokes++
	w.regs[addr] = v
	if addr == w.port.Data || addr == w.port.Tris {
		w.settle()
	}
	return nil
}

// PeekRegister implements gpio.Controller. The data register of the I2C
// port reads back the wire levels of both lines.
func (w *Wire) PeekRegister(addr uint16) (byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fault != nil {
		return 0, w.fault
	}
	w.peeks++
	v := w.regs[addr]
	if addr != w.port.Data {
		return v, nil
	}
	w.settle()
	v &^= w.sclMask | w.sdaMask
	if w.scl {
		v |= w.sclMask
	}
	if w.sda {
		v |= w.sdaMask
	}
	return v, nil
}

// masterPulls reports whether the controller actively drives the masked
// line low: configured as output with a low latch.
func (w *Wire) masterPulls(mask byte) bool {
	return w.regs[w.port.Tris]&mask == 0 && w.regs[w.port.Data]&mask == 0
}

func (w *Wire) levels() (scl, sda bool) {
	scl = !w.masterPulls(w.sclMask)
	sda = !w.masterPulls(w.sdaMask)
	for _, t := range w.targets {
		if t.sclLow {
			scl = false
		}
		if t.sdaLow {
			sda = false
		}
	}
	return scl, sda
}

// settle propagates line changes to the targets until the wire is stable.
// Targets only move SDA on a falling SCL edge, so the loop converges.
func (w *Wire) settle() {
	for i := 0; i < 8; i++ {
		scl, sda := w.levels()
		switch {
		case scl != w.scl:
			w.scl = scl
			for _, t := range w.targets {
				if scl {
					t.rising(w.sda)
				} else {
					t.falling()
				}
			}
		case sda != w.sda:
			w.sda = sda
			if !w.scl {
				continue
			}
			for _, t := range w.targets {
				if sda {
					t.stop()
				} else {
					t.start()
				}
			}
		default:
			return
		}
	}
}

var _ gpio.Controller = (*Wire)(nil)
