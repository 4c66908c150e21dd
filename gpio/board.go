package gpio

import (
	"fmt"
	"strings"
	"sync"
)

// Port describes one 8-bit I/O port: its data register and its direction
// register. A set TRIS bit makes the corresponding line an input.
type Port struct {
	Name string
	Data uint16
	Tris uint16
}

// rcpod (PIC16C765) register map.
var (
	PortA = Port{Name: "A", Data: 0x05, Tris: 0x85}
	PortB = Port{Name: "B", Data: 0x06, Tris: 0x86}
	PortC = Port{Name: "C", Data: 0x07, Tris: 0x87}
	PortD = Port{Name: "D", Data: 0x08, Tris: 0x88}
	PortE = Port{Name: "E", Data: 0x09, Tris: 0x89}
)

// RcpodPorts returns the ports of an rcpod controller.
func RcpodPorts() []Port {
	return []Port{PortA, PortB, PortC, PortD, PortE}
}

// LookupPort returns the rcpod port called name ("B" or "b").
func LookupPort(name string) (Port, bool) {
	for _, p := range RcpodPorts() {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Port{}, false
}

type portState struct {
	Port
	tris  byte
	latch byte
}

type pinKey struct {
	port  string
	index uint8
}

// Board is the host-side handle of one controller. It is the only writer of
// the controller's TRIS and PORT registers.
type Board struct {
	ctrl Controller

	mu     sync.Mutex
	ports  map[string]*portState
	pins   map[pinKey]*Pin
	claims map[*Pin]fmt.Stringer
}

// NewBoard takes ownership of ctrl and puts every listed port into its reset
// state: all lines input, output latch low. With no ports the rcpod map is used.
func NewBoard(ctrl Controller, ports ...Port) (*Board, error) {
	if len(ports) == 0 {
		ports = RcpodPorts()
	}
	b := &Board{
		ctrl:   ctrl,
		ports:  make(map[string]*portState, len(ports)),
		pins:   make(map[pinKey]*Pin),
		claims: make(map[*Pin]fmt.Stringer),
	}
	for _, p := range ports {
		st := &portState{Port: p}
		if err := b.poke(p.Tris, 0xFF); err != nil {
			return nil, err
		}
		if err := b.poke(p.Data, 0x00); err != nil {
			return nil, err
		}
		st.tris = 0xFF
		b.ports[p.Name] = st
	}
	return b, nil
}

// Controller returns the underlying controller.
func (b *Board) Controller() Controller {
	return b.ctrl
}

// Port returns the register map of the named port.
func (b *Board) Port(name string) (Port, bool) {
	st, ok := b.ports[name]
	if !ok {
		return Port{}, false
	}
	return st.Port, true
}

// Pin returns the line at index (0-7) of the named port. Repeated calls
// return the same *Pin.
func (b *Board) Pin(port string, index int) (*Pin, error) {
	st, ok := b.ports[port]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownPort, port)
	}
	if index < 0 || index > 7 {
		return nil, fmt.Errorf("gpio: pin index %d out of range on port %s", index, port)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	key := pinKey{port: port, index: uint8(index)}
	if p, ok := b.pins[key]; ok {
		return p, nil
	}
	p := &Pin{
		board: b,
		port:  st,
		index: uint8(index),
		name:  fmt.Sprintf("R%s%d", port, index),
	}
	b.pins[key] = p
	return p, nil
}

func (b *Board) claim(p *Pin, owner fmt.Stringer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if held, ok := b.claims[p]; ok && held != owner {
		return &ClaimedError{Pin: p.name, Owner: held.String()}
	}
	b.claims[p] = owner
	return nil
}

func (b *Board) unclaim(p *Pin, owner fmt.Stringer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.claims[p] == owner {
		delete(b.claims, p)
	}
}

func (b *Board) poke(addr uint16, v byte) error {
	if err := b.ctrl.PokeRegister(addr, v); err != nil {
		return &CommunicationError{Op: "poke", Register: addr, Err: err}
	}
	return nil
}

func (b *Board) peek(addr uint16) (byte, error) {
	v, err := b.ctrl.PeekRegister(addr)
	if err != nil {
		return 0, &CommunicationError{Op: "peek", Register: addr, Err: err}
	}
	return v, nil
}

func (b *Board) setDirection(p *Pin, dir Direction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	v := p.port.tris
	if dir == Input {
		v |= p.mask()
	} else {
		v &^= p.mask()
	}
	if err := b.poke(p.port.Tris, v); err != nil {
		return err
	}
	p.port.tris = v
	return nil
}

func (b *Board) setLatch(p *Pin, l Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	v := p.port.latch
	if l == High {
		v |= p.mask()
	} else {
		v &^= p.mask()
	}
	if err := b.poke(p.port.Data, v); err != nil {
		return err
	}
	p.port.latch = v
	return nil
}

func (b *Board) direction(p *Pin) Direction {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.port.tris&p.mask() != 0 {
		return Input
	}
	return Output
}

func (b *Board) latch(p *Pin) Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	return p.port.latch&p.mask() != 0
}
