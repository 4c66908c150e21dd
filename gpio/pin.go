package gpio

import "fmt"

// Pin is one line of a controller port. Pins are created by Board.Pin and
// live as long as the board's controller connection.
type Pin struct {
	board *Board
	port  *portState
	index uint8
	name  string
}

func (p *Pin) String() string { return p.name }

// Index is the bit position of the line within its port register.
func (p *Pin) Index() int { return int(p.index) }

// Port returns the register map of the pin's port.
func (p *Pin) Port() Port { return p.port.Port }

func (p *Pin) mask() byte { return 1 << p.index }

// SetDirection configures the line as Input or Output with one write to
// the port's TRIS register.
func (p *Pin) SetDirection(dir Direction) error {
	return p.board.setDirection(p, dir)
}

// Direction reports the configured direction.
func (p *Pin) Direction() Direction {
	return p.board.direction(p)
}

// Assert drives the line high. The pin must be an output.
func (p *Pin) Assert() error {
	return p.Set(High)
}

// Deassert drives the line low. The pin must be an output.
func (p *Pin) Deassert() error {
	return p.Set(Low)
}

// Set drives the line to l. The pin must be an output.
func (p *Pin) Set(l Level) error {
	if dir := p.Direction(); dir != Output {
		op := "deassert"
		if l == High {
			op = "assert"
		}
		return &InvalidStateError{Op: op, Pin: p.name, Direction: dir}
	}
	return p.board.setLatch(p, l)
}

// Level returns the last level written to the output latch.
func (p *Pin) Level() Level {
	return p.board.latch(p)
}

// Test samples the line. An input is read from the controller; an output
// reports the last written level without touching the controller.
func (p *Pin) Test() (Level, error) {
	if p.Direction() == Output {
		return p.Level(), nil
	}
	v, err := p.board.peek(p.port.Data)
	if err != nil {
		return Low, err
	}
	return v&p.mask() != 0, nil
}

// Claim reserves the line for owner. Claiming a line already held by
// another owner returns a *ClaimedError; claiming it again for the same
// owner does nothing.
func (p *Pin) Claim(owner fmt.Stringer) error {
	return p.board.claim(p, owner)
}

// Unclaim frees the line if owner holds it.
func (p *Pin) Unclaim(owner fmt.Stringer) {
	p.board.unclaim(p, owner)
}
