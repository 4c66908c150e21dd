package gpio

import (
	"errors"
	"time"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

var errPeriphUnsupported = errors.New("gpio: not supported on an open-drain controller line")

// PeriphPin exposes an OpenDrainPin as a periph.io gpio.PinIO, so the lines
// of a software bus can be handed to periph-based code.
type PeriphPin struct {
	od *OpenDrainPin
}

// NewPeriphPin wraps od.
func NewPeriphPin(od *OpenDrainPin) *PeriphPin {
	return &PeriphPin{od: od}
}

func (p *PeriphPin) String() string { return p.od.String() }

// Halt releases the line.
func (p *PeriphPin) Halt() error { return p.od.Release() }

func (p *PeriphPin) Name() string { return p.od.String() }

func (p *PeriphPin) Number() int { return p.od.pin.Index() }

func (p *PeriphPin) Function() string {
	if p.od.Released() {
		return string(pgpio.FLOAT)
	}
	return string(pgpio.OUT_LOW)
}

// In releases the line. Edge detection is not available over poke/peek.
func (p *PeriphPin) In(pull pgpio.Pull, edge pgpio.Edge) error {
	if edge != pgpio.NoEdge {
		return errPeriphUnsupported
	}
	if pull == pgpio.PullDown {
		return errPeriphUnsupported
	}
	return p.od.Release()
}

// Read samples the line; a controller failure reads as Low.
func (p *PeriphPin) Read() pgpio.Level {
	l, err := p.od.Read()
	if err != nil {
		return pgpio.Low
	}
	return pgpio.Level(l)
}

func (p *PeriphPin) WaitForEdge(timeout time.Duration) bool { return false }

// Pull reports the external pull-up every open-drain line relies on.
func (p *PeriphPin) Pull() pgpio.Pull { return pgpio.PullUp }

func (p *PeriphPin) DefaultPull() pgpio.Pull { return pgpio.PullUp }

func (p *PeriphPin) Out(l pgpio.Level) error { return p.od.Drive(Level(l)) }

func (p *PeriphPin) PWM(duty pgpio.Duty, f physic.Frequency) error { return errPeriphUnsupported }

var _ pgpio.PinIO = (*PeriphPin)(nil)
