package bitbang

import (
	"fmt"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"

	"rcpod/gpio"
)

// Tx writes w to the 7-bit address addr, then reads len(r) bytes into r,
// with a repeated start between the two phases. With both slices empty it
// only addresses the target, which tests for presence.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return fmt.Errorf("%w: %#x", ErrAddress, addr)
	}
	err := b.Transaction(func(m Master) error {
		if len(w) > 0 || len(r) == 0 {
			if err := m.Start(); err != nil {
				return err
			}
			if err := WriteAddress(m, addr, false); err != nil {
				return err
			}
			for _, v := range w {
				if err := m.WriteByte(v); err != nil {
					return err
				}
			}
		}
		if len(r) > 0 {
			var err error
			if m.State() == Idle {
				err = m.Start()
			} else {
				err = m.RepeatedStart()
			}
			if err != nil {
				return err
			}
			if err := WriteAddress(m, addr, true); err != nil {
				return err
			}
			for i := range r {
				if r[i], err = m.ReadByteAck(i < len(r)-1); err != nil {
					return err
				}
			}
		}
		return m.Stop()
	})
	b.logger.Debugw("tx", "bus", b.String(), "addr", fmt.Sprintf("%#02x", addr), "w", len(w), "r", len(r), "error", err)
	return err
}

// SetSpeed sets the nominal clock rate. Zero removes all delays.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	if f < 0 {
		return fmt.Errorf("bitbang: invalid speed %s", f)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halfPeriod = f.Period() / 2
	return nil
}

// SCL returns the clock line as a periph pin.
func (b *Bus) SCL() pgpio.PinIO {
	return gpio.NewPeriphPin(b.scl)
}

// SDA returns the data line as a periph pin.
func (b *Bus) SDA() pgpio.PinIO {
	return gpio.NewPeriphPin(b.sda)
}

// Close releases both lines and gives up the claim on them. A transaction
// in progress is ended with STOP.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.unclaim()
	if b.state != Idle {
		if err := b.stop(); err != nil {
			return err
		}
	}
	if err := b.sda.Release(); err != nil {
		return err
	}
	return b.scl.Release()
}

var (
	_ drivers.I2C   = (*Bus)(nil)
	_ i2c.BusCloser = (*Bus)(nil)
	_ i2c.Pins      = (*Bus)(nil)
)
