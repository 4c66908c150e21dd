// Package device is the generic register client for one target on a
// software I2C bus. Device families build their register protocols on it.
package device

import (
	"errors"
	"fmt"

	"rcpod/bitbang"
)

// Transactor runs a framed exchange with exclusive use of a bus.
// *bitbang.Bus implements it.
type Transactor interface {
	Transaction(fn func(m bitbang.Master) error) error
}

// Device is one addressable target: base address plus a strap or channel
// offset. It borrows the bus.
type Device struct {
	bus    Transactor
	base   uint16
	offset uint16
}

// New returns the client for the target at base+offset on bus.
func New(bus Transactor, base, offset uint16) *Device {
	return &Device{bus: bus, base: base, offset: offset}
}

// Address returns the effective 7-bit address.
func (d *Device) Address() uint16 { return d.base + d.offset }

func (d *Device) String() string {
	return fmt.Sprintf("i2c@%#02x", d.Address())
}

// Write sends the address with the write bit and then regBytes, in one
// START..STOP frame. Every unacknowledged byte fails the write.
func (d *Device) Write(regBytes []byte) error {
	return d.bus.Transaction(func(m bitbang.Master) error {
		if err := m.Start(); err != nil {
			return err
		}
		if err := bitbang.WriteAddress(m, d.Address(), false); err != nil {
			return err
		}
		for _, b := range regBytes {
			if err := m.WriteByte(b); err != nil {
				return err
			}
		}
		return m.Stop()
	})
}

// Read selects reg and reads n bytes from it after a repeated start.
func (d *Device) Read(reg byte, n int) ([]byte, error) {
	return d.WriteRead([]byte{reg}, n)
}

// WriteRead writes w, typically a multi-byte register pointer, then reads
// n bytes after a repeated start.
func (d *Device) WriteRead(w []byte, n int) ([]byte, error) {
	if n < 1 {
		return nil, fmt.Errorf("device: read of %d bytes", n)
	}
	out := make([]byte, n)
	err := d.bus.Transaction(func(m bitbang.Master) error {
		if err := m.Start(); err != nil {
			return err
		}
		if err := bitbang.WriteAddress(m, d.Address(), false); err != nil {
			return err
		}
		for _, b := range w {
			if err := m.WriteByte(b); err != nil {
				return err
			}
		}
		if err := m.RepeatedStart(); err != nil {
			return err
		}
		return d.readInto(m, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadCurrent reads n bytes without selecting a register first, for
// devices with a single register or an internal address counter.
func (d *Device) ReadCurrent(n int) ([]byte, error) {
	if n < 1 {
		return nil, fmt.Errorf("device: read of %d bytes", n)
	}
	out := make([]byte, n)
	err := d.bus.Transaction(func(m bitbang.Master) error {
		if err := m.Start(); err != nil {
			return err
		}
		return d.readInto(m, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Present addresses the device and reports whether it acknowledged. A bus
// failure other than a missing acknowledge is returned as an error.
func (d *Device) Present() (bool, error) {
	err := d.bus.Transaction(func(m bitbang.Master) error {
		if err := m.Start(); err != nil {
			return err
		}
		if err := bitbang.WriteAddress(m, d.Address(), false); err != nil {
			return err
		}
		return m.Stop()
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bitbang.ErrNoDevice):
		return false, nil
	default:
		return false, err
	}
}

func (d *Device) readInto(m bitbang.Master, out []byte) error {
	if err := bitbang.WriteAddress(m, d.Address(), true); err != nil {
		return err
	}
	for i := range out {
		b, err := m.ReadByteAck(i < len(out)-1)
		if err != nil {
			return err
		}
		out[i] = b
	}
	return m.Stop()
}
