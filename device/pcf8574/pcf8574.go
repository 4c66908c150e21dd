// Package pcf8574 drives the NXP PCF8574 8-bit quasi-bidirectional I/O
// expander. A port line written high is a weak pull-up and can be read as
// an input; a line written low sinks current.
package pcf8574

import (
	"fmt"
	"sync"

	"rcpod/device"
)

// Base addresses of the PCF8574 and PCF8574A.
const (
	BaseAddress  = 0x20
	BaseAddressA = 0x38
)

// Device is one expander.
type Device struct {
	dev *device.Device

	mu    sync.Mutex
	latch byte
}

// New returns the expander at base+offset (offset 0-7 from the A2..A0
// straps). All lines start released high.
func New(bus device.Transactor, base, offset uint16) *Device {
	return &Device{dev: device.New(bus, base, offset), latch: 0xFF}
}

// Address returns the expander's 7-bit address.
func (d *Device) Address() uint16 { return d.dev.Address() }

// Write sets all eight lines.
func (d *Device) Write(v byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dev.Write([]byte{v}); err != nil {
		return err
	}
	d.latch = v
	return nil
}

// Read samples all eight lines.
func (d *Device) Read() (byte, error) {
	b, err := d.dev.ReadCurrent(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Latch returns the last value written.
func (d *Device) Latch() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latch
}

// SetPin drives line i, leaving the other lines as last written.
func (d *Device) SetPin(i int, high bool) error {
	if i < 0 || i > 7 {
		return fmt.Errorf("pcf8574: pin %d out of range", i)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.latch
	if high {
		v |= 1 << i
	} else {
		v &^= 1 << i
	}
	if err := d.dev.Write([]byte{v}); err != nil {
		return err
	}
	d.latch = v
	return nil
}

// Pin samples line i.
func (d *Device) Pin(i int) (bool, error) {
	if i < 0 || i > 7 {
		return false, fmt.Errorf("pcf8574: pin %d out of range", i)
	}
	v, err := d.Read()
	if err != nil {
		return false, err
	}
	return v&(1<<i) != 0, nil
}
