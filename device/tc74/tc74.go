// Package tc74 drives the Microchip TC74 serial digital thermal sensor.
//
// Datasheet: https://ww1.microchip.com/downloads/en/DeviceDoc/21462D.pdf
package tc74

import (
	"rcpod/device"
)

// BaseAddress is the address of the TC74A0; TC74A1..A7 follow it.
const BaseAddress = 0x48

// Registers.
const (
	RegTemperature = 0x00
	RegConfig      = 0x01
)

// Config register bits.
const (
	ConfigStandby = 0x80
	ConfigReady   = 0x40
)

// Device is one TC74.
type Device struct {
	dev *device.Device
}

// New returns the TC74Ax sensor with x = variant (0-7).
func New(bus device.Transactor, variant uint16) *Device {
	return &Device{dev: device.New(bus, BaseAddress, variant)}
}

// Address returns the sensor's 7-bit address.
func (d *Device) Address() uint16 { return d.dev.Address() }

// ReadTemperature returns the temperature in whole degrees Celsius. The
// register holds a two's-complement byte.
func (d *Device) ReadTemperature() (int8, error) {
	b, err := d.dev.Read(RegTemperature, 1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

// Standby puts the sensor into or out of its low-power standby mode.
func (d *Device) Standby(on bool) error {
	var v byte
	if on {
		v = ConfigStandby
	}
	return d.dev.Write([]byte{RegConfig, v})
}

// Ready reports whether a conversion is available since power-up or the
// end of standby.
func (d *Device) Ready() (bool, error) {
	b, err := d.dev.Read(RegConfig, 1)
	if err != nil {
		return false, err
	}
	return b[0]&ConfigReady != 0, nil
}
