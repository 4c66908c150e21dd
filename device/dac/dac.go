// Package dac drives the LTC2605/LTC2609 family of 16-bit multi-channel
// voltage DACs.
//
// Every transfer is three bytes: a command/address byte (command in the
// high nibble, channel in the low nibble) followed by the 16-bit code,
// most significant byte first.
package dac

import (
	"fmt"
	"math"

	"rcpod/device"
)

// BaseAddress is the address with all CA strap pins low.
const BaseAddress = 0x10

// Command is the high nibble of the command/address byte.
type Command byte

const (
	WriteInput  Command = 0x0
	Update      Command = 0x1
	WriteUpdate Command = 0x3
	PowerDown   Command = 0x4
)

// Channel selects a DAC output. ChannelAll addresses every output at once.
type Channel byte

const (
	ChannelA   Channel = 0x0
	ChannelH   Channel = 0x7
	ChannelAll Channel = 0xF
)

// Device is one DAC.
type Device struct {
	dev      *device.Device
	channels int
}

// New returns the DAC strapped to base+offset with the given number of
// outputs (8 for the LTC2605, 4 for the LTC2609).
func New(bus device.Transactor, offset uint16, channels int) *Device {
	return &Device{dev: device.New(bus, BaseAddress, offset), channels: channels}
}

// Address returns the DAC's 7-bit address.
func (d *Device) Address() uint16 { return d.dev.Address() }

// Command sends cmd for ch with a 16-bit code.
func (d *Device) Command(cmd Command, ch Channel, code uint16) error {
	if ch != ChannelAll && int(ch) >= d.channels {
		return fmt.Errorf("dac: channel %d out of range (%d outputs)", ch, d.channels)
	}
	return d.dev.Write([]byte{byte(cmd)<<4 | byte(ch), byte(code >> 8), byte(code)})
}

// Write loads the input register of ch without changing the output.
func (d *Device) Write(ch Channel, code uint16) error {
	return d.Command(WriteInput, ch, code)
}

// Update transfers the input register of ch to its output.
func (d *Device) Update(ch Channel) error {
	return d.Command(Update, ch, 0)
}

// Set writes and updates ch in one transfer.
func (d *Device) Set(ch Channel, code uint16) error {
	return d.Command(WriteUpdate, ch, code)
}

// PowerDown switches ch off.
func (d *Device) PowerDown(ch Channel) error {
	return d.Command(PowerDown, ch, 0)
}

// SetVolts sets ch to the code nearest v for reference voltage vref.
func (d *Device) SetVolts(ch Channel, v, vref float64) error {
	return d.Set(ch, Code(v, vref))
}

// Code converts v to the nearest 16-bit code for reference vref, clamped
// to the output range. A NaN input or an unusable reference gives 0.
func Code(v, vref float64) uint16 {
	if !(v > 0) || !(vref > 0) || math.IsInf(vref, 1) {
		return 0
	}
	c := math.Round(v / vref * 65535)
	if c >= 65535 {
		return 65535
	}
	return uint16(c)
}
