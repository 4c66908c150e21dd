// Package eeprom drives 24Cxx serial EEPROMs.
//
// Parts up to 16 kbit use one word-address byte and take the upper address
// bits from the device address, so every 256-byte block answers on its own
// address. Larger parts use a two-byte word address. Writes are split at
// page boundaries and each page is followed by acknowledge polling until
// the internal write cycle ends.
package eeprom

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"rcpod/device"
)

// BaseAddress is the device address with all strap pins low.
const BaseAddress = 0x50

// ErrWriteTimeout is returned when the part does not finish its write cycle
// within Config.WriteTimeout.
var ErrWriteTimeout = errors.New("eeprom: write cycle did not complete")

// Config describes a part.
type Config struct {
	Size         int
	PageSize     int
	AddressBytes int
	WriteTimeout time.Duration
}

var (
	Conf24C02 = Config{Size: 256, PageSize: 8, AddressBytes: 1, WriteTimeout: 10 * time.Millisecond}
	Conf24C04 = Config{Size: 512, PageSize: 16, AddressBytes: 1, WriteTimeout: 10 * time.Millisecond}
	Conf24C08 = Config{Size: 1024, PageSize: 16, AddressBytes: 1, WriteTimeout: 10 * time.Millisecond}
	Conf24C16 = Config{Size: 2048, PageSize: 16, AddressBytes: 1, WriteTimeout: 10 * time.Millisecond}
	Conf24C32 = Config{Size: 4096, PageSize: 32, AddressBytes: 2, WriteTimeout: 10 * time.Millisecond}
	Conf24C64 = Config{Size: 8192, PageSize: 32, AddressBytes: 2, WriteTimeout: 10 * time.Millisecond}
)

// Lookup returns the config of a part name such as "24c16".
func Lookup(part string) (Config, bool) {
	c, ok := parts[part]
	return c, ok
}

var parts = map[string]Config{
	"24c02": Conf24C02,
	"24c04": Conf24C04,
	"24c08": Conf24C08,
	"24c16": Conf24C16,
	"24c32": Conf24C32,
	"24c64": Conf24C64,
}

func (c Config) validate() error {
	switch {
	case c.Size <= 0 || c.PageSize <= 0:
		return errors.New("eeprom: size and page size must be positive")
	case c.PageSize&(c.PageSize-1) != 0:
		return fmt.Errorf("eeprom: page size %d is not a power of two", c.PageSize)
	case c.Size%c.PageSize != 0:
		return fmt.Errorf("eeprom: size %d is not a multiple of the page size", c.Size)
	case c.AddressBytes != 1 && c.AddressBytes != 2:
		return fmt.Errorf("eeprom: %d address bytes", c.AddressBytes)
	case c.AddressBytes == 1 && c.Size > 2048:
		return errors.New("eeprom: one-byte addressing covers at most 2048 bytes")
	}
	return nil
}

// Device is one EEPROM. It implements io.ReaderAt, io.WriterAt and
// io.ReadWriteSeeker.
type Device struct {
	bus    device.Transactor
	offset uint16
	conf   Config

	mu  sync.Mutex
	pos int64

	sleep func(time.Duration)
	now   func() time.Time
}

// New returns the EEPROM strapped at BaseAddress+offset.
func New(bus device.Transactor, offset uint16, conf Config) (*Device, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}
	blocks := 1
	if conf.AddressBytes == 1 && conf.Size > 256 {
		blocks = conf.Size / 256
	}
	if int(offset)+blocks > 8 {
		return nil, fmt.Errorf("eeprom: offset %d leaves the 0x50-0x57 range for a %d byte part", offset, conf.Size)
	}
	return &Device{
		bus:    bus,
		offset: offset,
		conf:   conf,
		sleep:  time.Sleep,
		now:    time.Now,
	}, nil
}

// Size returns the capacity in bytes.
func (d *Device) Size() int64 { return int64(d.conf.Size) }

// block returns the client and word address bytes for memory address a.
func (d *Device) block(a int) (*device.Device, []byte) {
	if d.conf.AddressBytes == 2 {
		return device.New(d.bus, BaseAddress, d.offset), []byte{byte(a >> 8), byte(a)}
	}
	return device.New(d.bus, BaseAddress, d.offset+uint16(a>>8)), []byte{byte(a)}
}

// span is the number of bytes from a that one read may cover, at most limit.
func (d *Device) span(a, limit int) int {
	n := d.conf.Size - a
	if d.conf.AddressBytes == 1 {
		if b := 256 - a%256; b < n {
			n = b
		}
	}
	if limit > 0 && limit < n {
		n = limit
	}
	return n
}

// ReadAt implements io.ReaderAt.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("eeprom: negative offset")
	}
	if off >= d.Size() {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && int(off)+n < d.conf.Size {
		a := int(off) + n
		chunk := d.span(a, len(p)-n)
		dev, word := d.block(a)
		b, err := dev.WriteRead(word, chunk)
		if err != nil {
			return n, err
		}
		n += copy(p[n:], b)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt. Each page is written in its own frame
// and acknowledge-polled before the next.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("eeprom: negative offset")
	}
	n := 0
	for n < len(p) {
		a := int(off) + n
		if a >= d.conf.Size {
			return n, io.EOF
		}
		chunk := d.conf.PageSize - a%d.conf.PageSize
		if rest := len(p) - n; rest < chunk {
			chunk = rest
		}
		dev, word := d.block(a)
		if err := dev.Write(append(word, p[n:n+chunk]...)); err != nil {
			return n, err
		}
		if err := d.waitReady(dev); err != nil {
			return n, err
		}
		n += chunk
	}
	return n, nil
}

// waitReady polls dev until it acknowledges its address again.
func (d *Device) waitReady(dev *device.Device) error {
	deadline := d.now().Add(d.conf.WriteTimeout)
	for {
		ok, err := dev.Present()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if d.now().After(deadline) {
			return fmt.Errorf("%w within %s at %s", ErrWriteTimeout, d.conf.WriteTimeout, dev)
		}
		d.sleep(100 * time.Microsecond)
	}
}

// Read implements io.Reader from the current position.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.ReadAt(p, d.pos)
	d.pos += int64(n)
	return n, err
}

// Write implements io.Writer at the current position.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.WriteAt(p, d.pos)
	d.pos += int64(n)
	return n, err
}

// Seek implements io.Seeker.
func (d *Device) Seek(offset int64, whence int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = d.pos + offset
	case io.SeekEnd:
		pos = d.Size() + offset
	default:
		return d.pos, errors.New("eeprom: invalid whence")
	}
	if pos < 0 || pos > d.Size() {
		return d.pos, fmt.Errorf("eeprom: seek to %d outside 0..%d", pos, d.Size())
	}
	d.pos = pos
	return pos, nil
}

var (
	_ io.ReaderAt        = (*Device)(nil)
	_ io.WriterAt        = (*Device)(nil)
	_ io.ReadWriteSeeker = (*Device)(nil)
)
