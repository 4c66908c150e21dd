// Package registry builds the devices declared in a wiring file and hands
// them out by name.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/at24cx"
	"tinygo.org/x/drivers/mcp23017"
	"tinygo.org/x/drivers/tmp102"

	"rcpod/config"
	"rcpod/device"
	"rcpod/device/dac"
	"rcpod/device/eeprom"
	"rcpod/device/pcf8574"
	"rcpod/device/tc74"
	"rcpod/logging"
)

// ErrNotFound is returned for a name the registry does not hold.
var ErrNotFound = errors.New("registry: no such device")

// Bus is what the device families need: framed transactions for the
// native clients and Tx for the tinygo drivers. *bitbang.Bus implements it.
type Bus interface {
	device.Transactor
	drivers.I2C
}

type entry struct {
	cfg config.DeviceConfig
	dev any
}

// Registry holds the devices of one bus.
type Registry struct {
	bus     Bus
	logger  logging.Logger
	entries map[string]entry
}

// New builds every device in cfgs. Construction does not touch the bus,
// except for the MCP23017 driver, which reads its port registers.
func New(bus Bus, cfgs []config.DeviceConfig, logger logging.Logger) (*Registry, error) {
	r := &Registry{
		bus:     bus,
		logger:  logging.OrNop(logger),
		entries: make(map[string]entry, len(cfgs)),
	}
	var err error
	for _, c := range cfgs {
		dev, berr := r.build(c)
		if berr != nil {
			err = multierr.Append(err, fmt.Errorf("device %s: %w", c.Name, berr))
			continue
		}
		r.entries[c.Name] = entry{cfg: c, dev: dev}
		r.logger.Debugw("device ready", "name", c.Name, "kind", c.Kind)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) build(c config.DeviceConfig) (any, error) {
	switch c.Kind {
	case "tc74":
		off, err := offset(c, tc74.BaseAddress)
		if err != nil {
			return nil, err
		}
		return tc74.New(r.bus, off), nil
	case "dac":
		off, err := offset(c, dac.BaseAddress)
		if err != nil {
			return nil, err
		}
		channels := c.Channels
		if channels == 0 {
			channels = 8
		}
		return dac.New(r.bus, off, channels), nil
	case "pcf8574":
		base := uint16(pcf8574.BaseAddress)
		if c.Part == "pcf8574a" {
			base = pcf8574.BaseAddressA
		}
		off, err := offset(c, base)
		if err != nil {
			return nil, err
		}
		return pcf8574.New(r.bus, base, off), nil
	case "eeprom24":
		conf, ok := eeprom.Lookup(c.Part)
		if !ok {
			return nil, fmt.Errorf("unknown part %q", c.Part)
		}
		off, err := offset(c, eeprom.BaseAddress)
		if err != nil {
			return nil, err
		}
		return eeprom.New(r.bus, off, conf)
	case "at24cx":
		d := at24cx.New(r.bus)
		if c.Address != 0 {
			d.Address = c.Address
		}
		d.Configure(at24cx.Config{
			PageSize:      uint16(c.PageSize),
			EndRAMAddress: uint16(c.Size),
		})
		return &d, nil
	case "mcp23017":
		addr := c.Address
		if addr == 0 {
			addr = 0x20 + c.Offset
		}
		return mcp23017.NewI2C(r.bus, uint8(addr))
	case "tmp102":
		d := tmp102.New(r.bus)
		d.Configure(tmp102.Config{Address: uint8(c.Address)})
		return &d, nil
	}
	return nil, fmt.Errorf("unknown kind %q", c.Kind)
}

// offset resolves the strap offset of c from an explicit address or its
// offset field.
func offset(c config.DeviceConfig, base uint16) (uint16, error) {
	if c.Address == 0 {
		return c.Offset, nil
	}
	if c.Address < base || c.Address-base > 7 {
		return 0, fmt.Errorf("address %#02x outside %#02x..%#02x", c.Address, base, base+7)
	}
	return c.Address - base, nil
}

// Names returns the device names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Config returns the declaration of name.
func (r *Registry) Config(name string) (config.DeviceConfig, bool) {
	e, ok := r.entries[name]
	return e.cfg, ok
}

// Get returns the device named name.
func (r *Registry) Get(name string) (any, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e.dev, nil
}

func lookup[T any](r *Registry, name string) (T, error) {
	var zero T
	dev, err := r.Get(name)
	if err != nil {
		return zero, err
	}
	d, ok := dev.(T)
	if !ok {
		return zero, fmt.Errorf("registry: %q is a %s, not a %T", name, r.entries[name].cfg.Kind, zero)
	}
	return d, nil
}

func (r *Registry) TC74(name string) (*tc74.Device, error) {
	return lookup[*tc74.Device](r, name)
}

func (r *Registry) DAC(name string) (*dac.Device, error) {
	return lookup[*dac.Device](r, name)
}

func (r *Registry) PCF8574(name string) (*pcf8574.Device, error) {
	return lookup[*pcf8574.Device](r, name)
}

func (r *Registry) EEPROM(name string) (*eeprom.Device, error) {
	return lookup[*eeprom.Device](r, name)
}

func (r *Registry) AT24CX(name string) (*at24cx.Device, error) {
	return lookup[*at24cx.Device](r, name)
}

func (r *Registry) MCP23017(name string) (*mcp23017.Device, error) {
	return lookup[*mcp23017.Device](r, name)
}

func (r *Registry) TMP102(name string) (*tmp102.Device, error) {
	return lookup[*tmp102.Device](r, name)
}
