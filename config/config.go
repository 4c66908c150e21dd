// Package config describes how an rcpod host is wired: the controller
// link, the two lines carrying the software bus, the devices on the bus and
// the simulated targets used when no hardware is attached.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
)

// Config is the root of a wiring file.
type Config struct {
	Link    LinkConfig     `yaml:"link"`
	Bus     BusConfig      `yaml:"bus"`
	Devices []DeviceConfig `yaml:"devices"`
	Sim     SimConfig      `yaml:"sim"`
}

// LinkConfig selects the serial port of the controller.
type LinkConfig struct {
	Device  string        `yaml:"device"`
	Baud    int           `yaml:"baud"`
	Timeout time.Duration `yaml:"timeout"`
}

// LineConfig names one controller line.
type LineConfig struct {
	Port string `yaml:"port"`
	Pin  int    `yaml:"pin"`
}

func (l LineConfig) String() string {
	return fmt.Sprintf("R%s%d", l.Port, l.Pin)
}

// BusConfig places the software bus on two lines. With ClockStretch the
// bus reads SCL back after every release; a zero StretchTimeout then waits
// forever for a target holding the clock.
type BusConfig struct {
	SCL            LineConfig    `yaml:"scl"`
	SDA            LineConfig    `yaml:"sda"`
	Speed          Frequency     `yaml:"speed"`
	ClockStretch   bool          `yaml:"clock_stretch"`
	StretchTimeout time.Duration `yaml:"stretch_timeout"`
}

// DeviceConfig declares one device on the bus. Which fields apply depends
// on Kind.
type DeviceConfig struct {
	Name     string  `yaml:"name"`
	Kind     string  `yaml:"kind"`
	Address  uint16  `yaml:"address"`
	Offset   uint16  `yaml:"offset"`
	Part     string  `yaml:"part"`
	Channels int     `yaml:"channels"`
	VRef     float64 `yaml:"vref"`
	Size     int     `yaml:"size"`
	PageSize int     `yaml:"page_size"`
}

// SimConfig lists the targets of the simulated controller.
type SimConfig struct {
	Targets []SimTarget `yaml:"targets"`
}

// SimTarget is one register-memory target.
type SimTarget struct {
	Address     uint16 `yaml:"address"`
	Width       int    `yaml:"width"`
	Size        int    `yaml:"size"`
	PointerSize int    `yaml:"pointer_size"`
	BlockSize   int    `yaml:"block_size"`
	WriteCycle  int    `yaml:"write_cycle"`
	Data        Hex    `yaml:"data"`
}

// Frequency is a physic.Frequency read from strings like "100kHz".
type Frequency struct {
	physic.Frequency
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *Frequency) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		f.Frequency = 0
		return nil
	}
	return errors.Wrapf(f.Frequency.Set(s), "line %d: speed", n.Line)
}

// Hex is a byte string written as hex digits, optionally space separated.
type Hex []byte

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *Hex) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	out, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return errors.Wrapf(err, "line %d: data", n.Line)
	}
	*h = out
	return nil
}

// Default returns the wiring of a stock rcpod board: bus on RB6/RB7 and the
// controller on its usual serial device.
func Default() *Config {
	return &Config{
		Link: LinkConfig{
			Device:  "/dev/ttyACM0",
			Baud:    250000,
			Timeout: 2 * time.Second,
		},
		Bus: BusConfig{
			SCL:            LineConfig{Port: "B", Pin: 6},
			SDA:            LineConfig{Port: "B", Pin: 7},
			ClockStretch:   true,
			StretchTimeout: 100 * time.Millisecond,
		},
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the whole configuration and reports every problem.
func (c *Config) Validate() error {
	var err error
	err = multierr.Append(err, c.Link.Validate("link"))
	err = multierr.Append(err, c.Bus.Validate("bus"))
	names := map[string]bool{}
	for i := range c.Devices {
		d := &c.Devices[i]
		path := "devices." + d.Name
		if d.Name == "" {
			path = "devices[" + strconv.Itoa(i) + "]"
		}
		err = multierr.Append(err, d.Validate(path))
		if d.Name != "" && names[d.Name] {
			err = multierr.Append(err, errors.Errorf("%s: duplicate name", path))
		}
		names[d.Name] = true
	}
	for i, t := range c.Sim.Targets {
		err = multierr.Append(err, t.Validate("sim.targets["+strconv.Itoa(i)+"]"))
	}
	return err
}

// Device returns the device named name.
func (c *Config) Device(name string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// Validate checks the link settings.
func (l *LinkConfig) Validate(path string) error {
	if l.Baud <= 0 {
		return errors.Errorf("%s: baud must be positive", path)
	}
	if l.Timeout < 0 {
		return errors.Errorf("%s: negative timeout", path)
	}
	return nil
}

// Validate checks the line assignment.
func (b *BusConfig) Validate(path string) error {
	var err error
	for _, l := range []struct {
		name string
		line LineConfig
	}{{"scl", b.SCL}, {"sda", b.SDA}} {
		if l.line.Port == "" {
			err = multierr.Append(err, errors.Errorf("%s.%s: port is required", path, l.name))
		}
		if l.line.Pin < 0 || l.line.Pin > 7 {
			err = multierr.Append(err, errors.Errorf("%s.%s: pin %d out of range", path, l.name, l.line.Pin))
		}
	}
	if b.SCL == b.SDA {
		err = multierr.Append(err, errors.Errorf("%s: scl and sda share %s", path, b.SCL))
	}
	if b.Speed.Frequency < 0 {
		err = multierr.Append(err, errors.Errorf("%s: negative speed", path))
	}
	if b.StretchTimeout < 0 {
		err = multierr.Append(err, errors.Errorf("%s: negative stretch_timeout", path))
	}
	return err
}

// Kinds lists the device kinds a DeviceConfig may name.
var Kinds = []string{"tc74", "dac", "pcf8574", "eeprom24", "at24cx", "mcp23017", "tmp102"}

// Validate checks the fields Kind needs.
func (d *DeviceConfig) Validate(path string) error {
	if d.Name == "" {
		return errors.Errorf("%s: name is required", path)
	}
	known := false
	for _, k := range Kinds {
		known = known || k == d.Kind
	}
	if !known {
		return errors.Errorf("%s: unknown kind %q (want one of %s)", path, d.Kind, strings.Join(Kinds, ", "))
	}
	if d.Address > 0x7F {
		return errors.Errorf("%s: address %#x is not a 7-bit address", path, d.Address)
	}
	if d.Offset > 7 {
		return errors.Errorf("%s: offset %d out of range", path, d.Offset)
	}
	switch d.Kind {
	case "dac":
		if d.Channels != 0 && d.Channels != 4 && d.Channels != 8 {
			return errors.Errorf("%s: dac channels must be 4 or 8", path)
		}
	case "eeprom24":
		if d.Part == "" {
			return errors.Errorf("%s: part is required", path)
		}
	case "at24cx":
		if d.Size < 0 || d.PageSize < 0 {
			return errors.Errorf("%s: negative size", path)
		}
	}
	return nil
}

// Validate checks a simulated target.
func (t *SimTarget) Validate(path string) error {
	var err error
	if t.Address > 0x7F {
		err = multierr.Append(err, errors.Errorf("%s: address %#x is not a 7-bit address", path, t.Address))
	}
	if t.Size <= 0 {
		err = multierr.Append(err, errors.Errorf("%s: size must be positive", path))
	}
	if t.PointerSize < 0 || t.PointerSize > 2 {
		err = multierr.Append(err, errors.Errorf("%s: pointer_size must be 1 or 2", path))
	}
	if len(t.Data) > t.Size {
		err = multierr.Append(err, errors.Errorf("%s: %d data bytes exceed size %d", path, len(t.Data), t.Size))
	}
	return err
}
