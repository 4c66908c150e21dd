package cli

import (
	"encoding/hex"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"tinygo.org/x/drivers/mcp23017"
	"tinygo.org/x/drivers/tmp102"

	"rcpod/device"
	"rcpod/device/dac"
	"rcpod/device/pcf8574"
	"rcpod/device/tc74"
	"rcpod/trace"
)

// defaultVRef is used for DACs whose wiring entry gives no vref.
const defaultVRef = 5.0

func parseUint(s string, bits int, what string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", what, s)
	}
	return v, nil
}

func parseAddress(s string) (uint16, error) {
	v, err := parseUint(s, 7, "address")
	return uint16(v), err
}

func wantArgs(c *cli.Context, min, max int) error {
	if n := c.NArg(); n < min || n > max {
		return errors.Errorf("%s: expected %s", c.Command.Name, c.Command.ArgsUsage)
	}
	return nil
}

// InfoAction prints the controller dictionary.
func InfoAction(c *cli.Context) error {
	return withSession(c, func(s *session) error {
		d := s.link.Dictionary()
		w := c.App.Writer
		printf(w, "version: %s", d.Version)
		printf(w, "build:   %s", d.BuildVersions)

		keys := make([]string, 0, len(d.Config))
		for k := range d.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			printf(w, "  %s = %s", k, d.Config[k])
		}
		for _, set := range []struct {
			title string
			m     map[string]int
		}{{"commands", d.Commands}, {"responses", d.Responses}} {
			printf(w, "%s:", set.title)
			sigs := make([]string, 0, len(set.m))
			for sig := range set.m {
				sigs = append(sigs, sig)
			}
			sort.Slice(sigs, func(i, j int) bool { return set.m[sigs[i]] < set.m[sigs[j]] })
			for _, sig := range sigs {
				printf(w, "  [%d] %s", set.m[sig], sig)
			}
		}
		return nil
	})
}

// ScanAction addresses every non-reserved 7-bit address.
func ScanAction(c *cli.Context) error {
	return withSession(c, func(s *session) error {
		found := 0
		for a := uint16(0x08); a <= 0x77; a++ {
			ok, err := device.New(s.bus, a, 0).Present()
			if err != nil {
				return errors.Wrapf(err, "scan 0x%02x", a)
			}
			if ok {
				printf(c.App.Writer, "0x%02x", a)
				found++
			}
		}
		printf(c.App.Writer, "%d device(s) found", found)
		return nil
	})
}

// ReadAction reads count bytes, after selecting a register when one is given.
func ReadAction(c *cli.Context) error {
	if err := wantArgs(c, 2, 3); err != nil {
		return err
	}
	addr, err := parseAddress(c.Args().First())
	if err != nil {
		return err
	}
	n, err := parseUint(c.Args().Get(c.NArg()-1), 8, "count")
	if err != nil {
		return err
	}
	var reg uint64
	if c.NArg() == 3 {
		if reg, err = parseUint(c.Args().Get(1), 8, "register"); err != nil {
			return err
		}
	}
	return withSession(c, func(s *session) error {
		dev := device.New(s.bus, addr, 0)
		var data []byte
		if c.NArg() == 3 {
			data, err = dev.Read(byte(reg), int(n))
		} else {
			data, err = dev.ReadCurrent(int(n))
		}
		if err != nil {
			return err
		}
		printf(c.App.Writer, "% x", data)
		return nil
	})
}

// WriteAction writes the given bytes in one transaction.
func WriteAction(c *cli.Context) error {
	if c.NArg() < 2 {
		return errors.Errorf("write: expected %s", c.Command.ArgsUsage)
	}
	addr, err := parseAddress(c.Args().First())
	if err != nil {
		return err
	}
	var data []byte
	for _, a := range c.Args().Tail() {
		v, err := parseUint(a, 8, "byte")
		if err != nil {
			return err
		}
		data = append(data, byte(v))
	}
	return withSession(c, func(s *session) error {
		return device.New(s.bus, addr, 0).Write(data)
	})
}

// TempAction reads a TC74 or TMP102 from the wiring file.
func TempAction(c *cli.Context) error {
	if err := wantArgs(c, 1, 1); err != nil {
		return err
	}
	name := c.Args().First()
	return withSession(c, func(s *session) error {
		dev, err := s.devices.Get(name)
		if err != nil {
			return err
		}
		switch d := dev.(type) {
		case *tc74.Device:
			v, err := d.ReadTemperature()
			if err != nil {
				return err
			}
			printf(c.App.Writer, "%d °C", v)
		case *tmp102.Device:
			v, err := d.ReadTemperature()
			if err != nil {
				return err
			}
			printf(c.App.Writer, "%.3f °C", float64(v)/1000)
		default:
			return errors.Errorf("%s is not a temperature sensor", name)
		}
		return nil
	})
}

func parseChannel(s string) (dac.Channel, error) {
	switch u := strings.ToUpper(s); {
	case u == "ALL":
		return dac.ChannelAll, nil
	case len(u) == 1 && u[0] >= 'A' && u[0] <= 'H':
		return dac.ChannelA + dac.Channel(u[0]-'A'), nil
	}
	v, err := parseUint(s, 4, "channel")
	return dac.Channel(v), err
}

// DACAction sets one output to a voltage.
func DACAction(c *cli.Context) error {
	if err := wantArgs(c, 3, 3); err != nil {
		return err
	}
	name := c.Args().First()
	ch, err := parseChannel(c.Args().Get(1))
	if err != nil {
		return err
	}
	volts, err := strconv.ParseFloat(c.Args().Get(2), 64)
	if err != nil {
		return errors.Wrap(err, "invalid volts")
	}
	return withSession(c, func(s *session) error {
		d, err := s.devices.DAC(name)
		if err != nil {
			return err
		}
		vref := defaultVRef
		if cfg, ok := s.devices.Config(name); ok && cfg.VRef > 0 {
			vref = cfg.VRef
		}
		if err := d.SetVolts(ch, volts, vref); err != nil {
			return err
		}
		printf(c.App.Writer, "code 0x%04x", dac.Code(volts, vref))
		return nil
	})
}

// ExpanderAction reads or writes a PCF8574 or MCP23017.
func ExpanderAction(c *cli.Context) error {
	if err := wantArgs(c, 1, 2); err != nil {
		return err
	}
	name := c.Args().First()
	write := c.NArg() == 2
	var value uint64
	if write {
		var err error
		if value, err = parseUint(c.Args().Get(1), 16, "value"); err != nil {
			return err
		}
	}
	return withSession(c, func(s *session) error {
		dev, err := s.devices.Get(name)
		if err != nil {
			return err
		}
		switch d := dev.(type) {
		case *pcf8574.Device:
			if write {
				return d.Write(byte(value))
			}
			v, err := d.Read()
			if err != nil {
				return err
			}
			printf(c.App.Writer, "0x%02x", v)
		case *mcp23017.Device:
			if write {
				return d.SetPins(mcp23017.Pins(value), 0xFFFF)
			}
			v, err := d.GetPins()
			if err != nil {
				return err
			}
			printf(c.App.Writer, "0x%04x", uint16(v))
		default:
			return errors.Errorf("%s is not an I/O expander", name)
		}
		return nil
	})
}

func eepromArgs(c *cli.Context) (string, int64, error) {
	if err := wantArgs(c, 3, 3); err != nil {
		return "", 0, err
	}
	off, err := parseUint(c.Args().Get(1), 32, "offset")
	return c.Args().First(), int64(off), err
}

// EEPROMReadAction dumps count bytes from offset.
func EEPROMReadAction(c *cli.Context) error {
	name, off, err := eepromArgs(c)
	if err != nil {
		return err
	}
	n, err := parseUint(c.Args().Get(2), 16, "count")
	if err != nil {
		return err
	}
	return withSession(c, func(s *session) error {
		dev, err := s.devices.Get(name)
		if err != nil {
			return err
		}
		r, ok := dev.(io.ReaderAt)
		if !ok {
			return errors.Errorf("%s is not a memory", name)
		}
		buf := make([]byte, n)
		got, err := r.ReadAt(buf, off)
		if err != nil && !(errors.Is(err, io.EOF) && got > 0) {
			return err
		}
		dump := hex.Dumper(c.App.Writer)
		defer dump.Close()
		_, err = dump.Write(buf[:got])
		return err
	})
}

// EEPROMWriteAction writes hex bytes at offset.
func EEPROMWriteAction(c *cli.Context) error {
	name, off, err := eepromArgs(c)
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(c.Args().Get(2))
	if err != nil {
		return errors.Wrap(err, "invalid hex")
	}
	return withSession(c, func(s *session) error {
		dev, err := s.devices.Get(name)
		if err != nil {
			return err
		}
		w, ok := dev.(io.WriterAt)
		if !ok {
			return errors.Errorf("%s is not a memory", name)
		}
		_, err = w.WriteAt(data, off)
		return err
	})
}

// TraceAction prints a trace file written with --trace.
func TraceAction(c *cli.Context) error {
	if err := wantArgs(c, 1, 1); err != nil {
		return err
	}
	f, err := os.Open(c.Args().First())
	if err != nil {
		return errors.Wrap(err, "open trace")
	}
	defer f.Close()
	h, events, err := trace.Read(f)
	if err != nil {
		return err
	}
	w := c.App.Writer
	printf(w, "session %s on %s, %s", h.Session, h.Bus, h.Created.Format("2006-01-02 15:04:05"))
	for _, e := range events {
		printf(w, "%s  %s", e.Time.Sub(h.Created), e)
	}
	return nil
}
