package cli

import (
	"context"
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"rcpod/bitbang"
	"rcpod/bitbang/i2csim"
	"rcpod/config"
	"rcpod/core"
	"rcpod/device/registry"
	"rcpod/gpio"
	"rcpod/host/link"
	"rcpod/logging"
	"rcpod/trace"
)

// session is everything one command needs: the controller link, the bus
// on top of it and the configured devices.
type session struct {
	cfg     *config.Config
	logger  logging.Logger
	link    *link.Link
	bus     *bitbang.Bus
	devices *registry.Registry

	traceFile *os.File
	tracer    *trace.Writer
	stopSim   func()
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.Path(configFlag); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if dev := c.String(deviceFlag); dev != "" {
		cfg.Link.Device = dev
	}
	return cfg, nil
}

func newLogger(c *cli.Context) logging.Logger {
	if c.Bool(debugFlag) {
		return logging.NewDebugLogger("rcpod-i2c")
	}
	return logging.NewLogger("rcpod-i2c")
}

// openSession connects to the controller, or to an emulated one with
// --sim, and builds the bus and devices.
func openSession(c *cli.Context) (s *session, err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	s = &session{cfg: cfg, logger: newLogger(c)}
	defer func() {
		if err != nil {
			err = multierr.Append(err, s.Close())
			s = nil
		}
	}()

	if c.Bool(simFlag) {
		s.link, err = s.simulate(c.Context)
	} else {
		s.link, err = link.Dial(c.Context, cfg.Link, s.logger)
	}
	if err != nil {
		return s, errors.Wrap(err, "connect to controller")
	}

	opts := []bitbang.Option{bitbang.WithLogger(s.logger)}
	if f := cfg.Bus.Speed.Frequency; f > 0 {
		opts = append(opts, bitbang.WithHalfPeriod(f.Period()/2))
	}
	if cfg.Bus.ClockStretch {
		opts = append(opts, bitbang.WithClockStretching(cfg.Bus.StretchTimeout))
	} else {
		opts = append(opts, bitbang.WithoutClockStretching())
	}
	if path := c.Path(traceFlag); path != "" {
		if s.traceFile, err = os.Create(path); err != nil {
			return s, errors.Wrap(err, "create trace file")
		}
		busName := cfg.Bus.SCL.String() + "/" + cfg.Bus.SDA.String()
		if s.tracer, err = trace.NewWriter(s.traceFile, busName); err != nil {
			return s, err
		}
		opts = append(opts, bitbang.WithTracer(s.tracer))
	}

	if s.bus, err = openBus(s.link, cfg.Bus, opts...); err != nil {
		return s, err
	}
	if s.devices, err = registry.New(s.bus, cfg.Devices, s.logger); err != nil {
		return s, errors.Wrap(err, "configure devices")
	}
	return s, nil
}

// simulate runs the controller firmware emulation over an in-memory pipe,
// with the configured targets on its two-wire line.
func (s *session) simulate(ctx context.Context) (*link.Link, error) {
	scl, sda := s.cfg.Bus.SCL, s.cfg.Bus.SDA
	if !strings.EqualFold(scl.Port, sda.Port) {
		return nil, errors.Errorf("simulation needs scl and sda on one port, have %s and %s", scl, sda)
	}
	port, ok := gpio.LookupPort(scl.Port)
	if !ok {
		return nil, errors.Wrapf(gpio.ErrUnknownPort, "port %q", scl.Port)
	}
	wire := i2csim.NewWire(port, scl.Pin, sda.Pin)
	for _, t := range s.cfg.Sim.Targets {
		wire.Attach(simTarget(t))
	}

	fw := core.NewFirmware(wire, s.logger.Named("sim"))
	host, dev := net.Pipe()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := fw.Serve(ctx, dev); err != nil {
			s.logger.Warnw("emulated controller stopped", "error", err)
		}
	}()
	s.stopSim = func() {
		cancel()
		host.Close()
		<-done
	}
	return link.New(ctx, host, s.cfg.Link.Timeout, s.logger)
}

func simTarget(t config.SimTarget) *i2csim.Target {
	var opts []i2csim.MemoryOption
	if t.PointerSize > 0 {
		opts = append(opts, i2csim.WithPointerSize(t.PointerSize))
	}
	if t.BlockSize > 0 {
		opts = append(opts, i2csim.WithBlocks(t.BlockSize))
	}
	if t.WriteCycle > 0 {
		opts = append(opts, i2csim.WithWriteCycle(t.WriteCycle))
	}
	mem := i2csim.NewMemory(t.Size, opts...)
	mem.Load(0, t.Data)
	tgt := i2csim.NewTarget(t.Address, mem)
	tgt.Width = t.Width
	return tgt
}

func openBus(ctrl gpio.Controller, cfg config.BusConfig, opts ...bitbang.Option) (*bitbang.Bus, error) {
	var ports []gpio.Port
	for _, l := range []config.LineConfig{cfg.SCL, cfg.SDA} {
		p, ok := gpio.LookupPort(l.Port)
		if !ok {
			return nil, errors.Wrapf(gpio.ErrUnknownPort, "line %s", l)
		}
		if len(ports) == 0 || ports[0] != p {
			ports = append(ports, p)
		}
	}
	board, err := gpio.NewBoard(ctrl, ports...)
	if err != nil {
		return nil, errors.Wrap(err, "initialise ports")
	}
	line := func(l config.LineConfig) (*gpio.OpenDrainPin, error) {
		p, _ := gpio.LookupPort(l.Port)
		pin, err := board.Pin(p.Name, l.Pin)
		if err != nil {
			return nil, err
		}
		return gpio.NewOpenDrain(pin)
	}
	scl, err := line(cfg.SCL)
	if err != nil {
		return nil, errors.Wrap(err, "scl")
	}
	sda, err := line(cfg.SDA)
	if err != nil {
		return nil, errors.Wrap(err, "sda")
	}
	return bitbang.New(scl, sda, opts...)
}

// Close releases the bus and the link, and flushes the trace.
func (s *session) Close() error {
	var err error
	if s.bus != nil {
		err = multierr.Append(err, s.bus.Close())
	}
	if s.link != nil {
		err = multierr.Append(err, s.link.Close())
	}
	if s.stopSim != nil {
		s.stopSim()
	}
	if s.tracer != nil {
		err = multierr.Append(err, s.tracer.Err())
	}
	if s.traceFile != nil {
		err = multierr.Append(err, s.traceFile.Close())
	}
	return err
}

// withSession runs fn on an open session and closes it afterwards.
func withSession(c *cli.Context, fn func(*session) error) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	return multierr.Append(fn(s), s.Close())
}
