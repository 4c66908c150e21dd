// Package cli implements the rcpod-i2c command line tool.
package cli

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
)

const (
	configFlag = "config"
	deviceFlag = "device"
	simFlag    = "sim"
	traceFlag  = "trace"
	debugFlag  = "debug"
)

// NewApp returns the rcpod-i2c application.
func NewApp() *cli.App {
	return &cli.App{
		Name:            "rcpod-i2c",
		Usage:           "talk to I2C devices on a software bus driven by an rcpod controller",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Usage:   "wiring file (YAML)",
			},
			&cli.StringFlag{
				Name:  deviceFlag,
				Usage: "serial device of the controller, overrides the wiring file",
			},
			&cli.BoolFlag{
				Name:  simFlag,
				Usage: "use an emulated controller with the targets from the wiring file",
			},
			&cli.PathFlag{
				Name:  traceFlag,
				Usage: "record bus events to this file",
			},
			&cli.BoolFlag{
				Name:  debugFlag,
				Usage: "log at debug level",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "info",
				Usage:  "show the controller dictionary",
				Action: InfoAction,
			},
			{
				Name:   "scan",
				Usage:  "list the addresses that acknowledge",
				Action: ScanAction,
			},
			{
				Name:      "read",
				Usage:     "read bytes from a device, optionally after writing a register number",
				ArgsUsage: "<address> [register] <count>",
				Action:    ReadAction,
			},
			{
				Name:      "write",
				Usage:     "write bytes to a device",
				ArgsUsage: "<address> <byte>...",
				Action:    WriteAction,
			},
			{
				Name:      "temp",
				Usage:     "read a temperature sensor",
				ArgsUsage: "<device>",
				Action:    TempAction,
			},
			{
				Name:      "dac",
				Usage:     "set a DAC output",
				ArgsUsage: "<device> <channel> <volts>",
				Action:    DACAction,
			},
			{
				Name:      "expander",
				Usage:     "read an I/O expander, or write it when a value is given",
				ArgsUsage: "<device> [value]",
				Action:    ExpanderAction,
			},
			{
				Name:            "eeprom",
				Usage:           "work with EEPROMs",
				HideHelpCommand: true,
				Subcommands: []*cli.Command{
					{
						Name:      "read",
						Usage:     "dump bytes as hex",
						ArgsUsage: "<device> <offset> <count>",
						Action:    EEPROMReadAction,
					},
					{
						Name:      "write",
						Usage:     "write hex bytes",
						ArgsUsage: "<device> <offset> <hex>",
						Action:    EEPROMWriteAction,
					},
				},
			},
			{
				Name:      "trace",
				Usage:     "print a recorded bus trace",
				ArgsUsage: "<file>",
				Action:    TraceAction,
			},
		},
	}
}

// printf writes one line to w.
func printf(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintf(w, format+"\n", a...)
}
