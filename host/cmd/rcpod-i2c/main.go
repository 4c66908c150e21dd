// Package main is the rcpod-i2c command.
package main

import (
	"fmt"
	"os"

	"rcpod/host/cli"
)

func main() {
	if err := cli.NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "rcpod-i2c: %v\n", err)
		os.Exit(1)
	}
}
