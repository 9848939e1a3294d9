// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The motorstat Authors

package cmd

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/rmctl/motorstat/pkg/ist8310"
)

var (
	magBus      string
	magAddr     uint16
	magReset    string
	magInterval time.Duration
	magCount    int
)

var magCmd = &cobra.Command{
	Use:   "mag",
	Short: "Read the IST8310 magnetometer",
	Long: `Read the IST8310 magnetometer on the development board's I2C bus and
print the field and the heading derived from it.

Readings are taken in single measurement mode. The command exits with code 2
if the sensor is missing or reports an error.`,
	Example: `  motorstat mag
  motorstat mag --i2c /dev/i2c-3 --reset GPIO17 --count 10`,
	RunE: runMag,
}

func init() {
	rootCmd.AddCommand(magCmd)
	magCmd.Flags().StringVar(&magBus, "i2c", "", "I2C bus name or number (default first bus)")
	magCmd.Flags().Uint16Var(&magAddr, "addr", ist8310.DefaultAddr, "I2C address")
	magCmd.Flags().StringVar(&magReset, "reset", "", "GPIO pin wired to RSTN")
	magCmd.Flags().DurationVar(&magInterval, "interval", 100*time.Millisecond, "Time between readings")
	magCmd.Flags().IntVar(&magCount, "count", 0, "Stop after N readings (0 runs until interrupted)")
}

func runMag(cmd *cobra.Command, args []string) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	bus, err := i2creg.Open(magBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	opts := &ist8310.Opts{Addr: magAddr}
	if magReset != "" {
		pin := gpioreg.ByName(magReset)
		if pin == nil {
			return fmt.Errorf("unknown GPIO pin %q", magReset)
		}
		opts.Reset = pin
	}

	dev, err := ist8310.New(bus, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer dev.Halt()

	fmt.Printf("Motorstat - Magnetometer\n")
	fmt.Printf("Device: %s\n", dev)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ticker := time.NewTicker(magInterval)
	defer ticker.Stop()

	for n := 0; magCount == 0 || n < magCount; n++ {
		r, err := dev.Sense()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v (status %s)\n", err, dev.Status())
			os.Exit(2)
		}
		fmt.Printf("[%s] %s heading=%5.1f°\n", time.Now().Format("15:04:05.000"), r, heading(r))

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// heading is the angle of the horizontal field from the X axis, 0..360°
func heading(r ist8310.Reading) float64 {
	deg := math.Atan2(r.Y, r.X) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg
}
