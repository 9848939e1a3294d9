// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The motorstat Authors

package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmctl/motorstat/pkg/can"
	"github.com/rmctl/motorstat/pkg/config"
	"github.com/rmctl/motorstat/pkg/djimotor"
	"github.com/rmctl/motorstat/pkg/motorsim"
)

// simQueueDepth bounds each direction of the local loopback
const simQueueDepth = 1024

var (
	simLocal bool
	simRate  int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate the motors in the board file",
	Long: `Answer control frames for every motor in the board file with feedback
from a simple motor model.

By default the simulated motors are served on the given connection, so other
tools (or another motorstat) can drive them, e.g. over a vcan interface.

With --local, no connection is needed: the board is driven exactly as by
'motorstat drive' against simulated motors on an in-process loopback bus.
The drive flags --current, --duration, --tui and --record apply.`,
	Example: `  motorstat simulate -i vcan0
  motorstat simulate --local --current yaw=5000 --tui`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().BoolVar(&simLocal, "local", false, "Drive the board against simulated motors on a loopback bus")
	simulateCmd.Flags().IntVar(&simRate, "rate", motorsim.DefaultRate, "Feedback frames per motor per second")

	simulateCmd.Flags().IntVar(&driveHz, "hz", 0, "Control loop rate with --local (default from board file)")
	simulateCmd.Flags().StringToIntVar(&driveCurrents, "current", nil, "Current setpoint per motor name with --local (name=value)")
	simulateCmd.Flags().IntVar(&driveDuration, "duration", 0, "Stop after N seconds (0 runs until interrupted)")
	simulateCmd.Flags().BoolVar(&driveTUI, "tui", false, "Use terminal UI with --local")
	simulateCmd.Flags().StringVar(&driveRecord, "record", "", "Write sent and received frames to a capture file with --local")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simLocal {
		return runLocalSimulation()
	}
	return serveSimulation()
}

// runLocalSimulation runs the drive controller with every motor moved onto
// one simulated loopback bus
func runLocalSimulation() error {
	cfg, err := driveConfig()
	if err != nil {
		return err
	}

	local := &config.Config{Hz: cfg.Hz, Motors: make([]config.Motor, len(cfg.Motors))}
	for i, m := range cfg.Motors {
		m.Bus = ""
		local.Motors[i] = m
	}
	if err := local.Validate(); err != nil {
		return fmt.Errorf("board cannot share one simulated bus: %w", err)
	}
	slots, err := local.Slots("")
	if err != nil {
		return err
	}

	// Each connection gets a fresh simulator, which stops when the
	// controller closes its end of the loopback
	open := func() (can.Bus, string, error) {
		host, motors := can.NewLoopback("sim", simQueueDepth)
		sim, err := motorsim.New(motors, slots...)
		if err != nil {
			host.Close()
			return nil, "", err
		}
		go func() {
			if err := sim.Run(context.Background(), simRate); err != nil {
				log.Printf("Simulator stopped: %v", err)
			}
		}()
		return host, fmt.Sprintf("Simulator: %d motors @ %d Hz", len(slots), simRate), nil
	}

	c, err := newDriveController(local, open)
	if err != nil {
		return err
	}
	return c.run()
}

// serveSimulation plays the board's motors on the command line connection
func serveSimulation() error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	slots, err := cfg.Slots("")
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		return fmt.Errorf("%s lists no motors on the command line connection", configPath)
	}

	bus, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer bus.Close()

	sim, err := motorsim.New(bus, slots...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if driveDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(driveDuration)*time.Second)
		defer cancel()
	}

	fmt.Printf("Motorstat - Simulate\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Feedback rate: %d Hz\n", simRate)
	for _, s := range slots {
		fmt.Printf("  %-10s rx=0x%03X control=0x%03X\n", s, s.Type.RxID(s.ID), s.Type.ControlID(s.ID))
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range slots {
					fb, _ := sim.Feedback(s)
					fmt.Printf("%-10s %s\n", s, djimotor.FormatFeedback(fb))
				}
				fmt.Println()
			}
		}
	}()

	return sim.Run(ctx, simRate)
}
