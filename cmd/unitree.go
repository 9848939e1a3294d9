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

	"github.com/rmctl/motorstat/pkg/unitree"
)

var (
	unitreePort     string
	unitreeBaud     int
	unitreeID       uint8
	unitreeTau      float64
	unitreeRate     int
	unitreeDuration int
)

var unitreeCmd = &cobra.Command{
	Use:   "unitree",
	Short: "Drive a Unitree actuator over RS-485",
	Long: `Send a torque command to one Unitree A1/Go1 actuator at --rate and print
its feedback once per second.

The actuator answers every command, so a missing or corrupt reply is reported
immediately. A stop command is sent before exiting.`,
	Example: `  motorstat unitree --rs485 /dev/ttyUSB0 --id 0 --tau 0.2 --duration 5`,
	RunE:    runUnitree,
}

func init() {
	rootCmd.AddCommand(unitreeCmd)
	unitreeCmd.Flags().StringVar(&unitreePort, "rs485", "", "RS-485 adapter serial port")
	unitreeCmd.Flags().IntVar(&unitreeBaud, "rs485-baud", unitree.DefaultBaud, "RS-485 baud rate")
	unitreeCmd.Flags().Uint8Var(&unitreeID, "id", 0, "Motor ID (0..2)")
	unitreeCmd.Flags().Float64Var(&unitreeTau, "tau", 0, "Torque setpoint in N·m")
	unitreeCmd.Flags().IntVar(&unitreeRate, "rate", 200, "Commands per second")
	unitreeCmd.Flags().IntVar(&unitreeDuration, "duration", 0, "Stop after N seconds (0 runs until interrupted)")
	unitreeCmd.MarkFlagRequired("rs485")
}

func runUnitree(cmd *cobra.Command, args []string) error {
	if unitreeRate < 1 {
		return fmt.Errorf("rate must be positive")
	}

	link, err := unitree.Open(unitreePort, unitreeBaud)
	if err != nil {
		return err
	}
	defer link.Close()

	m := unitree.NewMotor(link, unitreeID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if unitreeDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(unitreeDuration)*time.Second)
		defer cancel()
	}

	fmt.Printf("Motorstat - Unitree\n")
	fmt.Printf("Connection: %s @ %d baud\n", link, unitreeBaud)
	fmt.Printf("Motor %d, tau %.2f N·m at %d Hz\n", unitreeID, unitreeTau, unitreeRate)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	m.SetTau(unitreeTau)

	ticker := time.NewTicker(time.Second / time.Duration(unitreeRate))
	defer ticker.Stop()
	report := time.NewTicker(time.Second)
	defer report.Stop()

	var failures int
	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return m.Send()

		case <-ticker.C:
			if err := m.Send(); err != nil {
				failures++
				if failures == 1 {
					log.Printf("Exchange error: %v", err)
				}
			}

		case <-report.C:
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), m.Feedback())
			if failures > 0 {
				log.Printf("%d failed exchanges in the last second", failures)
				failures = 0
			}
		}
	}
}
