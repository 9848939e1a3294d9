// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The motorstat Authors

package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmctl/motorstat/pkg/can"
	"github.com/rmctl/motorstat/pkg/config"
	"github.com/rmctl/motorstat/pkg/djimotor"
)

var (
	probeTimeout int
	probeType    string
	probeID      uint8
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connection by waiting for feedback from a motor",
	Long: `Wait for a feedback frame from one motor until timeout.

This command connects to the bus and waits for a feedback frame on the
reception ID of the given motor type and ID. Other traffic is ignored.
Motor controllers send feedback continuously once powered, so no command
is transmitted.

Exit codes:
  0 - Feedback received before timeout
  1 - Timeout reached without receiving feedback
  2 - Connection error

Useful for checking wiring, termination and ESC ID switches.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for feedback")
	probeCmd.Flags().StringVarP(&probeType, "type", "t", djimotor.GM6020.String(), "Motor type (GM6020, M3508, M2006)")
	probeCmd.Flags().Uint8Var(&probeID, "id", 1, "Motor ID (1-8)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	typ, err := djimotor.ParseMotorType(probeType)
	if err != nil {
		return err
	}

	// Open connection (SocketCAN, SLCAN or WebSocket)
	bus, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	cfg := &config.Config{
		Hz:     config.DefaultHz,
		Motors: []config.Motor{{Name: "probe", Type: typ.String(), ID: probeID}},
	}
	if err := cfg.Validate(); err != nil {
		bus.Close()
		return err
	}
	b, err := openBoard(bus, cfg, log.New(os.Stderr, "", log.LstdFlags))
	if err != nil {
		bus.Close()
		return err
	}
	defer b.Close()
	m := b.motors["probe"]

	fmt.Printf("Motorstat - Motor Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Motor: %s id %d (feedback 0x%03X)\n", typ, probeID, m.RxID())
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for feedback...\n\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(probeTimeout)*time.Second)
	defer cancel()

	var (
		once        sync.Once
		found       bool
		otherFrames int
	)
	err = b.listen(ctx, func(_ can.Bus, frame can.Frame) {
		if frame.ID != m.RxID() {
			otherFrames++
			return
		}
		once.Do(func() {
			found = true
			cancel()
		})
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)
	}

	if !found {
		fmt.Fprintf(os.Stderr, "TIMEOUT: No feedback received within %d seconds\n", probeTimeout)
		os.Exit(1)
	}

	if otherFrames > 0 {
		fmt.Printf("(ignored %d other frames)\n", otherFrames)
	}
	fb := m.Feedback()
	fmt.Printf("SUCCESS: Received feedback\n")
	fmt.Printf("  Motor: %s\n", m)
	fmt.Printf("  %s\n", djimotor.FormatFeedback(fb))
	for _, v := range djimotor.ValidateFeedback(typ, fb) {
		fmt.Printf("  WARNING: %s\n", v.Message)
	}
	return nil
}
