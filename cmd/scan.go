// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The motorstat Authors

package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmctl/motorstat/pkg/can"
	"github.com/rmctl/motorstat/pkg/djimotor"
)

var (
	scanTimeout int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List the motors sending feedback on the bus",
	Long: `Listen to the bus and report every arbitration ID seen.

DJI motor controllers broadcast feedback continuously once powered, so no
request is sent. Each feedback ID is listed with the motor types and IDs that
could have sent it. IDs 0x206..0x208 are ambiguous between a GM6020 and an
M3508/M2006; the board file must say which one is fitted.

Control frames from another controller on the bus are reported too, since
two controllers driving the same motors will fight.

Examples:
  # Scan a SocketCAN interface for 3 seconds
  motorstat scan --iface can0 --timeout 3

Exit codes:
  0 - At least one motor found
  1 - No motor feedback before timeout
  2 - Connection error`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 2, "Listen time in seconds")
}

// scanEntry counts the frames seen on one arbitration ID
type scanEntry struct {
	id       uint32
	count    int
	last     can.Frame
	slots    []djimotor.Slot
	controls []djimotor.MotorType
}

func runScan(cmd *cobra.Command, args []string) error {
	// Open connection (SocketCAN, SLCAN or WebSocket)
	bus, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer bus.Close()

	fmt.Printf("Motorstat - Bus Scan\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n\n", scanTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(scanTimeout)*time.Second)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[uint32]*scanEntry)
	err = can.Listen(ctx, bus, func(frame can.Frame) {
		if frame.Extended || frame.RTR {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		e, ok := seen[frame.ID]
		if !ok {
			e = &scanEntry{
				id:       frame.ID,
				slots:    djimotor.SlotsForRxID(frame.ID),
				controls: djimotor.ControlTypes(frame.ID),
			}
			seen[frame.ID] = e
			if len(e.slots) > 0 && len(e.controls) == 0 {
				fmt.Printf("Feedback on 0x%03X: %s\n", frame.ID, formatSlots(e.slots))
			}
		}
		e.count++
		e.last = frame
	})
	if err != nil && ctx.Err() == nil {
		fmt.Printf("READ FAILED: %v\n", err)
		os.Exit(2)
	}

	mu.Lock()
	entries := make([]*scanEntry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, e)
	}
	mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	// Summary
	motors := 0
	fmt.Printf("\n--- Scan summary ---\n")
	for _, e := range entries {
		rate := float64(e.count) / float64(scanTimeout)
		switch {
		case len(e.controls) > 0:
			fmt.Printf("0x%03X %6.0f/s  control frame for %s %s\n", e.id, rate, joinTypes(e.controls), djimotor.FormatControl(e.last))
		case len(e.slots) > 0:
			motors++
			fb := djimotor.DecodeFeedback(e.last.Data)
			fmt.Printf("0x%03X %6.0f/s  %s\n               %s\n", e.id, rate, formatSlots(e.slots), djimotor.FormatFeedback(fb))
		default:
			fmt.Printf("0x%03X %6.0f/s  unknown\n", e.id, rate)
		}
	}
	fmt.Printf("Motors found: %d\n", motors)

	if motors == 0 {
		fmt.Printf("No motor feedback. Check power, wiring, termination and bitrate.\n")
		os.Exit(1)
	}

	return nil
}

func formatSlots(slots []djimotor.Slot) string {
	names := make([]string, len(slots))
	for i, s := range slots {
		names[i] = s.String()
	}
	return strings.Join(names, " or ")
}

func joinTypes(types []djimotor.MotorType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, "/")
}
