// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The motorstat Authors

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmctl/motorstat/pkg/can"
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Test connection stability",
	Long: `Hold the connection open without sending anything, counting the frames
received and logging any errors encountered. Useful for debugging adapter,
bridge and cabling problems before any motor is driven.

Exit codes:
  0 - Test completed normally
  1 - Test failed
  2 - Connection error`,
	Example: `  motorstat link -u wss://bridge.local/can --duration 60`,
	RunE:    runLink,
}

var linkDuration int

func init() {
	rootCmd.AddCommand(linkCmd)
	linkCmd.Flags().IntVar(&linkDuration, "duration", 30, "Test duration in seconds")
}

func runLink(cmd *cobra.Command, args []string) error {
	bus, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Connection Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", linkDuration)

	duration := time.Duration(linkDuration) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	frames := make(chan can.Frame, 1024)
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- can.Listen(ctx, bus, func(frame can.Frame) {
			select {
			case frames <- frame:
			default:
			}
		})
	}()

	start := time.Now()
	var (
		total    int
		interval int
		ids      = make(map[uint32]int)
	)

	fmt.Printf("Listening for frames...\n\n")

	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case frame := <-frames:
			total++
			interval++
			ids[frame.ID]++

		case err := <-listenErr:
			if ctx.Err() != nil {
				printLinkResults(time.Since(start), total, ids)
				fmt.Printf("Result: PASSED (connection stable)\n")
				return nil
			}
			if err == nil {
				err = can.ErrClosed
			}
			fmt.Printf("\n[%s] Connection error: %v\n", time.Now().Format("15:04:05.000"), err)
			printLinkResults(time.Since(start), total, ids)
			fmt.Printf("Result: FAILED (connection error)\n")
			os.Exit(1)

		case <-heartbeat.C:
			remaining := time.Until(start.Add(duration)).Seconds()
			fmt.Printf("[%s] Still connected... %d frames/s (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), interval, remaining)
			interval = 0
		}
	}
}

func printLinkResults(elapsed time.Duration, total int, ids map[uint32]int) {
	fmt.Printf("\n--- Test Results ---\n")
	fmt.Printf("Duration: %v\n", elapsed.Truncate(time.Millisecond))
	fmt.Printf("Frames received: %d\n", total)
	fmt.Printf("Distinct IDs: %d\n", len(ids))
}
