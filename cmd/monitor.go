// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The motorstat Authors

package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmctl/motorstat/pkg/can"
	"github.com/rmctl/motorstat/pkg/capture"
	"github.com/rmctl/motorstat/pkg/djimotor"
)

var (
	monitorRecord string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display received CAN frames in human-readable format",
	Long: `Continuously display CAN frames as they arrive.

Frames carrying feedback for a motor in the board file are decoded into
encoder angle, speed, current and temperature. Control frames for a
configured motor type are shown with their four packed commands.

With --record the frames are also written to a capture file that the
replay command can read back.

Supports SocketCAN, SLCAN and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&monitorRecord, "record", "", "Write received frames to a capture file")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	// Open connection (SocketCAN, SLCAN or WebSocket)
	bus, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	b, err := openBoard(bus, cfg, log.Default())
	if err != nil {
		bus.Close()
		return err
	}
	defer b.Close()

	var rec *capture.Writer
	if monitorRecord != "" {
		rec, err = capture.Create(monitorRecord)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("Capture error: %v", err)
			}
			fmt.Printf("\nRecorded %d frames to %s\n", rec.Count(), monitorRecord)
		}()
	}

	fmt.Printf("Motorstat - Frame Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Motors: %d configured\n", len(b.names))
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	motors := make(map[can.Bus][]*djimotor.Motor)
	for _, bus := range b.buses {
		motors[bus] = b.motorsOn(bus)
	}

	// Frames from several buses must not interleave mid-line
	var mu sync.Mutex
	err = b.listen(ctx, func(bus can.Bus, frame can.Frame) {
		now := time.Now()
		mu.Lock()
		defer mu.Unlock()

		fmt.Println(djimotor.FormatFrame(now, frame, motors[bus]))
		if rec != nil {
			if err := rec.WriteFrame(frame, capture.Rx); err != nil {
				log.Printf("Capture error: %v", err)
			}
		}
	})
	if err != nil {
		return err
	}

	log.Printf("Connection closed")
	return nil
}
