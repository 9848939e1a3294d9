// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The motorstat Authors

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmctl/motorstat/pkg/can"
	"github.com/rmctl/motorstat/pkg/capture"
	"github.com/rmctl/motorstat/pkg/djimotor"
)

var (
	replaySend  bool
	replaySpeed float64
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture>",
	Short: "Print a capture file, optionally re-sending its control frames",
	Long: `Read a capture written by monitor --record or drive --record.

Received frames are decoded against the board file and counted in the
statistics printed at the end. With --send, the captured transmit frames
are sent again on the connection, paced by their original timing scaled by
--speed (0 sends as fast as possible).

Re-sending control frames moves motors. Make sure the mechanism is free.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replaySend, "send", false, "Re-send captured transmit frames on the connection")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1, "Playback speed factor (0 for no pacing)")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	r, err := capture.Open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	// Without --send the motors sit on a detached loopback bus so received
	// records can still be decoded.
	var bus can.Bus
	connInfo := "none (decode only)"
	if replaySend {
		bus, connInfo, err = OpenConnection()
		if err != nil {
			return err
		}
	} else {
		bus, _ = can.NewLoopback("replay", 1)
	}

	b, err := openBoard(bus, cfg, log.Default())
	if err != nil {
		bus.Close()
		return err
	}
	defer b.Close()
	motors := b.motorsOn(bus)

	fmt.Printf("Motorstat - Capture Replay\n")
	fmt.Printf("Capture: %s\n", args[0])
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		first   time.Time
		started = time.Now()
		records int
		sent    int
	)

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		records++

		frame, err := rec.Frame()
		if err != nil {
			fmt.Printf("[SKIP] record %d: %v\n", records, err)
			continue
		}

		if first.IsZero() {
			first = rec.Time()
		}
		if replaySend && replaySpeed > 0 {
			offset := time.Duration(float64(rec.Time().Sub(first)) / replaySpeed)
			select {
			case <-ctx.Done():
				return summarizeReplay(b, records, sent)
			case <-time.After(time.Until(started.Add(offset))):
			}
		}

		fmt.Printf("%s %s\n", rec.Direction, djimotor.FormatFrame(rec.Time(), frame, motors))

		switch rec.Direction {
		case capture.Rx:
			b.reg.Dispatch(bus, frame)
		case capture.Tx:
			if !replaySend {
				continue
			}
			if err := bus.Send(frame); err != nil {
				log.Printf("Send error: %v", err)
				continue
			}
			sent++
		}

		if ctx.Err() != nil {
			break
		}
	}

	return summarizeReplay(b, records, sent)
}

func summarizeReplay(b *board, records, sent int) error {
	fmt.Printf("\n--- Replay summary ---\n")
	fmt.Printf("Records: %d\n", records)
	if replaySend {
		fmt.Printf("Sent: %d\n", sent)
	}
	fmt.Print(b.reg.Statistics().String())
	for _, name := range b.names {
		fmt.Printf("%-10s %s\n", name, djimotor.FormatMotor(b.motors[name]))
	}
	return nil
}
