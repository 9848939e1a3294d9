// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/rmctl/motorstat/pkg/can"
	"github.com/rmctl/motorstat/pkg/djimotor"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Detect implausible feedback and silent motors",
	Long: `Track feedback anomalies, unmatched traffic and silent motors with statistics.

This command decodes feedback for every motor in the board file and detects:
  - Temperatures above 100°C
  - Currents outside the motor type's command range
  - Encoder values outside 0..8191
  - Motors that stopped sending feedback
  - Statistics and trends (frame rate, unmatched frames, anomaly rate)

By default, only anomalies are displayed. Use --show-all to display every
feedback frame too.

Feedback is validated in real-time, with anomalies highlighted immediately and
periodic statistics summaries displayed at configurable intervals.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all feedback frames (not just anomalies)")
	checkCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	checkCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	if len(cfg.Motors) == 0 {
		return fmt.Errorf("%s lists no motors", configPath)
	}

	// Open connection (SocketCAN, SLCAN or WebSocket)
	bus, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	logger := log.Default()
	if useTUI {
		// Registry log lines would tear the alt screen
		logger = log.New(io.Discard, "", 0)
	}
	b, err := openBoard(bus, cfg, logger)
	if err != nil {
		bus.Close()
		return err
	}
	defer b.Close()

	if useTUI {
		return runTUIMode(b, connInfo)
	}
	return runTextMode(b, connInfo)
}

// printAnomalies prints validation errors for one decoded feedback frame
func printAnomalies(m *djimotor.Motor, fb djimotor.Feedback, errors []djimotor.ValidationError) {
	timestamp := fb.Received.Format("15:04:05.000")

	fmt.Printf("[%s] \033[1;33mANOMALY:\033[0m %s#%d (0x%03X)\n", timestamp, m.Type(), m.ID(), m.RxID())

	for i, err := range errors {
		switch err.Type {
		case djimotor.AnomalyOverTemperature:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)

		case djimotor.AnomalyOverCurrent:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if cmd := m.Command(); cmd != 0 {
				fmt.Printf("    Commanded: %d\n", cmd)
			}

		case djimotor.AnomalyEncoderRange:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	fmt.Printf("  %s\n\n", djimotor.FormatFeedback(fb))
}

// silentMotors returns the motors without feedback for longer than maxAge
func silentMotors(b *board, maxAge time.Duration) []string {
	var names []string
	for _, name := range b.names {
		fb := b.motors[name].Feedback()
		if fb.Received.IsZero() || time.Since(fb.Received) > maxAge {
			names = append(names, name)
		}
	}
	return names
}

// checkFrame validates the feedback a frame carried for each matching motor
func checkFrame(b *board, bus can.Bus, frame can.Frame) []feedbackEvent {
	var events []feedbackEvent
	for _, m := range b.reg.Lookup(bus, frame.ID) {
		fb := m.Feedback()
		events = append(events, feedbackEvent{
			motor:     m,
			feedback:  fb,
			anomalies: djimotor.ValidateFeedback(m.Type(), fb),
		})
	}
	return events
}

// runTUIMode runs the check in TUI mode
func runTUIMode(b *board, connInfo string) error {
	// Create TUI program
	m := initialModel(b, connInfo, statsInterval, showAll)
	p := tea.NewProgram(m, tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bus reader goroutine
	go func() {
		err := b.listen(ctx, func(bus can.Bus, frame can.Frame) {
			for _, ev := range checkFrame(b, bus, frame) {
				p.Send(ev)
			}
		})
		p.Send(busClosedMsg{err: err})
	}()

	// Run TUI
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}

// runTextMode runs the check in text mode
func runTextMode(b *board, connInfo string) error {
	fmt.Printf("Motorstat - Feedback Check\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Motors: %d configured\n", len(b.names))
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All feedback\n")
	} else {
		fmt.Printf("Mode: Anomalies only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Channel for decoded feedback
	events := make(chan feedbackEvent, 64)
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- b.listen(ctx, func(bus can.Bus, frame can.Frame) {
			for _, ev := range checkFrame(b, bus, frame) {
				select {
				case events <- ev:
				default:
				}
			}
		})
	}()

	// Statistics ticker
	interval := time.Duration(statsInterval) * time.Second
	statsTicker := time.NewTicker(interval)
	defer statsTicker.Stop()

	for {
		select {
		case ev := <-events:
			if len(ev.anomalies) > 0 {
				printAnomalies(ev.motor, ev.feedback, ev.anomalies)
			} else if showAll {
				fmt.Printf("[%s] %s\n", ev.feedback.Received.Format("15:04:05.000"), djimotor.FormatMotor(ev.motor))
			}

		case <-statsTicker.C:
			// Print statistics
			fmt.Println()
			fmt.Print(b.reg.Statistics().String())
			for _, name := range silentMotors(b, interval) {
				fmt.Printf("\033[1;31mSILENT:\033[0m %s (%s)\n", name, b.motors[name])
			}
			fmt.Println()

		case err := <-listenErr:
			if err != nil {
				return err
			}
			log.Printf("Connection closed")
			return nil
		}
	}
}
