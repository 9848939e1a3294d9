// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The motorstat Authors

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/rmctl/motorstat/pkg/can"
	"github.com/rmctl/motorstat/pkg/capture"
	"github.com/rmctl/motorstat/pkg/config"
	"github.com/rmctl/motorstat/pkg/djimotor"
	"github.com/rmctl/motorstat/pkg/mathutil"
)

var (
	driveHz       int
	driveCurrents map[string]int
	driveDuration int
	driveTUI      bool
	driveRecord   string
)

var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Drive the motors in the board file",
	Long: `Run the motor control loop for every motor in the board file.

Each tick, every motor's current setpoint is written into its slot of the
shared control frames and all changed frames are sent. Setpoints are clamped
to the motor type's range (GM6020 ±30000, M3508 ±16384, M2006 ±10000).

Features:
  - Setpoints from --current name=value
  - Interactive setpoint entry with --tui
  - Live feedback table and RPM chart (--tui)
  - Statistics tracking
  - Automatic reconnection on connection loss
  - Capture of all sent and received frames (--record)

All setpoints are zeroed and sent once before exiting.

Supports SocketCAN, SLCAN and WebSocket connections.`,
	Example: `  motorstat drive -i can0 --current yaw=2000 --current pitch=-1500
  motorstat drive -p /dev/ttyACM0 --tui`,
	RunE: runDrive,
}

func init() {
	rootCmd.AddCommand(driveCmd)
	driveCmd.Flags().IntVar(&driveHz, "hz", 0, "Control loop rate (default from board file)")
	driveCmd.Flags().StringToIntVar(&driveCurrents, "current", nil, "Current setpoint per motor name (name=value)")
	driveCmd.Flags().IntVar(&driveDuration, "duration", 0, "Stop after N seconds (0 runs until interrupted)")
	driveCmd.Flags().BoolVar(&driveTUI, "tui", false, "Use terminal UI")
	driveCmd.Flags().StringVar(&driveRecord, "record", "", "Write sent and received frames to a capture file")
}

// driveController runs the control loop and handles connection lifecycle
// and reconnection
type driveController struct {
	cfg    *config.Config
	logger *log.Logger
	rec    *capture.Writer
	open   func() (can.Bus, string, error)

	mu        sync.RWMutex
	board     *board
	connInfo  string
	setpoints map[string]int32

	// notify delivers status messages to the TUI, or logs them in text mode
	notify func(msg tea.Msg)
}

func (c *driveController) getBoard() (*board, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.board, c.connInfo
}

func (c *driveController) setBoard(b *board, connInfo string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.board = b
	c.connInfo = connInfo
}

// clampSetpoint narrows a flag value to int32 without wrapping. Motors
// clamp further to their own range.
func clampSetpoint(v int) int32 {
	return int32(mathutil.Constrain(int64(v), math.MinInt32, math.MaxInt32))
}

// setCurrent stores the setpoint applied on the next tick
func (c *driveController) setCurrent(name string, value int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cfg.Motor(name); !ok {
		return fmt.Errorf("unknown motor %q", name)
	}
	c.setpoints[name] = value
	return nil
}

func (c *driveController) setpoint(name string) int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.setpoints[name]
}

// stopAll zeroes every setpoint
func (c *driveController) stopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.setpoints {
		c.setpoints[name] = 0
	}
}

// connect opens the bus and constructs the configured motors on it
func (c *driveController) connect() error {
	bus, connInfo, err := c.open()
	if err != nil {
		return err
	}
	if c.rec != nil {
		bus = capture.Tap(bus, c.rec)
	}
	b, err := openBoard(bus, c.cfg, c.logger)
	if err != nil {
		bus.Close()
		return err
	}
	c.setBoard(b, connInfo)
	return nil
}

func runDrive(cmd *cobra.Command, args []string) error {
	cfg, err := driveConfig()
	if err != nil {
		return err
	}
	c, err := newDriveController(cfg, OpenConnection)
	if err != nil {
		return err
	}
	return c.run()
}

// driveConfig loads the board file and applies --hz
func driveConfig() (*config.Config, error) {
	cfg, err := loadConfig(true)
	if err != nil {
		return nil, err
	}
	if len(cfg.Motors) == 0 {
		return nil, fmt.Errorf("%s lists no motors", configPath)
	}
	if driveHz > 0 {
		cfg.Hz = driveHz
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newDriveController(cfg *config.Config, open func() (can.Bus, string, error)) (*driveController, error) {
	c := &driveController{
		cfg: cfg,
		// SendAll failures are reported once per second by the control loop
		logger:    log.New(io.Discard, "", 0),
		open:      open,
		setpoints: make(map[string]int32),
		notify:    func(msg tea.Msg) { log.Print(msg) },
	}
	for _, m := range cfg.Motors {
		c.setpoints[m.Name] = 0
	}
	for name, value := range driveCurrents {
		if err := c.setCurrent(name, clampSetpoint(value)); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// run connects and drives the motors until interrupted or --duration expires
func (c *driveController) run() error {
	if driveRecord != "" {
		var err error
		c.rec, err = capture.Create(driveRecord)
		if err != nil {
			return err
		}
		defer func() {
			if err := c.rec.Close(); err != nil {
				log.Printf("Capture error: %v", err)
			}
		}()
	}

	// Open initial connection
	if err := c.connect(); err != nil {
		return err
	}
	defer func() {
		b, _ := c.getBoard()
		b.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if driveDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(driveDuration)*time.Second)
		defer cancel()
	}

	if driveTUI {
		return c.runTUI(ctx)
	}
	return c.runText(ctx)
}

func (c *driveController) runText(ctx context.Context) error {
	_, connInfo := c.getBoard()
	fmt.Printf("Motorstat - Drive\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Rate: %d Hz\n", c.cfg.Hz)
	names := make([]string, 0, len(c.setpoints))
	for name := range c.setpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-10s setpoint %d\n", name, c.setpoint(name))
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	finish := c.start(ctx)

	statusTicker := time.NewTicker(time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return finish()
		case <-statusTicker.C:
			b, _ := c.getBoard()
			for _, name := range b.names {
				fmt.Printf("%-10s %s\n", name, djimotor.FormatMotor(b.motors[name]))
			}
			fmt.Println()
		}
	}
}

func (c *driveController) runTUI(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Create TUI program with alt screen and mouse support
	p := tea.NewProgram(initialControlModel(c), tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	c.notify = p.Send

	finish := c.start(ctx)

	// Run TUI
	_, err := p.Run()
	cancel()
	stopErr := finish()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %w", err)
	}
	return stopErr
}

// start runs the reader and control loops. The returned function waits for
// ctx to end, sends zero setpoints while the buses are still open and only
// then stops the reader, whose Listen closes the buses.
func (c *driveController) start(ctx context.Context) (finish func() error) {
	readerCtx, stopReader := context.WithCancel(context.Background())

	var reader, control sync.WaitGroup
	reader.Add(1)
	go func() {
		defer reader.Done()
		c.readerLoop(readerCtx)
	}()
	control.Add(1)
	go func() {
		defer control.Done()
		c.controlLoop(ctx)
	}()

	return func() error {
		control.Wait()
		err := c.shutdown()
		stopReader()
		reader.Wait()
		return err
	}
}

// shutdown zeroes all setpoints and sends them once
func (c *driveController) shutdown() error {
	c.stopAll()
	b, _ := c.getBoard()
	c.apply(b)
	return b.reg.SendAll()
}

// apply writes the current setpoints into the board's motors
func (c *driveController) apply(b *board) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, value := range c.setpoints {
		if m, ok := b.motors[name]; ok {
			m.SetCurrent(value)
		}
	}
}

// controlLoop sends setpoints at the configured rate until ctx is done
func (c *driveController) controlLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(c.cfg.Hz))
	defer ticker.Stop()
	report := time.NewTicker(time.Second)
	defer report.Stop()

	var (
		failures int
		lastErr  error
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b, _ := c.getBoard()
			c.apply(b)
			if err := b.reg.SendAll(); err != nil {
				errs := multierr.Errors(err)
				failures += len(errs)
				lastErr = errs[len(errs)-1]
			}
		case <-report.C:
			if failures > 0 {
				c.notify(sendErrorMsg{count: failures, last: lastErr})
				failures, lastErr = 0, nil
			}
		}
	}
}

// readerLoop dispatches feedback with automatic reconnection
func (c *driveController) readerLoop(ctx context.Context) {
	for {
		b, _ := c.getBoard()
		err := b.listen(ctx, nil)
		if ctx.Err() != nil {
			return
		}

		// Notify about connection loss
		c.notify(connectionLostMsg{err: err})

		// Attempt to reconnect
		if !c.reconnect(ctx) {
			return // Shutdown requested during reconnect
		}
	}
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (c *driveController) reconnect(ctx context.Context) bool {
	// Close old connection
	if b, _ := c.getBoard(); b != nil {
		b.Close()
	}

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		// Attempt to reconnect
		if err := c.connect(); err == nil {
			_, connInfo := c.getBoard()
			c.notify(reconnectedMsg{connInfo: connInfo})
			return true
		}

		// Exponential backoff
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

type connectionLostMsg struct {
	err error
}

func (m connectionLostMsg) String() string {
	if m.err != nil {
		return fmt.Sprintf("Connection lost (%v) - reconnecting...", m.err)
	}
	return "Connection lost - reconnecting..."
}

type reconnectedMsg struct {
	connInfo string
}

func (m reconnectedMsg) String() string {
	return "Reconnected: " + m.connInfo
}

type sendErrorMsg struct {
	count int
	last  error
}

func (m sendErrorMsg) String() string {
	return fmt.Sprintf("%d send errors in the last second, last: %v", m.count, m.last)
}
