// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The motorstat Authors

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/multierr"
	"golang.org/x/term"

	"github.com/rmctl/motorstat/pkg/can"
	"github.com/rmctl/motorstat/pkg/config"
	"github.com/rmctl/motorstat/pkg/djimotor"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword(env config.Env) (string, error) {
	// First check environment variable
	if env.Password != "" {
		return env.Password, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// OpenConnection opens a SocketCAN, SLCAN or WebSocket bus based on flags,
// falling back to the MOTORSTAT_* environment
func OpenConnection() (can.Bus, string, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, "", err
	}

	iface := firstNonEmpty(ifaceName, env.Iface)
	port := firstNonEmpty(portName, env.Port)
	url := firstNonEmpty(wsURL, env.URL)
	baud := baudRate
	if baud == 0 {
		baud = env.Baud
	}

	switch {
	case url != "":
		password := ""
		if wsUsername != "" {
			password, err = GetPassword(env)
			if err != nil {
				return nil, "", err
			}
		}

		bus, err := can.OpenWebSocket(url, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return bus, fmt.Sprintf("WebSocket: %s", url), nil

	case iface != "":
		bus, err := can.OpenSocketCAN(iface)
		if err != nil {
			return nil, "", err
		}
		return bus, fmt.Sprintf("SocketCAN: %s", iface), nil

	case port != "":
		bus, err := can.OpenSLCAN(port, baud, canBitrate)
		if err != nil {
			return nil, "", err
		}
		return bus, fmt.Sprintf("SLCAN: %s @ %d baud, %d bit/s", port, baud, canBitrate), nil
	}

	return nil, "", fmt.Errorf("one of --iface, --port or --url must be specified")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// loadConfig reads the board file. A missing default board file yields an
// empty config unless required is set.
func loadConfig(required bool) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			cfg = &config.Config{Hz: config.DefaultHz}
		} else {
			return nil, err
		}
	}

	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(env)
	return cfg, cfg.Validate()
}

// board is the set of live motors described by the board file
type board struct {
	cfg    *config.Config
	reg    *djimotor.Registry
	buses  []can.Bus // primary first
	motors map[string]*djimotor.Motor
	names  []string // board file order
}

// openBoard constructs every configured motor. Motors naming a bus get their
// own SocketCAN interface; the rest share primary.
func openBoard(primary can.Bus, cfg *config.Config, logger *log.Logger) (*board, error) {
	b := &board{
		cfg:    cfg,
		reg:    djimotor.NewRegistry(djimotor.WithLogger(logger), djimotor.WithStatistics(djimotor.NewStatistics())),
		buses:  []can.Bus{primary},
		motors: make(map[string]*djimotor.Motor),
	}

	named := make(map[string]can.Bus)
	if ifaceName != "" {
		named[ifaceName] = primary
	}

	for _, mc := range cfg.Motors {
		typ, err := mc.MotorType()
		if err != nil {
			b.closeExtra()
			return nil, err
		}

		bus := primary
		if mc.Bus != "" {
			var ok bool
			if bus, ok = named[mc.Bus]; !ok {
				bus, err = can.OpenSocketCAN(mc.Bus)
				if err != nil {
					b.closeExtra()
					return nil, fmt.Errorf("motor %q: %w", mc.Name, err)
				}
				named[mc.Bus] = bus
				b.buses = append(b.buses, bus)
			}
		}

		m, err := djimotor.NewMotor(b.reg, bus, typ, mc.ID)
		if err != nil {
			b.closeExtra()
			return nil, fmt.Errorf("motor %q: %w", mc.Name, err)
		}
		b.motors[mc.Name] = m
		b.names = append(b.names, mc.Name)
	}

	return b, nil
}

// listen dispatches inbound frames on every bus until ctx is cancelled or a
// bus fails. tap, if set, sees every frame after dispatch. A failing bus
// stops the others.
func (b *board) listen(ctx context.Context, tap func(bus can.Bus, frame can.Frame)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)

	for _, bus := range b.buses {
		bus := bus
		handler := b.reg.Handler(bus)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := can.Listen(ctx, bus, func(frame can.Frame) {
				handler(frame)
				if tap != nil {
					tap(bus, frame)
				}
			})
			if err != nil && ctx.Err() == nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", bus, err))
				mu.Unlock()
				cancel()
			}
		}()
	}

	wg.Wait()
	return errs
}

// motorsOn returns the motors on bus in construction order
func (b *board) motorsOn(bus can.Bus) []*djimotor.Motor {
	var out []*djimotor.Motor
	for _, m := range b.reg.Motors() {
		if m.Bus() == bus {
			out = append(out, m)
		}
	}
	return out
}

// nameOf returns the board file name of m
func (b *board) nameOf(m *djimotor.Motor) string {
	for name, bm := range b.motors {
		if bm == m {
			return name
		}
	}
	return m.String()
}

func (b *board) closeExtra() error {
	var err error
	for _, bus := range b.buses[1:] {
		err = multierr.Append(err, bus.Close())
	}
	return err
}

// Close closes every bus
func (b *board) Close() error {
	return multierr.Append(b.buses[0].Close(), b.closeExtra())
}
