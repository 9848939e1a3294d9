// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The motorstat Authors

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/rmctl/motorstat/pkg/can"
	"github.com/rmctl/motorstat/pkg/config"
	"github.com/rmctl/motorstat/pkg/djimotor"
)

var (
	setupScan    bool
	setupTimeout int
)

var (
	setupHeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	setupSuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	setupDimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the board file interactively",
	Long: `Walk through the motors on the board and write the board file given by
--config.

With --scan, the bus is listened to first and the motors sending feedback are
offered as a starting point. Feedback IDs 0x206..0x208 could be either a
GM6020 or an M3508/M2006, so both candidates are offered for those.`,
	Example: `  motorstat setup
  motorstat setup -i can0 --scan -c robot.yaml`,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.Flags().BoolVar(&setupScan, "scan", false, "Offer the motors found on the bus")
	setupCmd.Flags().IntVar(&setupTimeout, "timeout", 2, "Scan time in seconds")
}

func runSetup(cmd *cobra.Command, args []string) error {
	fmt.Println(setupHeaderStyle.Render("Motorstat Setup"))
	fmt.Println(setupDimStyle.Render("━━━━━━━━━━━━━━━"))
	fmt.Println()

	cfg := &config.Config{Hz: config.DefaultHz}

	if _, err := os.Stat(configPath); err == nil {
		overwrite := false
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s exists. Replace it?", configPath)).
				Affirmative("Replace").
				Negative("Cancel").
				Value(&overwrite),
		))
		if err := form.Run(); err != nil {
			return setupAborted(err)
		}
		if !overwrite {
			return nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if setupScan {
		slots, err := scanSlots()
		if err != nil {
			return err
		}
		motors, err := pickScanned(slots)
		if err != nil {
			return setupAborted(err)
		}
		cfg.Motors = motors
	}

	hz := strconv.Itoa(cfg.Hz)
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Control loop rate (Hz)").
			Description(fmt.Sprintf("DJI controllers expect %d Hz", config.DefaultHz)).
			Value(&hz).
			Validate(func(s string) error {
				n, err := strconv.Atoi(s)
				if err != nil || n < 1 || n > config.MaxHz {
					return fmt.Errorf("enter 1..%d", config.MaxHz)
				}
				return nil
			}),
	))
	if err := form.Run(); err != nil {
		return setupAborted(err)
	}
	cfg.Hz, _ = strconv.Atoi(hz)

	for {
		another := len(cfg.Motors) == 0
		if !another {
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("%d motors configured. Add another?", len(cfg.Motors))).
					Value(&another),
			))
			if err := form.Run(); err != nil {
				return setupAborted(err)
			}
		}
		if !another {
			break
		}

		m, err := askMotor(cfg)
		if err != nil {
			return setupAborted(err)
		}
		cfg.Motors = append(cfg.Motors, m)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(configPath); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(setupSuccessStyle.Render("Setup complete!"))
	fmt.Printf("Board file saved to %s\n", configPath)
	for _, m := range cfg.Motors {
		bus := m.Bus
		if bus == "" {
			bus = "(connection)"
		}
		fmt.Printf("  %-10s %-7s id=%d bus=%s\n", m.Name, m.Type, m.ID, bus)
	}
	fmt.Println()
	fmt.Println("Check the motors with: " + setupHeaderStyle.Render("motorstat check"))
	return nil
}

// askMotor prompts for one motor, rejecting names and slots already used
func askMotor(cfg *config.Config) (config.Motor, error) {
	var (
		name string
		typ  = djimotor.GM6020
		id   uint8
		bus  string
	)

	typeOptions := make([]huh.Option[djimotor.MotorType], 0, 3)
	for _, t := range djimotor.MotorTypes() {
		typeOptions = append(typeOptions, huh.NewOption(t.String(), t))
	}
	idOptions := make([]huh.Option[uint8], 0, djimotor.MaxMotorID)
	for i := uint8(djimotor.MinMotorID); i <= djimotor.MaxMotorID; i++ {
		idOptions = append(idOptions, huh.NewOption(strconv.Itoa(int(i)), i))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Motor name").
				Description("Used with --current name=value").
				Value(&name).
				Validate(func(s string) error {
					s = strings.TrimSpace(s)
					if s == "" || strings.ContainsAny(s, "=, ") {
						return errors.New("enter a name without spaces, commas or '='")
					}
					if _, ok := cfg.Motor(s); ok {
						return fmt.Errorf("%q is already used", s)
					}
					return nil
				}),
			huh.NewSelect[djimotor.MotorType]().
				Title("Type").
				Options(typeOptions...).
				Value(&typ),
			huh.NewSelect[uint8]().
				Title("ID").
				Description("Set with the ESC's button or DIP switches").
				Options(idOptions...).
				Value(&id),
			huh.NewInput().
				Title("SocketCAN interface").
				Description("Leave empty to use the connection given on the command line").
				Value(&bus),
		),
	)
	if err := form.Run(); err != nil {
		return config.Motor{}, err
	}

	return config.Motor{
		Name: strings.TrimSpace(name),
		Type: typ.String(),
		ID:   id,
		Bus:  strings.TrimSpace(bus),
	}, nil
}

// scanSlots listens to the bus and returns every slot that sent feedback
func scanSlots() ([]djimotor.Slot, error) {
	bus, connInfo, err := OpenConnection()
	if err != nil {
		return nil, err
	}
	defer bus.Close()

	fmt.Printf("Scanning %s for %d seconds...\n", connInfo, setupTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(setupTimeout)*time.Second)
	defer cancel()

	var mu sync.Mutex
	found := make(map[djimotor.Slot]bool)
	err = can.Listen(ctx, bus, func(frame can.Frame) {
		if frame.Extended || frame.RTR || len(djimotor.ControlTypes(frame.ID)) > 0 {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, s := range djimotor.SlotsForRxID(frame.ID) {
			found[s] = true
		}
	})
	if err != nil && ctx.Err() == nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	slots := make([]djimotor.Slot, 0, len(found))
	for s := range found {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if a.Type.RxID(a.ID) != b.Type.RxID(b.ID) {
			return a.Type.RxID(a.ID) < b.Type.RxID(b.ID)
		}
		return a.Type < b.Type
	})
	fmt.Printf("Found %d candidate motors\n\n", len(slots))
	return slots, nil
}

// pickScanned lets the user choose which scanned slots are fitted and names
// them after their type and ID
func pickScanned(slots []djimotor.Slot) ([]config.Motor, error) {
	if len(slots) == 0 {
		return nil, nil
	}

	options := make([]huh.Option[djimotor.Slot], len(slots))
	for i, s := range slots {
		options[i] = huh.NewOption(fmt.Sprintf("%s (feedback 0x%03X)", s, s.Type.RxID(s.ID)), s)
	}

	var picked []djimotor.Slot
	form := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[djimotor.Slot]().
			Title("Which of these are fitted?").
			Description("Ambiguous IDs are listed once per possible type").
			Options(options...).
			Value(&picked).
			Validate(func(ss []djimotor.Slot) error {
				ids := make(map[uint32]bool)
				for _, s := range ss {
					rx := s.Type.RxID(s.ID)
					if ids[rx] {
						return fmt.Errorf("only one motor can send feedback on 0x%03X", rx)
					}
					ids[rx] = true
				}
				return nil
			}),
	))
	if err := form.Run(); err != nil {
		return nil, err
	}

	motors := make([]config.Motor, len(picked))
	for i, s := range picked {
		motors[i] = config.Motor{
			Name: strings.ToLower(fmt.Sprintf("%s_%d", s.Type, s.ID)),
			Type: s.Type.String(),
			ID:   s.ID,
		}
	}
	return motors, nil
}

func setupAborted(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		fmt.Println("Setup cancelled.")
		return nil
	}
	return err
}
