// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

// Package config loads the board file describing which motors are attached
// and the environment overrides for the connection.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v2"

	"github.com/rmctl/motorstat/pkg/djimotor"
)

// DefaultPath is the board file looked up when --config is not given
const DefaultPath = "motorstat.yaml"

// DefaultHz is the control loop rate DJI ESCs are designed for
const DefaultHz = 1000

// MaxHz bounds the control loop rate
const MaxHz = 2000

var ErrInvalidConfig = errors.New("invalid config")

// Motor describes one motor on the board
type Motor struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	ID   uint8  `yaml:"id"`
	// Bus names a SocketCAN interface; empty means the connection given on the command line
	Bus string `yaml:"bus,omitempty"`
}

// MotorType parses the configured type name
func (m Motor) MotorType() (djimotor.MotorType, error) {
	return djimotor.ParseMotorType(m.Type)
}

// Config is the board file
type Config struct {
	Hz     int     `yaml:"hz"`
	Motors []Motor `yaml:"motors"`
}

// Env holds the connection overrides read from the environment
type Env struct {
	Iface    string `env:"MOTORSTAT_IFACE"`
	Port     string `env:"MOTORSTAT_PORT"`
	Baud     int    `env:"MOTORSTAT_BAUD" envDefault:"115200"`
	URL      string `env:"MOTORSTAT_URL"`
	Hz       int    `env:"MOTORSTAT_HZ"`
	Password string `env:"MOTORSTAT_PASSWORD"`
}

// LoadEnv reads the MOTORSTAT_* variables
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return e, nil
}

// Parse decodes and validates a board file
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if c.Hz == 0 {
		c.Hz = DefaultHz
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads a board file from disk
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Save writes the board file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides file settings with non-zero environment values
func (c *Config) ApplyEnv(e Env) {
	if e.Hz > 0 {
		c.Hz = e.Hz
	}
}

// Validate checks names, types and IDs. Duplicate IDs are caught here so a
// bad board file fails before any bus is opened.
func (c *Config) Validate() error {
	if c.Hz < 1 || c.Hz > MaxHz {
		return fmt.Errorf("%w: hz %d outside 1..%d", ErrInvalidConfig, c.Hz, MaxHz)
	}

	type slot struct {
		bus string
		typ djimotor.MotorType
		id  uint8
	}
	names := make(map[string]bool)
	slots := make(map[slot]string)

	for i, m := range c.Motors {
		if m.Name == "" {
			return fmt.Errorf("%w: motor %d has no name", ErrInvalidConfig, i)
		}
		if names[m.Name] {
			return fmt.Errorf("%w: duplicate motor name %q", ErrInvalidConfig, m.Name)
		}
		names[m.Name] = true

		typ, err := m.MotorType()
		if err != nil {
			return fmt.Errorf("%w: motor %q: %v", ErrInvalidConfig, m.Name, err)
		}
		if m.ID < djimotor.MinMotorID || m.ID > djimotor.MaxMotorID {
			return fmt.Errorf("%w: motor %q: id %d outside %d..%d",
				ErrInvalidConfig, m.Name, m.ID, djimotor.MinMotorID, djimotor.MaxMotorID)
		}

		key := slot{bus: m.Bus, typ: typ, id: m.ID}
		if other, ok := slots[key]; ok {
			return fmt.Errorf("%w: motors %q and %q are both %s id %d", ErrInvalidConfig, other, m.Name, typ, m.ID)
		}
		slots[key] = m.Name
	}
	return nil
}

// Motor returns the motor with the given name
func (c *Config) Motor(name string) (Motor, bool) {
	for _, m := range c.Motors {
		if m.Name == name {
			return m, true
		}
	}
	return Motor{}, false
}

// Slots returns the type and ID of every motor on bus, where "" is the
// command line connection
func (c *Config) Slots(bus string) ([]djimotor.Slot, error) {
	var slots []djimotor.Slot
	for _, m := range c.Motors {
		if m.Bus != bus {
			continue
		}
		typ, err := m.MotorType()
		if err != nil {
			return nil, fmt.Errorf("motor %q: %w", m.Name, err)
		}
		slots = append(slots, djimotor.Slot{Type: typ, ID: m.ID})
	}
	return slots, nil
}
