// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

// Package ist8310 drives the iSentek IST8310 three-axis magnetometer found on
// RoboMaster development boards.
package ist8310

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
)

// I2C register map
const (
	regWhoAmI  = 0x00
	regStat1   = 0x02
	regData    = 0x03 // X LSB, X MSB, Y LSB, Y MSB, Z LSB, Z MSB
	regCntl1   = 0x0A
	regCntl2   = 0x0B
	regAvgCntl = 0x41
	regPDCntl  = 0x42
)

const (
	whoAmI = 0x10

	cntl1Single = 0x01
	cntl2None   = 0x00
	stat1DRDY   = 0x01

	// averaging: 2 samples on Y and on X/Z
	avgTwice = 0x09
	// pulse duration: normal
	pdNormal = 0xC0

	// µT per LSB
	sensitivity = 0.3
)

// DefaultAddr is the address with CAD0 and CAD1 tied low
const DefaultAddr = 0x0E

var (
	// measureDelay is how long a single measurement takes
	measureDelay = 6 * time.Millisecond
	// readyPolls bounds how often STAT1 is polled after measureDelay
	readyPolls = 5
)

var (
	ErrNoSensor    = errors.New("ist8310: no sensor")
	ErrSensorError = errors.New("ist8310: sensor error")
)

// Status is the health of the device after the last operation
type Status uint8

const (
	NoError     Status = 0x00
	NoSensor    Status = 0x40
	SensorError Status = 0x80
)

func (s Status) String() string {
	switch s {
	case NoError:
		return "ok"
	case NoSensor:
		return "no sensor"
	case SensorError:
		return "sensor error"
	}
	return fmt.Sprintf("Status(0x%02X)", uint8(s))
}

// Opts holds initialization options.
//
// Addr defaults to DefaultAddr. Reset, when set, is the RSTN pin; it is
// pulsed low before the device is probed.
type Opts struct {
	Addr  uint16
	Reset gpio.PinOut
}

// Reading is one magnetic field sample in µT
type Reading struct {
	X, Y, Z float64
}

func (r Reading) String() string {
	return fmt.Sprintf("x=%7.1fµT y=%7.1fµT z=%7.1fµT", r.X, r.Y, r.Z)
}

// Dev is an IST8310 on an I2C bus
type Dev struct {
	mu     sync.Mutex
	d      i2c.Dev
	reset  gpio.PinOut
	status Status
	last   Reading
}

// New resets (if a reset pin is given), probes and configures the device.
func New(bus i2c.Bus, opts *Opts) (*Dev, error) {
	addr := uint16(DefaultAddr)
	var reset gpio.PinOut
	if opts != nil {
		if opts.Addr != 0 {
			addr = opts.Addr
		}
		reset = opts.Reset
	}

	d := &Dev{
		d:     i2c.Dev{Bus: bus, Addr: addr},
		reset: reset,
	}

	if err := d.Reset(); err != nil {
		return nil, err
	}
	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reset pulses the reset pin, if any.
func (d *Dev) Reset() error {
	if d.reset == nil {
		return nil
	}
	if err := d.reset.Out(gpio.Low); err != nil {
		return fmt.Errorf("ist8310: reset: %w", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := d.reset.Out(gpio.High); err != nil {
		return fmt.Errorf("ist8310: reset: %w", err)
	}
	time.Sleep(50 * time.Millisecond)
	return nil
}

func (d *Dev) init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, err := d.readReg(regWhoAmI)
	if err != nil || id != whoAmI {
		d.status = NoSensor
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoSensor, err)
		}
		return fmt.Errorf("%w: WHO_AM_I 0x%02X, want 0x%02X", ErrNoSensor, id, whoAmI)
	}

	config := []struct {
		reg, val byte
	}{
		{regCntl2, cntl2None},
		{regAvgCntl, avgTwice},
		{regPDCntl, pdNormal},
	}
	for _, c := range config {
		if err := d.writeReg(c.reg, c.val); err != nil {
			d.status = SensorError
			return fmt.Errorf("%w: write 0x%02X: %v", ErrSensorError, c.reg, err)
		}
		got, err := d.readReg(c.reg)
		if err != nil || got != c.val {
			d.status = SensorError
			return fmt.Errorf("%w: register 0x%02X reads 0x%02X, want 0x%02X", ErrSensorError, c.reg, got, c.val)
		}
	}

	d.status = NoError
	return nil
}

// Sense triggers a single measurement and returns it.
func (d *Dev) Sense() (Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writeReg(regCntl1, cntl1Single); err != nil {
		d.status = SensorError
		return Reading{}, fmt.Errorf("%w: trigger: %v", ErrSensorError, err)
	}
	time.Sleep(measureDelay)

	ready := false
	for i := 0; i < readyPolls && !ready; i++ {
		stat, err := d.readReg(regStat1)
		if err != nil {
			d.status = SensorError
			return Reading{}, fmt.Errorf("%w: status: %v", ErrSensorError, err)
		}
		ready = stat&stat1DRDY != 0
		if !ready {
			time.Sleep(time.Millisecond)
		}
	}
	if !ready {
		d.status = SensorError
		return Reading{}, fmt.Errorf("%w: measurement not ready", ErrSensorError)
	}

	var raw [6]byte
	if err := d.d.Tx([]byte{regData}, raw[:]); err != nil {
		d.status = SensorError
		return Reading{}, fmt.Errorf("%w: read data: %v", ErrSensorError, err)
	}

	d.last = Reading{
		X: float64(int16(binary.LittleEndian.Uint16(raw[0:2]))) * sensitivity,
		Y: float64(int16(binary.LittleEndian.Uint16(raw[2:4]))) * sensitivity,
		Z: float64(int16(binary.LittleEndian.Uint16(raw[4:6]))) * sensitivity,
	}
	d.status = NoError
	return d.last, nil
}

// Last returns the most recent successful reading.
func (d *Dev) Last() Reading {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Status returns the health after the last operation.
func (d *Dev) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Dev) String() string {
	return fmt.Sprintf("IST8310{%s}", &d.d)
}

// Halt implements conn.Resource. The device idles between single
// measurements so there is nothing to stop.
func (d *Dev) Halt() error {
	return nil
}

func (d *Dev) readReg(reg byte) (byte, error) {
	var b [1]byte
	if err := d.d.Tx([]byte{reg}, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Dev) writeReg(reg, val byte) error {
	return d.d.Tx([]byte{reg, val}, nil)
}
