// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package ist8310

import (
	"errors"
	"math"
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func init() {
	measureDelay = 0
}

// initOps is the probe and configuration sequence of New
func initOps() []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: DefaultAddr, W: []byte{regWhoAmI}, R: []byte{whoAmI}},
		{Addr: DefaultAddr, W: []byte{regCntl2, cntl2None}},
		{Addr: DefaultAddr, W: []byte{regCntl2}, R: []byte{cntl2None}},
		{Addr: DefaultAddr, W: []byte{regAvgCntl, avgTwice}},
		{Addr: DefaultAddr, W: []byte{regAvgCntl}, R: []byte{avgTwice}},
		{Addr: DefaultAddr, W: []byte{regPDCntl, pdNormal}},
		{Addr: DefaultAddr, W: []byte{regPDCntl}, R: []byte{pdNormal}},
	}
}

func closeBus(t *testing.T, bus *i2ctest.Playback) {
	t.Helper()
	if err := bus.Close(); err != nil {
		t.Error(err)
	}
}

func TestNew(t *testing.T) {
	bus := &i2ctest.Playback{Ops: initOps(), DontPanic: true}
	defer closeBus(t, bus)

	d, err := New(bus, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if d.Status() != NoError {
		t.Errorf("Status() = %s, want %s", d.Status(), NoError)
	}
	if d.Halt() != nil {
		t.Error("Halt() should not fail")
	}
}

func TestNewWithResetPin(t *testing.T) {
	bus := &i2ctest.Playback{Ops: initOps(), DontPanic: true}
	defer closeBus(t, bus)
	pin := &gpiotest.Pin{N: "RSTN", Num: 1, L: gpio.Low}

	if _, err := New(bus, &Opts{Reset: pin}); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if pin.Read() != gpio.High {
		t.Error("reset pin left low")
	}
}

func TestNewNoSensor(t *testing.T) {
	tests := []struct {
		name string
		ops  []i2ctest.IO
	}{
		{
			name: "wrong id",
			ops:  []i2ctest.IO{{Addr: DefaultAddr, W: []byte{regWhoAmI}, R: []byte{0x48}}},
		},
		{
			name: "nothing at address",
			ops:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &i2ctest.Playback{Ops: tt.ops, DontPanic: true}
			defer closeBus(t, bus)

			if _, err := New(bus, nil); !errors.Is(err, ErrNoSensor) {
				t.Errorf("New() error = %v, want %v", err, ErrNoSensor)
			}
		})
	}
}

func TestNewConfigReadbackMismatch(t *testing.T) {
	ops := initOps()[:3]
	ops[2].R = []byte{0xFF}
	bus := &i2ctest.Playback{Ops: ops, DontPanic: true}
	defer closeBus(t, bus)

	if _, err := New(bus, nil); !errors.Is(err, ErrSensorError) {
		t.Errorf("New() error = %v, want %v", err, ErrSensorError)
	}
}

func TestSense(t *testing.T) {
	ops := append(initOps(),
		i2ctest.IO{Addr: DefaultAddr, W: []byte{regCntl1, cntl1Single}},
		i2ctest.IO{Addr: DefaultAddr, W: []byte{regStat1}, R: []byte{0x00}},
		i2ctest.IO{Addr: DefaultAddr, W: []byte{regStat1}, R: []byte{stat1DRDY}},
		// x=100, y=-100, z=1000
		i2ctest.IO{Addr: DefaultAddr, W: []byte{regData}, R: []byte{0x64, 0x00, 0x9C, 0xFF, 0xE8, 0x03}},
	)
	bus := &i2ctest.Playback{Ops: ops, DontPanic: true}
	defer closeBus(t, bus)

	d, err := New(bus, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	r, err := d.Sense()
	if err != nil {
		t.Fatalf("Sense() error = %v", err)
	}
	want := Reading{X: 30, Y: -30, Z: 300}
	if math.Abs(r.X-want.X) > 1e-9 || math.Abs(r.Y-want.Y) > 1e-9 || math.Abs(r.Z-want.Z) > 1e-9 {
		t.Errorf("Sense() = %v, want %v", r, want)
	}
	if d.Last() != r {
		t.Errorf("Last() = %v, want %v", d.Last(), r)
	}
}

func TestSenseNotReady(t *testing.T) {
	ops := append(initOps(), i2ctest.IO{Addr: DefaultAddr, W: []byte{regCntl1, cntl1Single}})
	for i := 0; i < readyPolls; i++ {
		ops = append(ops, i2ctest.IO{Addr: DefaultAddr, W: []byte{regStat1}, R: []byte{0x00}})
	}
	bus := &i2ctest.Playback{Ops: ops, DontPanic: true}
	defer closeBus(t, bus)

	d, err := New(bus, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := d.Sense(); !errors.Is(err, ErrSensorError) {
		t.Errorf("Sense() error = %v, want %v", err, ErrSensorError)
	}
	if d.Status() != SensorError {
		t.Errorf("Status() = %s, want %s", d.Status(), SensorError)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{NoError, "ok"},
		{NoSensor, "no sensor"},
		{SensorError, "sensor error"},
		{Status(0x11), "Status(0x11)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
