// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The motorstat Authors

package cmd

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rmctl/motorstat/pkg/can"
	"github.com/rmctl/motorstat/pkg/config"
	"github.com/rmctl/motorstat/pkg/djimotor"
)

// sentBus keeps every frame its inner bus accepted
type sentBus struct {
	can.Bus

	mu   sync.Mutex
	sent []can.Frame
}

func (b *sentBus) Send(frame can.Frame) error {
	if err := b.Bus.Send(frame); err != nil {
		return err
	}
	b.mu.Lock()
	b.sent = append(b.sent, frame)
	b.mu.Unlock()
	return nil
}

func (b *sentBus) frames() []can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]can.Frame(nil), b.sent...)
}

func yawBoard() *config.Config {
	return &config.Config{Hz: 200, Motors: []config.Motor{{Name: "yaw", Type: "GM6020", ID: 1}}}
}

func TestDriveZeroesMotorsBeforeClosing(t *testing.T) {
	host, peer := can.NewLoopback("vcan0", 4096)
	bus := &sentBus{Bus: host}

	// keep the peer's queue from filling
	go func() {
		for {
			if _, err := peer.Receive(); err != nil {
				return
			}
		}
	}()

	c, err := newDriveController(yawBoard(), func() (can.Bus, string, error) {
		return bus, "loopback", nil
	})
	if err != nil {
		t.Fatalf("newDriveController() error = %v", err)
	}
	if err := c.setCurrent("yaw", 1000); err != nil {
		t.Fatalf("setCurrent() error = %v", err)
	}
	if err := c.connect(); err != nil {
		t.Fatalf("connect() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	finish := c.start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for len(bus.frames()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no control frame sent")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := finish(); err != nil {
		t.Fatalf("finish() error = %v", err)
	}

	sent := bus.frames()
	last := sent[len(sent)-1]
	if last.ID != 0x1FF {
		t.Fatalf("last frame ID = 0x%03X, want 0x1FF", last.ID)
	}
	if cmds := djimotor.DecodeControl(last.Data); cmds != [4]int16{} {
		t.Errorf("last control frame = %v, want all zero", cmds)
	}
	if cmds := djimotor.DecodeControl(sent[0].Data); cmds[0] != 1000 {
		t.Errorf("first control frame = %v, want 1000 in slot 1", cmds)
	}

	if _, err := host.Receive(); err != can.ErrClosed {
		t.Errorf("bus still open after finish: %v", err)
	}
}

func TestClampSetpoint(t *testing.T) {
	tests := []struct {
		in   int
		want int32
	}{
		{0, 0},
		{-2000, -2000},
		{math.MaxInt32, math.MaxInt32},
		{math.MinInt32, math.MinInt32},
		{4294967295, math.MaxInt32},
		{-4294967296, math.MinInt32},
	}
	for _, tt := range tests {
		if got := clampSetpoint(tt.in); got != tt.want {
			t.Errorf("clampSetpoint(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDriveCurrentFlagDoesNotWrap(t *testing.T) {
	orig := driveCurrents
	driveCurrents = map[string]int{"yaw": 4294967295}
	defer func() { driveCurrents = orig }()

	c, err := newDriveController(yawBoard(), nil)
	if err != nil {
		t.Fatalf("newDriveController() error = %v", err)
	}
	if got := c.setpoint("yaw"); got != math.MaxInt32 {
		t.Errorf("setpoint = %d, want %d", got, int32(math.MaxInt32))
	}
}
