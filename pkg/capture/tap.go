// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package capture

import (
	"sync"

	"github.com/rmctl/motorstat/pkg/can"
)

// TapBus records every frame sent or received on the wrapped bus.
// Recording failures never fail the bus operation; the first one is kept
// for Err.
type TapBus struct {
	can.Bus
	w *Writer

	mu  sync.Mutex
	err error
}

// Tap wraps bus so its traffic is written to w
func Tap(bus can.Bus, w *Writer) *TapBus {
	return &TapBus{Bus: bus, w: w}
}

// Send transmits frame and records it once the bus accepted it
func (t *TapBus) Send(frame can.Frame) error {
	if err := t.Bus.Send(frame); err != nil {
		return err
	}
	t.record(frame, Tx)
	return nil
}

// Receive returns the next frame and records it
func (t *TapBus) Receive() (can.Frame, error) {
	frame, err := t.Bus.Receive()
	if err != nil {
		return frame, err
	}
	t.record(frame, Rx)
	return frame, nil
}

// Err returns the first recording failure
func (t *TapBus) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *TapBus) record(frame can.Frame, dir Direction) {
	if err := t.w.WriteFrame(frame, dir); err != nil {
		t.mu.Lock()
		if t.err == nil {
			t.err = err
		}
		t.mu.Unlock()
	}
}
