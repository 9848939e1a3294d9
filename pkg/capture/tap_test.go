// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package capture

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/rmctl/motorstat/pkg/can"
)

func TestTapRecordsBothDirections(t *testing.T) {
	near, far := can.NewLoopback("tap", 4)
	defer near.Close()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	tap := Tap(near, w)

	control := can.NewFrame(0x1FF, []byte{0x75, 0x30, 0, 0, 0, 0, 0, 0})
	feedback := can.NewFrame(0x205, []byte{0x10, 0x00, 0xFF, 0x9C, 0x00, 0x64, 0x2A, 0x00})

	if err := tap.Send(control); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got, err := far.Receive(); err != nil || got != control {
		t.Fatalf("far Receive() = %v, %v", got, err)
	}

	if err := far.Send(feedback); err != nil {
		t.Fatalf("far Send() error = %v", err)
	}
	if got, err := tap.Receive(); err != nil || got != feedback {
		t.Fatalf("Receive() = %v, %v", got, err)
	}

	if tap.String() != near.String() {
		t.Errorf("String() = %q, want %q", tap.String(), near.String())
	}
	if err := tap.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	r := NewReader(&buf)
	for _, want := range []struct {
		frame can.Frame
		dir   Direction
	}{{control, Tx}, {feedback, Rx}} {
		rec, err := r.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		got, err := rec.Frame()
		if err != nil {
			t.Fatalf("Frame() error = %v", err)
		}
		if got != want.frame || rec.Direction != want.dir {
			t.Errorf("record = %v %s, want %v %s", got, rec.Direction, want.frame, want.dir)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next() at end = %v, want io.EOF", err)
	}
}

func TestTapSkipsFailedSend(t *testing.T) {
	near, _ := can.NewLoopback("tap", 1)
	w := NewWriter(io.Discard)
	tap := Tap(near, w)

	tap.Close()
	if err := tap.Send(can.NewFrame(0x200, nil)); !errors.Is(err, can.ErrClosed) {
		t.Errorf("Send() error = %v, want %v", err, can.ErrClosed)
	}
	if _, err := tap.Receive(); !errors.Is(err, can.ErrClosed) {
		t.Errorf("Receive() error = %v, want %v", err, can.ErrClosed)
	}
	if w.Count() != 0 {
		t.Errorf("Count() = %d, want 0", w.Count())
	}
}
