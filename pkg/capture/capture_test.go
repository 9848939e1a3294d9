// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package capture

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/rmctl/motorstat/pkg/can"
)

func TestRecordEncoding(t *testing.T) {
	rec := Record{Timestamp: 1, ID: 0x205, Data: []byte{0xAA}, Direction: Tx}
	data, err := cbor.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	// {0: 1, 1: 0x205, 2: h'AA', 3: 1}
	want := []byte{0xA4, 0x00, 0x01, 0x01, 0x19, 0x02, 0x05, 0x02, 0x41, 0xAA, 0x03, 0x01}
	if !bytes.Equal(data, want) {
		t.Errorf("Marshal() = % X, want % X", data, want)
	}
}

func TestWriterReader(t *testing.T) {
	base := time.Unix(1700000000, 500)
	frames := []struct {
		frame can.Frame
		dir   Direction
	}{
		{can.NewFrame(0x1FF, []byte{0x75, 0x30, 0, 0, 0, 0, 0, 0}), Tx},
		{can.NewFrame(0x206, []byte{0x10, 0x00, 0xFF, 0x9C, 0x00, 0x64, 0x2A, 0x00}), Rx},
		{can.Frame{ID: 0x18FF50E5, Extended: true, Len: 1, Data: [8]byte{0x01}}, Rx},
		{can.Frame{ID: 0x100}, Rx},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for i, f := range frames {
		if err := w.Write(NewRecord(base.Add(time.Duration(i)*time.Millisecond), f.frame, f.dir)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if w.Count() != len(frames) {
		t.Errorf("Count() = %d, want %d", w.Count(), len(frames))
	}

	r := NewReader(&buf)
	for i, want := range frames {
		rec, err := r.Next()
		if err != nil {
			t.Fatalf("Next() %d error = %v", i, err)
		}
		if rec.Direction != want.dir {
			t.Errorf("record %d direction = %s, want %s", i, rec.Direction, want.dir)
		}
		if !rec.Time().Equal(base.Add(time.Duration(i) * time.Millisecond)) {
			t.Errorf("record %d time = %v", i, rec.Time())
		}
		got, err := rec.Frame()
		if err != nil {
			t.Fatalf("Frame() error = %v", err)
		}
		if got != want.frame {
			t.Errorf("record %d frame = %v, want %v", i, got, want.frame)
		}
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next() at end = %v, want io.EOF", err)
	}
}

func TestReaderRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{
			name: "truncated record",
			data: []byte{0xA4, 0x00, 0x01, 0x01},
		},
		{
			name: "oversized data",
			data: mustMarshal(t, Record{ID: 0x200, Data: make([]byte, 9)}),
		},
		{
			name: "not a map",
			data: []byte{0x63, 'a', 'b', 'c'},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(bytes.NewReader(tt.data)).Next()
			if err == nil || errors.Is(err, io.EOF) {
				t.Errorf("Next() error = %v, want decode error", err)
			}
		})
	}
}

func TestRecordFrameRejectsInvalidID(t *testing.T) {
	rec := Record{ID: 0x800, Data: []byte{1}}
	if _, err := rec.Frame(); !errors.Is(err, can.ErrInvalidID) {
		t.Errorf("Frame() error = %v, want %v", err, can.ErrInvalidID)
	}
}

func TestCreateOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cap")

	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := w.WriteFrame(can.NewFrame(0x200, []byte{1, 2}), Tx); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if rec.ID != 0x200 || !bytes.Equal(rec.Data, []byte{1, 2}) || rec.Direction != Tx {
		t.Errorf("record = %+v", rec)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next() at end = %v, want io.EOF", err)
	}

	if _, err := Open(filepath.Join(t.TempDir(), "missing.cap")); err == nil {
		t.Error("Open() expected error for missing file")
	}
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := cbor.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return data
}
