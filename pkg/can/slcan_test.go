// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package can

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

// fakePort is a serial port replaying canned adapter output
type fakePort struct {
	r      io.Reader
	w      bytes.Buffer
	closed bool
}

func (p *fakePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *fakePort) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestAppendSLCAN(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  string
	}{
		{
			name:  "standard data frame",
			frame: NewFrame(0x205, []byte{0x10, 0x00, 0xFF, 0x9C, 0x00, 0x64, 0x2A, 0x00}),
			want:  "t20581000FF9C00642A00\r",
		},
		{
			name:  "empty data frame",
			frame: Frame{ID: 0x7FF},
			want:  "t7FF0\r",
		},
		{
			name:  "extended data frame",
			frame: Frame{ID: 0x1234567, Extended: true, Len: 2, Data: [8]byte{0xAB, 0xCD}},
			want:  "T012345672ABCD\r",
		},
		{
			name:  "standard remote request",
			frame: Frame{ID: 0x123, RTR: true, Len: 4},
			want:  "r1234\r",
		},
		{
			name:  "extended remote request",
			frame: Frame{ID: 0x1FFFFFFF, Extended: true, RTR: true},
			want:  "R1FFFFFFF0\r",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AppendSLCAN(nil, tt.frame)
			if err != nil {
				t.Fatalf("AppendSLCAN() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("AppendSLCAN() = %q, want %q", got, tt.want)
			}

			parsed, err := ParseSLCAN(got[:len(got)-1])
			if err != nil {
				t.Fatalf("ParseSLCAN() error = %v", err)
			}
			if parsed != tt.frame {
				t.Errorf("ParseSLCAN() = %+v, want %+v", parsed, tt.frame)
			}
		})
	}
}

func TestAppendSLCANInvalidFrame(t *testing.T) {
	_, err := AppendSLCAN(nil, Frame{ID: 0x800})
	if !errors.Is(err, ErrInvalidID) {
		t.Errorf("AppendSLCAN() error = %v, want %v", err, ErrInvalidID)
	}
}

func TestParseSLCAN(t *testing.T) {
	t.Run("timestamp suffix ignored", func(t *testing.T) {
		f, err := ParseSLCAN([]byte("t2012AABB1F40"))
		if err != nil {
			t.Fatalf("ParseSLCAN() error = %v", err)
		}
		if f.ID != 0x201 || f.Len != 2 || f.Data[0] != 0xAA || f.Data[1] != 0xBB {
			t.Errorf("ParseSLCAN() = %+v", f)
		}
	})

	malformed := []string{
		"",
		"x2018",
		"t20",
		"t2019",
		"tG018",
		"t2012AA",
		"t2012AAZZ",
		"t8000",
	}
	for _, line := range malformed {
		t.Run("malformed "+line, func(t *testing.T) {
			_, err := ParseSLCAN([]byte(line))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("ParseSLCAN(%q) error = %v, want %v", line, err, ErrMalformed)
			}
		})
	}
}

func TestSLCANSetupSequence(t *testing.T) {
	port := &fakePort{r: strings.NewReader("")}
	bus, err := NewSLCAN(port, "ttyACM0", DefaultBitrate)
	if err != nil {
		t.Fatalf("NewSLCAN() error = %v", err)
	}

	if got := port.w.String(); got != "C\rS8\rO\r" {
		t.Errorf("setup = %q, want %q", got, "C\rS8\rO\r")
	}
	if bus.String() != "slcan:ttyACM0" {
		t.Errorf("String() = %q", bus.String())
	}

	port.w.Reset()
	if err := bus.Send(NewFrame(0x1FF, []byte{0x75, 0x30})); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := port.w.String(); got != "t1FF27530\r" {
		t.Errorf("Send() wrote %q", got)
	}

	port.w.Reset()
	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := port.w.String(); got != "C\r" {
		t.Errorf("Close() wrote %q, want %q", got, "C\r")
	}
	if !port.closed {
		t.Error("Close() did not close the port")
	}
	if err := bus.Send(Frame{ID: 0x200}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close = %v, want %v", err, ErrClosed)
	}
}

func TestSLCANUnsupportedBitrate(t *testing.T) {
	port := &fakePort{r: strings.NewReader("")}
	if _, err := NewSLCAN(port, "ttyACM0", 333333); err == nil {
		t.Error("NewSLCAN() expected error for unsupported bitrate")
	}
}

func TestSLCANReceive(t *testing.T) {
	stream := "\r" + // ack for C
		"\a" + // rejected S8
		"z\r" + // transmit ack
		"V1013\r" + // version reply
		"t20581000FF9C00642A00\r" +
		"tXYZ8\r" +
		"T18FF50E51FF\r"
	port := &fakePort{r: strings.NewReader(stream)}
	bus, err := NewSLCAN(port, "ttyACM0", DefaultBitrate)
	if err != nil {
		t.Fatalf("NewSLCAN() error = %v", err)
	}

	f, err := bus.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	want := NewFrame(0x205, []byte{0x10, 0x00, 0xFF, 0x9C, 0x00, 0x64, 0x2A, 0x00})
	if f != want {
		t.Errorf("Receive() = %v, want %v", f, want)
	}

	if _, err := bus.Receive(); !errors.Is(err, ErrMalformed) {
		t.Errorf("Receive() error = %v, want %v", err, ErrMalformed)
	}

	f, err = bus.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if !f.Extended || f.ID != 0x18FF50E5 || f.Len != 1 || f.Data[0] != 0xFF {
		t.Errorf("Receive() = %+v", f)
	}

	if _, err := bus.Receive(); !errors.Is(err, io.EOF) {
		t.Errorf("Receive() at end of stream = %v, want %v", err, io.EOF)
	}
}

func TestSLCANReceiveLineTooLong(t *testing.T) {
	port := &fakePort{r: strings.NewReader(strings.Repeat("t", slcanMaxLen+1) + "\rt2000\r")}
	bus, err := NewSLCAN(port, "ttyACM0", DefaultBitrate)
	if err != nil {
		t.Fatalf("NewSLCAN() error = %v", err)
	}

	if _, err := bus.Receive(); !errors.Is(err, ErrMalformed) {
		t.Errorf("Receive() error = %v, want %v", err, ErrMalformed)
	}
}
