// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package unitree

import (
	"bytes"
	"encoding/hex"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

// feedbackFrame is motor 1 in FOC mode at 35°C: tau 1.5, vel -2, acc -7,
// pos 8192 counts, gyro (1000, -1000, 0), accel (4096, 0, -4096)
const feedbackFrame = "feee01000a00230000000000800100ff00000000000000000000f9ff00000020000000000000e80318fc00000010000000f0000000000000000000000000000000000000000000000000c345bd58"

func TestCRC32Words(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{"zero word", []byte{0, 0, 0, 0}, 0xC704DD7B},
		{"one", []byte{1, 0, 0, 0}, 0xC3C5C0CC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := crc32Words(tt.data, 1); got != tt.want {
				t.Errorf("crc32Words() = 0x%08X, want 0x%08X", got, tt.want)
			}
		})
	}
}

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name string
		id   uint8
		cmd  Command
		want string
	}{
		{
			name: "torque only",
			id:   0,
			cmd:  Command{Mode: ModeFOC, Tau: 1.5},
			want: "fe ee 00 00 0a ff 00 00 00 00 00 00 80 01 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 76 f7 94 7c",
		},
		{
			name: "all parameters",
			id:   2,
			cmd:  Command{Mode: ModeFOC, Tau: -0.5, Vel: 2, Pos: 1, Kp: 0.25, Kd: 0.5},
			want: "fe ee 02 00 0a ff 00 00 00 00 00 00 80 ff 00 01 2f 0a 00 00 00 02 00 02 00 00 00 00 00 00 1e 81 2d cc",
		},
		{
			name: "stop",
			id:   1,
			cmd:  Command{Mode: ModeStop},
			want: "fe ee 01 00 00 ff 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 88 9c 08 f4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeCommand(tt.id, tt.cmd)
			if want := mustHex(t, tt.want); !bytes.Equal(got[:], want) {
				t.Errorf("EncodeCommand() =\n% X\nwant\n% X", got, want)
			}
		})
	}
}

func TestEncodeCommandSaturates(t *testing.T) {
	b := EncodeCommand(0, Command{Mode: ModeFOC, Tau: 1000, Vel: -1000})
	if tau := int16(uint16(b[12]) | uint16(b[13])<<8); tau != math.MaxInt16 {
		t.Errorf("tau = %d, want %d", tau, math.MaxInt16)
	}
	if vel := int16(uint16(b[14]) | uint16(b[15])<<8); vel != math.MinInt16 {
		t.Errorf("vel = %d, want %d", vel, math.MinInt16)
	}
}

func TestDecodeFeedback(t *testing.T) {
	fb, err := DecodeFeedback(mustHex(t, feedbackFrame))
	if err != nil {
		t.Fatalf("DecodeFeedback() error = %v", err)
	}

	near := func(a, b float64) bool { return math.Abs(a-b) < 1e-6 }
	if fb.ID != 1 || fb.Mode != ModeFOC || fb.Temp != 35 || fb.Error != 0 {
		t.Errorf("header fields = %+v", fb)
	}
	if fb.Tau != 1.5 || fb.Vel != -2 || fb.Acc != -7 {
		t.Errorf("tau/vel/acc = %v/%v/%v, want 1.5/-2/-7", fb.Tau, fb.Vel, fb.Acc)
	}
	if !near(fb.Pos, 3.1416) {
		t.Errorf("Pos = %v, want 3.1416", fb.Pos)
	}
	wantGyro := [3]float64{1.07993176, -1.07993176, 0}
	wantAccel := [3]float64{9.7939996672, 0, -9.7939996672}
	for i := 0; i < 3; i++ {
		if !near(fb.Gyro[i], wantGyro[i]) {
			t.Errorf("Gyro[%d] = %v, want %v", i, fb.Gyro[i], wantGyro[i])
		}
		if !near(fb.Accel[i], wantAccel[i]) {
			t.Errorf("Accel[%d] = %v, want %v", i, fb.Accel[i], wantAccel[i])
		}
	}
}

func TestDecodeFeedbackRejects(t *testing.T) {
	good := mustHex(t, feedbackFrame)

	badCRC := append([]byte(nil), good...)
	badCRC[12] ^= 0x01
	badHead := append([]byte(nil), good...)
	badHead[0] = 0x00

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", good[:77], ErrFrameLen},
		{"long", append(append([]byte(nil), good...), 0), ErrFrameLen},
		{"header", badHead, ErrHeader},
		{"crc", badCRC, ErrCRC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeFeedback(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("DecodeFeedback() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// fakePort answers every write with the queued replies, and returns empty
// reads when nothing is queued like a serial port on its read timeout
type fakePort struct {
	mu      sync.Mutex
	written bytes.Buffer
	replies bytes.Buffer
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.replies.Len() == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	return p.replies.Read(b)
}

func (p *fakePort) Close() error { return nil }

func TestMotorSend(t *testing.T) {
	port := &fakePort{}
	port.replies.Write(mustHex(t, feedbackFrame))

	m := NewMotor(NewLink(port, "test"), 1)
	m.SetTau(1.5)
	if err := m.Send(); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	want := EncodeCommand(1, Command{Mode: ModeFOC, Tau: 1.5})
	if !bytes.Equal(port.written.Bytes(), want[:]) {
		t.Errorf("written = % X, want % X", port.written.Bytes(), want)
	}
	fb := m.Feedback()
	if fb.Tau != 1.5 || fb.Received.IsZero() {
		t.Errorf("Feedback() = %+v", fb)
	}
	if cmd := m.Command(); cmd.Kp != 0 || cmd.Kd != 0 || cmd.Tau != 1.5 {
		t.Errorf("Command() = %+v, want pure torque", cmd)
	}
}

func TestMotorSendErrors(t *testing.T) {
	orig := replyTimeout
	replyTimeout = 10 * time.Millisecond
	defer func() { replyTimeout = orig }()

	t.Run("no reply", func(t *testing.T) {
		m := NewMotor(NewLink(&fakePort{}, "test"), 1)
		if err := m.Send(); !errors.Is(err, ErrTimeout) {
			t.Errorf("Send() error = %v, want ErrTimeout", err)
		}
		if !m.Feedback().Received.IsZero() {
			t.Error("feedback updated by a failed exchange")
		}
	})

	t.Run("wrong motor", func(t *testing.T) {
		port := &fakePort{}
		port.replies.Write(mustHex(t, feedbackFrame))
		m := NewMotor(NewLink(port, "test"), 2)
		if err := m.Send(); !errors.Is(err, ErrWrongID) {
			t.Errorf("Send() error = %v, want ErrWrongID", err)
		}
	})

	t.Run("broadcast expects no reply", func(t *testing.T) {
		m := NewMotor(NewLink(&fakePort{}, "test"), BroadcastID)
		m.Stop()
		if err := m.Send(); err != nil {
			t.Errorf("Send() error = %v", err)
		}
	})
}
