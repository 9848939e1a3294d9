// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

// Package unitree drives Unitree A1/Go1 joint actuators over their RS-485
// serial link. Each command frame is answered by one feedback frame from the
// addressed motor.
package unitree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/rmctl/motorstat/pkg/mathutil"
)

// Frame sizes
const (
	CommandSize  = 34
	FeedbackSize = 78
)

// DefaultBaud is the actuator's fixed RS-485 rate
const DefaultBaud = 4800000

// replyTimeout bounds the wait for a feedback frame
var replyTimeout = 100 * time.Millisecond

// BroadcastID addresses every motor on the link; none of them answer
const BroadcastID = 0xBB

// Frame header
const (
	headStart0 = 0xFE
	headStart1 = 0xEE
)

// Fixed-point scales
const (
	tauScale = 256.0
	velScale = 128.0
	posScale = 16384.0 / 6.2832 // counts per radian
	kpScale  = 2048.0
	kdScale  = 1024.0

	gyroScale  = 0.00107993176 // rad/s per LSB
	accelScale = 0.0023911132  // m/s² per LSB
)

// CRC coverage in 32-bit words
const (
	commandCRCWords  = 7
	feedbackCRCWords = 18
)

// Mode is the control mode of the actuator
type Mode uint8

const (
	ModeStop Mode = 0
	ModeFOC  Mode = 10 // closed loop torque/velocity/position
)

var (
	ErrFrameLen = errors.New("unitree: wrong frame length")
	ErrHeader   = errors.New("unitree: bad frame header")
	ErrCRC      = errors.New("unitree: crc mismatch")
	ErrWrongID  = errors.New("unitree: reply from another motor")
	ErrTimeout  = errors.New("unitree: no reply")
)

// Command is one set of control parameters. The actuator applies
// tau + kp*(pos-q) + kd*(vel-dq).
type Command struct {
	Mode Mode
	Tau  float64 // N·m
	Vel  float64 // rad/s
	Pos  float64 // rad
	Kp   float64
	Kd   float64
}

// Feedback is the state reported by an actuator
type Feedback struct {
	ID    uint8
	Mode  Mode
	Temp  int8  // °C
	Error uint8 // motor error code, 0 when healthy
	Tau   float64
	Vel   float64
	Acc   int16 // rad/s²
	Pos   float64
	Gyro  [3]float64
	Accel [3]float64

	// Received is when the frame was decoded; zero until the first frame.
	Received time.Time
}

func (f Feedback) String() string {
	return fmt.Sprintf("id=%d mode=%d tau=%6.2fNm vel=%7.2frad/s pos=%7.3frad temp=%d°C err=%d",
		f.ID, f.Mode, f.Tau, f.Vel, f.Pos, f.Temp, f.Error)
}

// crc32Words is the STM32 hardware CRC: CRC-32/MPEG-2 fed one little-endian
// 32-bit word at a time
func crc32Words(data []byte, words int) uint32 {
	const poly = 0x04C11DB7
	crc := uint32(0xFFFFFFFF)
	for i := 0; i < words; i++ {
		word := binary.LittleEndian.Uint32(data[i*4:])
		for bit := 31; bit >= 0; bit-- {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
			if word&(1<<uint(bit)) != 0 {
				crc ^= poly
			}
		}
	}
	return crc
}

func fixed16(v, scale float64) int16 {
	return int16(mathutil.Constrain(v*scale, math.MinInt16, math.MaxInt16))
}

// EncodeCommand builds the frame sent to motor id.
//
//	0..3   FE EE id 00
//	4..7   mode, modify bits FF, read bits, reserved
//	8..11  modify payload (unused)
//	12..13 tau*256   int16
//	14..15 vel*128   int16
//	16..19 pos       int32 counts
//	20..21 kp*2048   int16
//	22..23 kd*1024   int16
//	24..29 low rate command, reserved
//	30..33 crc over bytes 0..27
func EncodeCommand(id uint8, cmd Command) [CommandSize]byte {
	var b [CommandSize]byte
	b[0], b[1], b[2] = headStart0, headStart1, id
	b[4] = byte(cmd.Mode)
	b[5] = 0xFF

	le := binary.LittleEndian
	le.PutUint16(b[12:], uint16(fixed16(cmd.Tau, tauScale)))
	le.PutUint16(b[14:], uint16(fixed16(cmd.Vel, velScale)))
	pos := int32(mathutil.Constrain(cmd.Pos*posScale, math.MinInt32, math.MaxInt32))
	le.PutUint32(b[16:], uint32(pos))
	le.PutUint16(b[20:], uint16(fixed16(cmd.Kp, kpScale)))
	le.PutUint16(b[22:], uint16(fixed16(cmd.Kd, kdScale)))

	le.PutUint32(b[30:], crc32Words(b[:], commandCRCWords))
	return b
}

// DecodeFeedback parses a feedback frame, checking its header and crc.
//
//	0..3   FE EE id 00
//	4..7   mode, read bits, temperature int8, error
//	12..13 tau*256 int16      14..15 vel*128 int16
//	26..27 acc int16          30..33 pos int32 counts
//	38..43 gyro [3]int16      44..49 accel [3]int16
//	74..77 crc over bytes 0..71
func DecodeFeedback(data []byte) (Feedback, error) {
	if len(data) != FeedbackSize {
		return Feedback{}, fmt.Errorf("%w: %d bytes", ErrFrameLen, len(data))
	}
	if data[0] != headStart0 || data[1] != headStart1 {
		return Feedback{}, fmt.Errorf("%w: % X", ErrHeader, data[:2])
	}
	le := binary.LittleEndian
	if want, got := crc32Words(data, feedbackCRCWords), le.Uint32(data[74:]); want != got {
		return Feedback{}, fmt.Errorf("%w: expected 0x%08X, got 0x%08X", ErrCRC, want, got)
	}

	fb := Feedback{
		ID:    data[2],
		Mode:  Mode(data[4]),
		Temp:  int8(data[6]),
		Error: data[7],
		Tau:   float64(int16(le.Uint16(data[12:]))) / tauScale,
		Vel:   float64(int16(le.Uint16(data[14:]))) / velScale,
		Acc:   int16(le.Uint16(data[26:])),
		Pos:   float64(int32(le.Uint32(data[30:]))) / posScale,
	}
	for i := 0; i < 3; i++ {
		fb.Gyro[i] = float64(int16(le.Uint16(data[38+2*i:]))) * gyroScale
		fb.Accel[i] = float64(int16(le.Uint16(data[44+2*i:]))) * accelScale
	}
	return fb, nil
}

// Link is an RS-485 line shared by up to three actuators. Transactions are
// serialized so replies cannot interleave.
type Link struct {
	mu   sync.Mutex
	port io.ReadWriteCloser
	name string
}

// Open opens the serial adapter for the link.
func Open(portName string, baudRate int) (*Link, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(50 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", portName, err)
	}
	return NewLink(port, portName), nil
}

// NewLink wraps an already open stream.
func NewLink(port io.ReadWriteCloser, name string) *Link {
	return &Link{port: port, name: name}
}

// Transact writes a command frame and, unless it was broadcast, reads the
// motor's reply.
func (l *Link) Transact(frame [CommandSize]byte) (Feedback, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.port.Write(frame[:]); err != nil {
		return Feedback{}, fmt.Errorf("unitree write: %w", err)
	}
	if frame[2] == BroadcastID {
		return Feedback{}, nil
	}

	var reply [FeedbackSize]byte
	if err := l.readReply(reply[:]); err != nil {
		return Feedback{}, fmt.Errorf("unitree read: %w", err)
	}
	fb, err := DecodeFeedback(reply[:])
	if err != nil {
		return Feedback{}, err
	}
	if fb.ID != frame[2] {
		return Feedback{}, fmt.Errorf("%w: sent %d, got %d", ErrWrongID, frame[2], fb.ID)
	}
	fb.Received = time.Now()
	return fb, nil
}

// readReply fills buf. The serial port returns empty reads on its read
// timeout, so the reply is bounded by replyTimeout instead.
func (l *Link) readReply(buf []byte) error {
	deadline := time.Now().Add(replyTimeout)
	for n := 0; n < len(buf); {
		nn, err := l.port.Read(buf[n:])
		if err != nil {
			return err
		}
		n += nn
		if nn == 0 && time.Now().After(deadline) {
			return fmt.Errorf("%w after %d of %d bytes", ErrTimeout, n, len(buf))
		}
	}
	return nil
}

// Close closes the serial port.
func (l *Link) Close() error {
	return l.port.Close()
}

func (l *Link) String() string {
	return "rs485:" + l.name
}

// Motor is one actuator on a link. SetTau and SetParam only stage the
// command; Send transmits it and records the reply.
type Motor struct {
	link *Link
	id   uint8

	mu  sync.RWMutex
	cmd Command
	tx  [CommandSize]byte
	fb  Feedback
}

// NewMotor addresses motor id on link. The staged command stops the motor.
func NewMotor(link *Link, id uint8) *Motor {
	m := &Motor{link: link, id: id}
	m.tx = EncodeCommand(id, m.cmd)
	return m
}

// SetTau stages a pure torque command.
func (m *Motor) SetTau(tau float64) {
	m.SetParam(Command{Mode: ModeFOC, Tau: tau})
}

// SetParam stages a full command.
func (m *Motor) SetParam(cmd Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmd = cmd
	m.tx = EncodeCommand(m.id, cmd)
}

// Stop stages the stop mode.
func (m *Motor) Stop() {
	m.SetParam(Command{Mode: ModeStop})
}

// Send transmits the staged command. The last good feedback is kept when
// the exchange fails.
func (m *Motor) Send() error {
	m.mu.RLock()
	tx := m.tx
	m.mu.RUnlock()

	fb, err := m.link.Transact(tx)
	if err != nil {
		return err
	}
	if m.id == BroadcastID {
		return nil
	}

	m.mu.Lock()
	m.fb = fb
	m.mu.Unlock()
	return nil
}

// Command returns the staged command.
func (m *Motor) Command() Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cmd
}

// Feedback returns the last reply.
func (m *Motor) Feedback() Feedback {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fb
}

// ID returns the motor address.
func (m *Motor) ID() uint8 {
	return m.id
}
