// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package can

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
)

// SLCAN (Lawicell) ASCII protocol bytes
const (
	slcanCR     = '\r'
	slcanBell   = 0x07
	slcanMaxLen = 1 + 8 + 1 + 16 + 4 // 'T' + ext id + dlc + data + timestamp
)

// slcanBitrates maps bus bitrates to the S<n> setup command.
var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// DefaultBitrate is the bitrate DJI motor controllers use.
const DefaultBitrate = 1000000

// SLCAN is a CAN bus reached through a serial-line adapter speaking the
// Lawicell ASCII protocol (CANable, USBtin, many USB-CAN dongles).
type SLCAN struct {
	port   io.ReadWriteCloser
	name   string
	closed atomic.Bool
	reader *bufio.Reader
	line   []byte

	txMu  sync.Mutex
	txBuf []byte
}

// OpenSLCAN opens a serial port and brings the adapter on the bus at bitrate.
func OpenSLCAN(portName string, baudRate, bitrate int) (*SLCAN, error) {
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

	bus, err := NewSLCAN(port, portName, bitrate)
	if err != nil {
		port.Close()
		return nil, err
	}
	return bus, nil
}

// NewSLCAN runs the adapter setup sequence on an already open stream.
func NewSLCAN(port io.ReadWriteCloser, name string, bitrate int) (*SLCAN, error) {
	code, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("slcan: unsupported bitrate %d", bitrate)
	}

	s := &SLCAN{
		port:   port,
		name:   name,
		reader: bufio.NewReader(port),
		line:   make([]byte, 0, slcanMaxLen),
		txBuf:  make([]byte, 0, slcanMaxLen+1),
	}

	// close first in case the adapter was left open by a previous session
	for _, cmd := range []string{"C\r", "S" + string(code) + "\r", "O\r"} {
		if _, err := io.WriteString(port, cmd); err != nil {
			return nil, fmt.Errorf("slcan setup %q: %w", cmd[:len(cmd)-1], err)
		}
	}
	return s, nil
}

// Send transmits one frame.
func (s *SLCAN) Send(frame Frame) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	buf, err := AppendSLCAN(s.txBuf[:0], frame)
	if err != nil {
		return err
	}
	s.txBuf = buf
	if _, err := s.port.Write(buf); err != nil {
		return fmt.Errorf("write %s: %w", s.name, err)
	}
	return nil
}

// Receive returns the next frame line from the adapter, skipping
// acknowledgements and status responses.
func (s *SLCAN) Receive() (Frame, error) {
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			if s.closed.Load() {
				return Frame{}, ErrClosed
			}
			return Frame{}, fmt.Errorf("read %s: %w", s.name, err)
		}

		switch b {
		case slcanBell:
			// adapter rejected a command
			s.line = s.line[:0]
			continue
		case slcanCR:
			line := s.line
			s.line = s.line[:0]
			if len(line) == 0 {
				continue
			}
			switch line[0] {
			case 't', 'T', 'r', 'R':
				return ParseSLCAN(line)
			default:
				// z/Z transmit acks, version and status replies
				continue
			}
		default:
			if len(s.line) >= slcanMaxLen {
				s.line = s.line[:0]
				return Frame{}, fmt.Errorf("%w: slcan line too long", ErrMalformed)
			}
			s.line = append(s.line, b)
		}
	}
}

// Close takes the adapter off the bus and closes the port.
func (s *SLCAN) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.txMu.Lock()
	io.WriteString(s.port, "C\r")
	s.txMu.Unlock()
	return s.port.Close()
}

func (s *SLCAN) String() string {
	return "slcan:" + s.name
}

// AppendSLCAN appends the ASCII encoding of frame, including the trailing CR, to dst.
func AppendSLCAN(dst []byte, frame Frame) ([]byte, error) {
	if err := frame.Validate(); err != nil {
		return dst, err
	}

	switch {
	case frame.Extended && frame.RTR:
		dst = append(dst, 'R')
	case frame.Extended:
		dst = append(dst, 'T')
	case frame.RTR:
		dst = append(dst, 'r')
	default:
		dst = append(dst, 't')
	}

	if frame.Extended {
		dst = appendHex(dst, uint64(frame.ID), 8)
	} else {
		dst = appendHex(dst, uint64(frame.ID), 3)
	}
	dst = appendHex(dst, uint64(frame.Len), 1)
	if !frame.RTR {
		for _, b := range frame.Payload() {
			dst = appendHex(dst, uint64(b), 2)
		}
	}
	return append(dst, slcanCR), nil
}

// ParseSLCAN decodes one frame line (without the trailing CR).
// A trailing 4-digit timestamp is accepted and ignored.
func ParseSLCAN(line []byte) (Frame, error) {
	if len(line) == 0 {
		return Frame{}, fmt.Errorf("%w: empty slcan line", ErrMalformed)
	}

	var frame Frame
	idLen := 3
	switch line[0] {
	case 't':
	case 'T':
		frame.Extended = true
		idLen = 8
	case 'r':
		frame.RTR = true
	case 'R':
		frame.Extended = true
		frame.RTR = true
		idLen = 8
	default:
		return Frame{}, fmt.Errorf("%w: unknown slcan command %q", ErrMalformed, line[0])
	}

	if len(line) < 1+idLen+1 {
		return Frame{}, fmt.Errorf("%w: short slcan line %q", ErrMalformed, line)
	}

	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: bad id in %q", ErrMalformed, line)
	}
	frame.ID = uint32(id)

	dlc, err := strconv.ParseUint(string(line[1+idLen:2+idLen]), 16, 8)
	if err != nil || dlc > MaxDataLen {
		return Frame{}, fmt.Errorf("%w: bad length in %q", ErrMalformed, line)
	}
	frame.Len = uint8(dlc)

	data := line[2+idLen:]
	if !frame.RTR {
		want := int(dlc) * 2
		if len(data) != want && len(data) != want+4 {
			return Frame{}, fmt.Errorf("%w: expected %d data digits in %q", ErrMalformed, want, line)
		}
		for i := 0; i < int(dlc); i++ {
			v, err := strconv.ParseUint(string(data[i*2:i*2+2]), 16, 8)
			if err != nil {
				return Frame{}, fmt.Errorf("%w: bad data in %q", ErrMalformed, line)
			}
			frame.Data[i] = byte(v)
		}
	}

	if err := frame.Validate(); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return frame, nil
}

const hexDigits = "0123456789ABCDEF"

func appendHex(dst []byte, v uint64, digits int) []byte {
	for i := digits - 1; i >= 0; i-- {
		dst = append(dst, hexDigits[(v>>(uint(i)*4))&0xF])
	}
	return dst
}
