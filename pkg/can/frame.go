// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package can

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Identifier limits and SocketCAN can_id flags
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF

	effFlag = 0x80000000
	rtrFlag = 0x40000000
	errFlag = 0x20000000

	// FrameSize is the size of a Linux struct can_frame
	FrameSize = 16
	// MaxDataLen is the classical CAN payload limit
	MaxDataLen = 8
)

var (
	ErrInvalidID  = errors.New("can: invalid identifier")
	ErrInvalidLen = errors.New("can: invalid data length")
)

// Frame is a classical CAN 2.0A/2.0B data or remote frame.
type Frame struct {
	ID       uint32 // 11-bit (standard) or 29-bit (extended)
	Extended bool
	RTR      bool
	Len      uint8 // 0..8
	Data     [MaxDataLen]byte
}

// NewFrame builds a standard data frame. Data beyond 8 bytes is truncated.
func NewFrame(id uint32, data []byte) Frame {
	f := Frame{ID: id}
	f.Len = uint8(copy(f.Data[:], data))
	return f
}

// Payload returns the valid data bytes of the frame.
func (f *Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return f.Data[:n]
}

// Validate returns an error if the frame cannot be put on the wire.
func (f Frame) Validate() error {
	if f.Len > MaxDataLen {
		return ErrInvalidLen
	}
	limit := uint32(MaxStandardID)
	if f.Extended {
		limit = MaxExtendedID
	}
	if f.ID > limit {
		return ErrInvalidID
	}
	return nil
}

// MarshalBinary encodes the frame in the Linux SocketCAN struct can_frame layout:
//
//	0..3  can_id, little-endian, with EFF/RTR flags
//	4     can_dlc
//	5..7  padding
//	8..15 data
func (f Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FrameSize)
	if err := f.marshalTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (f Frame) marshalTo(buf []byte) error {
	if err := f.Validate(); err != nil {
		return err
	}
	id := f.ID
	if f.Extended {
		id |= effFlag
	}
	if f.RTR {
		id |= rtrFlag
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	buf[5], buf[6], buf[7] = 0, 0, 0
	copy(buf[8:16], f.Data[:])
	return nil
}

// UnmarshalBinary decodes a frame from the struct can_frame layout.
// Error frames reported by the controller are rejected.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < FrameSize {
		return fmt.Errorf("can: need %d bytes, got %d", FrameSize, len(data))
	}
	id := binary.LittleEndian.Uint32(data[0:4])
	if id&errFlag != 0 {
		return fmt.Errorf("%w: error frame 0x%08X", ErrMalformed, id)
	}
	f.Extended = id&effFlag != 0
	f.RTR = id&rtrFlag != 0
	if f.Extended {
		f.ID = id & MaxExtendedID
	} else {
		f.ID = id & MaxStandardID
	}
	f.Len = data[4]
	copy(f.Data[:], data[8:16])
	return f.Validate()
}

// String formats the frame like candump: "1FF [8] 75 30 00 00 00 00 00 00".
func (f Frame) String() string {
	var sb strings.Builder
	if f.Extended {
		fmt.Fprintf(&sb, "%08X", f.ID)
	} else {
		fmt.Fprintf(&sb, "%03X", f.ID)
	}
	fmt.Fprintf(&sb, " [%d]", f.Len)
	if f.RTR {
		sb.WriteString(" remote request")
		return sb.String()
	}
	for _, b := range f.Payload() {
		fmt.Fprintf(&sb, " %02X", b)
	}
	return sb.String()
}
