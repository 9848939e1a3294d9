// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

// Package djimotor multiplexes DJI RoboMaster motor controllers (GM6020,
// M3508/C620, M2006/C610) over shared CAN frames.
//
// Up to four motors of one type share a control frame: each motor packs its
// command into a fixed two-byte slot of a transmit buffer owned by the
// (bus, type) pair, and Registry.SendAll flushes only the frames that changed.
// Feedback frames are routed back to their motor by reception ID through
// Registry.Dispatch.
package djimotor

import (
	"fmt"
	"strings"
)

// MotorType identifies a DJI motor controller family.
type MotorType uint8

const (
	GM6020 MotorType = iota
	M3508
	M2006
)

// Motor ID range. IDs 1-4 share the first control frame, 5-8 the second.
const (
	MinMotorID     = 1
	MaxMotorID     = 8
	motorsPerFrame = 4
)

// Transmit buffer layout
const (
	frameDataLen = 8
	txBufferSize = 18 // two frames plus two unused trailing bytes
)

// Feedback ranges
const (
	EncoderResolution = 8192 // counts per revolution
	MaxTemperature    = 100  // °C, controllers derate above this
)

type motorProperties struct {
	name       string
	rxBase     uint32
	controlIDs [2]uint32
	bound      int32
}

// motorTable is the only place per-type constants are defined.
var motorTable = [...]motorProperties{
	GM6020: {name: "GM6020", rxBase: 0x205, controlIDs: [2]uint32{0x1FF, 0x2FF}, bound: 30000},
	M3508:  {name: "M3508", rxBase: 0x200, controlIDs: [2]uint32{0x200, 0x1FF}, bound: 16384},
	M2006:  {name: "M2006", rxBase: 0x200, controlIDs: [2]uint32{0x200, 0x1FF}, bound: 10000},
}

func (t MotorType) props() (*motorProperties, bool) {
	if int(t) >= len(motorTable) {
		return nil, false
	}
	return &motorTable[t], true
}

// Valid reports whether t is a known motor type.
func (t MotorType) Valid() bool {
	_, ok := t.props()
	return ok
}

func (t MotorType) String() string {
	if p, ok := t.props(); ok {
		return p.name
	}
	return fmt.Sprintf("MotorType(%d)", uint8(t))
}

// Bound returns the symmetric command limit (current or voltage) for t.
func (t MotorType) Bound() int32 {
	if p, ok := t.props(); ok {
		return p.bound
	}
	return 0
}

// RxID returns the feedback arbitration ID of motor id.
func (t MotorType) RxID(id uint8) uint32 {
	if p, ok := t.props(); ok {
		return p.rxBase + uint32(id)
	}
	return 0
}

// ControlID returns the arbitration ID of the control frame carrying motor id.
func (t MotorType) ControlID(id uint8) uint32 {
	p, ok := t.props()
	if !ok || id < MinMotorID || id > MaxMotorID {
		return 0
	}
	return p.controlIDs[frameIndex(id)]
}

// ControlIDs returns both control frame IDs of t.
func (t MotorType) ControlIDs() [2]uint32 {
	if p, ok := t.props(); ok {
		return p.controlIDs
	}
	return [2]uint32{}
}

// MotorTypes lists every supported type.
func MotorTypes() []MotorType {
	return []MotorType{GM6020, M3508, M2006}
}

// ParseMotorType accepts a type name case-insensitively. C620 and C610 are
// accepted as the ESC names of the M3508 and M2006.
func ParseMotorType(s string) (MotorType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GM6020":
		return GM6020, nil
	case "M3508", "C620":
		return M3508, nil
	case "M2006", "C610":
		return M2006, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMotorType, s)
}

// MarshalText implements encoding.TextMarshaler.
func (t MotorType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMotorType, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *MotorType) UnmarshalText(text []byte) error {
	parsed, err := ParseMotorType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Slot identifies a motor by type and ID, independent of any bus.
type Slot struct {
	Type MotorType
	ID   uint8
}

func (s Slot) String() string {
	return fmt.Sprintf("%s#%d", s.Type, s.ID)
}

// SlotsForRxID returns every slot whose feedback arrives on rxID, in type order.
// GM6020 1..3 and M3508/M2006 6..8 share 0x206..0x208.
func SlotsForRxID(rxID uint32) []Slot {
	var slots []Slot
	for _, t := range MotorTypes() {
		base := motorTable[t].rxBase
		if rxID > base && rxID <= base+MaxMotorID {
			slots = append(slots, Slot{Type: t, ID: uint8(rxID - base)})
		}
	}
	return slots
}

// ControlTypes returns the types that use id as a control frame ID.
func ControlTypes(id uint32) []MotorType {
	var types []MotorType
	for _, t := range MotorTypes() {
		for _, cid := range motorTable[t].controlIDs {
			if cid == id {
				types = append(types, t)
				break
			}
		}
	}
	return types
}

// frameIndex returns which control frame carries motor id.
func frameIndex(id uint8) int {
	return int(id-1) / motorsPerFrame
}
