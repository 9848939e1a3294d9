// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package djimotor

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rmctl/motorstat/pkg/can"
	"github.com/rmctl/motorstat/pkg/mathutil"
)

// Feedback is the last state reported by a motor controller.
type Feedback struct {
	Encoder     uint16 // rotor position, 0..8191
	RPM         int16
	Current     int16 // raw torque current
	Temperature uint8 // °C

	// Received is when the frame was decoded; zero until the first frame.
	Received time.Time
}

// Angle returns the rotor position in degrees.
func (f Feedback) Angle() float64 {
	return float64(f.Encoder) * 360.0 / EncoderResolution
}

// AngleRad returns the rotor position in radians.
func (f Feedback) AngleRad() float64 {
	return mathutil.DegToRad(f.Angle())
}

// DecodeFeedback parses a feedback payload. Byte 7 is reserved.
//
//	0..1 encoder  uint16 big-endian
//	2..3 rpm      int16 big-endian
//	4..5 current  int16 big-endian
//	6    temperature
func DecodeFeedback(data [8]byte) Feedback {
	return Feedback{
		Encoder:     binary.BigEndian.Uint16(data[0:2]),
		RPM:         int16(binary.BigEndian.Uint16(data[2:4])),
		Current:     int16(binary.BigEndian.Uint16(data[4:6])),
		Temperature: data[6],
	}
}

// EncodeFeedback builds the payload a controller would send for fb.
func EncodeFeedback(fb Feedback) [8]byte {
	var data [8]byte
	binary.BigEndian.PutUint16(data[0:2], fb.Encoder)
	binary.BigEndian.PutUint16(data[2:4], uint16(fb.RPM))
	binary.BigEndian.PutUint16(data[4:6], uint16(fb.Current))
	data[6] = fb.Temperature
	return data
}

// DecodeControl returns the four commands packed in a control payload,
// for motors N..N+3 where N is 1 or 5.
func DecodeControl(data [8]byte) [motorsPerFrame]int16 {
	var cmds [motorsPerFrame]int16
	for i := range cmds {
		cmds[i] = int16(binary.BigEndian.Uint16(data[i*2 : i*2+2]))
	}
	return cmds
}

// Motor is one DJI motor controller on a bus.
type Motor struct {
	reg  *Registry
	bus  can.Bus
	typ  MotorType
	id   uint8
	rxID uint32
	buf  *txBuffer

	mu       sync.RWMutex
	feedback Feedback
}

// NewMotor validates and registers a motor. It fails with a *ConfigurationError
// when id is outside 1..8, typ is unknown, or a motor of the same type already
// has id on bus.
func NewMotor(reg *Registry, bus can.Bus, typ MotorType, id uint8) (*Motor, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if err := reg.validate(bus, typ, id); err != nil {
		name := "<nil>"
		if bus != nil {
			name = bus.String()
		}
		reg.logf("djimotor: rejected %s id %d on %s: %v", typ, id, name, err)
		return nil, &ConfigurationError{Bus: name, Type: typ, ID: id, Err: err}
	}

	m := &Motor{
		reg:  reg,
		bus:  bus,
		typ:  typ,
		id:   id,
		rxID: typ.RxID(id),
		buf:  reg.pool.getOrCreate(bus, typ),
	}
	reg.register(m)
	return m, nil
}

// SetCurrent saturates value to the type's bound and stores it for the next
// SendAll. It never transmits.
func (m *Motor) SetCurrent(value int32) {
	bound := m.typ.Bound()
	clamped := mathutil.AbsConstrain(value, bound)

	m.reg.mu.Lock()
	m.buf.writeCommand(m.id, int16(clamped))
	m.reg.mu.Unlock()
}

// Command returns the last stored (clamped) command.
func (m *Motor) Command() int16 {
	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()
	return m.buf.command(m.id)
}

func (m *Motor) decode(data [8]byte, at time.Time) Feedback {
	fb := DecodeFeedback(data)
	fb.Received = at

	m.mu.Lock()
	m.feedback = fb
	m.mu.Unlock()
	return fb
}

// Feedback returns the last decoded feedback.
func (m *Motor) Feedback() Feedback {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.feedback
}

func (m *Motor) Encoder() uint16 {
	return m.Feedback().Encoder
}

func (m *Motor) RPM() int16 {
	return m.Feedback().RPM
}

func (m *Motor) Current() int16 {
	return m.Feedback().Current
}

func (m *Motor) Temperature() uint8 {
	return m.Feedback().Temperature
}

func (m *Motor) ID() uint8         { return m.id }
func (m *Motor) Type() MotorType   { return m.typ }
func (m *Motor) Bus() can.Bus      { return m.bus }
func (m *Motor) RxID() uint32      { return m.rxID }
func (m *Motor) ControlID() uint32 { return m.typ.ControlID(m.id) }

// String names the motor like "GM6020#1@socketcan:can0".
func (m *Motor) String() string {
	return fmt.Sprintf("%s#%d@%s", m.typ, m.id, m.bus)
}
