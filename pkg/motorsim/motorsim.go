// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

// Package motorsim plays the part of DJI motor controllers on a bus: it
// consumes control frames and answers with feedback from a first-order
// motor model, so the tools can be exercised without hardware.
package motorsim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/rmctl/motorstat/pkg/can"
	"github.com/rmctl/motorstat/pkg/djimotor"
	"github.com/rmctl/motorstat/pkg/mathutil"
)

// DefaultRate is the feedback rate of a real controller, per motor
const DefaultRate = 1000

// Model constants
const (
	currentTau  = 5 * time.Millisecond   // current loop response
	speedTau    = 150 * time.Millisecond // mechanical response
	thermalTau  = 30 * time.Second
	ambientTemp = 25.0 // °C
	heatingTemp = 40.0 // °C above ambient at full current
)

// noLoadRPM is the rotor speed reached at the full command range
var noLoadRPM = map[djimotor.MotorType]float64{
	djimotor.GM6020: 320,
	djimotor.M3508:  9000,
	djimotor.M2006:  18000,
}

// Motor is the simulated state of one motor and its controller
type Motor struct {
	slot     djimotor.Slot
	command  int16
	current  float64
	rpm      float64
	position float64 // encoder counts
	temp     float64
}

func newMotor(slot djimotor.Slot) *Motor {
	return &Motor{slot: slot, temp: ambientTemp}
}

// step advances the model by dt
func (m *Motor) step(dt time.Duration) {
	bound := float64(m.slot.Type.Bound())

	m.current += (float64(m.command) - m.current) * mathutil.Constrain(float64(dt)/float64(currentTau), 0, 1)
	m.current = mathutil.AbsConstrain(m.current, bound)

	target := noLoadRPM[m.slot.Type] * m.current / bound
	m.rpm += (target - m.rpm) * mathutil.Constrain(float64(dt)/float64(speedTau), 0, 1)

	m.position += m.rpm / 60 * djimotor.EncoderResolution * dt.Seconds()
	m.position = mathutil.LoopConstrain(m.position, 0, djimotor.EncoderResolution)

	heat := ambientTemp + heatingTemp*math.Abs(m.current)/bound
	m.temp += (heat - m.temp) * mathutil.Constrain(float64(dt)/float64(thermalTau), 0, 1)
}

// Feedback returns what the controller would report now
func (m *Motor) Feedback() djimotor.Feedback {
	return djimotor.Feedback{
		Encoder:     uint16(m.position) % djimotor.EncoderResolution,
		RPM:         int16(math.Round(m.rpm)),
		Current:     int16(math.Round(m.current)),
		Temperature: uint8(math.Round(m.temp)),
	}
}

// Sim is a set of simulated motors on one bus
type Sim struct {
	bus can.Bus

	mu     sync.Mutex
	motors []*Motor
}

// New simulates the given motors on bus. Slots must be valid and unique.
func New(bus can.Bus, slots ...djimotor.Slot) (*Sim, error) {
	if bus == nil {
		return nil, djimotor.ErrNilBus
	}
	s := &Sim{bus: bus}
	seen := make(map[djimotor.Slot]bool)
	for _, slot := range slots {
		if !slot.Type.Valid() {
			return nil, fmt.Errorf("%w: %d", djimotor.ErrUnknownMotorType, uint8(slot.Type))
		}
		if slot.ID < djimotor.MinMotorID || slot.ID > djimotor.MaxMotorID {
			return nil, fmt.Errorf("%s: %w", slot, djimotor.ErrInvalidMotorID)
		}
		if seen[slot] {
			return nil, fmt.Errorf("%s: %w", slot, djimotor.ErrDuplicateMotorID)
		}
		seen[slot] = true
		s.motors = append(s.motors, newMotor(slot))
	}
	return s, nil
}

// Handle applies a control frame to the motors it addresses and reports
// whether any did
func (s *Sim) Handle(frame can.Frame) bool {
	if frame.Extended || frame.RTR || frame.Len < 8 {
		return false
	}
	cmds := djimotor.DecodeControl(frame.Data)

	s.mu.Lock()
	defer s.mu.Unlock()
	matched := false
	for _, m := range s.motors {
		if m.slot.Type.ControlID(m.slot.ID) == frame.ID {
			m.command = cmds[(m.slot.ID-1)%4]
			matched = true
		}
	}
	return matched
}

// Step advances every motor by dt
func (s *Sim) Step(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.motors {
		m.step(dt)
	}
}

// Feedback returns the simulated feedback of slot
func (s *Sim) Feedback(slot djimotor.Slot) (djimotor.Feedback, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.motors {
		if m.slot == slot {
			return m.Feedback(), true
		}
	}
	return djimotor.Feedback{}, false
}

// Publish sends one feedback frame per motor
func (s *Sim) Publish() error {
	s.mu.Lock()
	frames := make([]can.Frame, len(s.motors))
	for i, m := range s.motors {
		data := djimotor.EncodeFeedback(m.Feedback())
		frames[i] = can.NewFrame(m.slot.Type.RxID(m.slot.ID), data[:])
	}
	s.mu.Unlock()

	var err error
	for _, f := range frames {
		err = multierr.Append(err, s.bus.Send(f))
	}
	return err
}

// Run consumes control frames and publishes feedback at rate per second
// until ctx is cancelled or the bus closes. Feedback nobody reads is dropped.
func (s *Sim) Run(ctx context.Context, rate int) error {
	if rate <= 0 {
		rate = DefaultRate
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- can.Listen(ctx, s.bus, func(frame can.Frame) {
			s.Handle(frame)
		})
	}()

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			<-listenErr
			return nil

		case err := <-listenErr:
			return err

		case now := <-ticker.C:
			s.Step(now.Sub(last))
			last = now
			for _, err := range multierr.Errors(s.Publish()) {
				switch {
				case errors.Is(err, can.ErrTxOverflow):
				case errors.Is(err, can.ErrClosed):
					return nil
				default:
					return err
				}
			}
		}
	}
}
