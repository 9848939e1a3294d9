// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package djimotor

import (
	"fmt"
	"log"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/rmctl/motorstat/pkg/can"
)

type rxKey struct {
	bus can.Bus
	id  uint32
}

// Registry tracks every motor of a process, owns their shared transmit
// buffers and routes inbound feedback to them. Motors are never removed.
type Registry struct {
	mu     sync.Mutex
	motors []*Motor
	pool   txPool
	rx     map[rxKey][]*Motor
	stats  *Statistics
	logger *log.Logger

	// sendMu serializes SendAll and owns pending
	sendMu  sync.Mutex
	pending []pendingFrame
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger logs rejected motors and transmit failures to l.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithStatistics counts traffic and feedback anomalies into s.
func WithStatistics(s *Statistics) Option {
	return func(r *Registry) {
		r.stats = s
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rx: make(map[rxKey][]*Motor),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) logf(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

// validate checks a prospective motor. Caller holds r.mu.
func (r *Registry) validate(bus can.Bus, typ MotorType, id uint8) error {
	if bus == nil {
		return ErrNilBus
	}
	if !typ.Valid() {
		return ErrUnknownMotorType
	}
	if id < MinMotorID || id > MaxMotorID {
		return ErrInvalidMotorID
	}
	for _, m := range r.motors {
		if m.bus == bus && m.typ == typ && m.id == id {
			return ErrDuplicateMotorID
		}
	}
	return nil
}

// register appends m and indexes its reception ID. Caller holds r.mu.
func (r *Registry) register(m *Motor) {
	r.motors = append(r.motors, m)
	key := rxKey{bus: m.bus, id: m.rxID}
	r.rx[key] = append(r.rx[key], m)
}

// Motors returns the registered motors in construction order.
func (r *Registry) Motors() []*Motor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Motor, len(r.motors))
	copy(out, r.motors)
	return out
}

// Lookup returns the motors on bus whose reception ID is rxID.
func (r *Registry) Lookup(bus can.Bus, rxID uint32) []*Motor {
	r.mu.Lock()
	defer r.mu.Unlock()
	matches := r.rx[rxKey{bus: bus, id: rxID}]
	out := make([]*Motor, len(matches))
	copy(out, matches)
	return out
}

// SendAll transmits every control frame written since the last call, once
// per changed frame. Failed sends are not retried; all failures are returned
// together and do not stop the remaining frames.
func (r *Registry) SendAll() error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	r.pending = r.pending[:0]
	for _, b := range r.pool.order {
		r.pending = b.flush(r.pending)
	}
	r.mu.Unlock()

	var err error
	var sent, failed uint64
	for i := range r.pending {
		p := &r.pending[i]
		if sendErr := p.bus.Send(p.frame); sendErr != nil {
			failed++
			r.logf("djimotor: send 0x%03X on %s: %v", p.frame.ID, p.bus, sendErr)
			err = multierr.Append(err, fmt.Errorf("send 0x%03X on %s: %w", p.frame.ID, p.bus, sendErr))
			continue
		}
		sent++
	}

	if r.stats != nil && len(r.pending) > 0 {
		r.mu.Lock()
		r.stats.updateTx(sent, failed)
		r.mu.Unlock()
	}
	return err
}

// Dispatch decodes frame into every motor on bus whose reception ID matches.
// It reports whether any motor matched; other frames are ignored.
func (r *Registry) Dispatch(bus can.Bus, frame can.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if frame.Extended || frame.RTR || frame.Len < frameDataLen {
		if r.stats != nil {
			r.stats.updateRx(false)
		}
		return false
	}

	matches := r.rx[rxKey{bus: bus, id: frame.ID}]
	if r.stats != nil {
		r.stats.updateRx(len(matches) > 0)
	}
	now := time.Now()
	for _, m := range matches {
		fb := m.decode(frame.Data, now)
		if r.stats != nil {
			r.stats.recordAnomalies(ValidateFeedback(m.typ, fb))
		}
	}
	return len(matches) > 0
}

// Handler adapts Dispatch to can.Listen for frames arriving on bus.
func (r *Registry) Handler(bus can.Bus) can.Handler {
	return func(frame can.Frame) {
		r.Dispatch(bus, frame)
	}
}

// Statistics returns a copy of the counters, or nil without WithStatistics.
func (r *Registry) Statistics() *Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stats == nil {
		return nil
	}
	s := *r.stats
	return &s
}

// ResetStatistics zeroes the counters.
func (r *Registry) ResetStatistics() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stats != nil {
		r.stats.Reset()
	}
}
