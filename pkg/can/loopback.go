// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package can

import (
	"errors"
	"sync"
)

// ErrTxOverflow is returned when the peer's receive queue is full.
var ErrTxOverflow = errors.New("can: transmit queue full")

// Loopback is one end of an in-process virtual bus. Frames sent on one end
// are received on the other, the way two nodes see each other on a wire.
type Loopback struct {
	name string
	rx   chan Frame
	peer *Loopback

	done      chan struct{}
	closeOnce *sync.Once
}

// NewLoopback returns two connected ends. depth bounds the number of frames
// queued towards each end before Send reports ErrTxOverflow.
func NewLoopback(name string, depth int) (*Loopback, *Loopback) {
	done := make(chan struct{})
	once := &sync.Once{}
	a := &Loopback{name: name + "/a", rx: make(chan Frame, depth), done: done, closeOnce: once}
	b := &Loopback{name: name + "/b", rx: make(chan Frame, depth), done: done, closeOnce: once}
	a.peer, b.peer = b, a
	return a, b
}

// Send queues frame for the peer without blocking.
func (l *Loopback) Send(frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.peer.rx <- frame:
		return nil
	default:
		return ErrTxOverflow
	}
}

// Receive blocks until the peer sends a frame or either end is closed.
func (l *Loopback) Receive() (Frame, error) {
	select {
	case frame := <-l.rx:
		return frame, nil
	case <-l.done:
		return Frame{}, ErrClosed
	}
}

// Close shuts down both ends.
func (l *Loopback) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *Loopback) String() string {
	return "loopback:" + l.name
}
