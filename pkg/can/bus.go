// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

// Package can provides classical CAN frames and the host-side transports used
// to reach a motor bus: SocketCAN, SLCAN serial adapters, a WebSocket bridge
// and an in-process loopback.
package can

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by Send and Receive after Close.
	ErrClosed = errors.New("can: bus closed")
	// ErrUnsupported is returned when a transport is not available on this platform.
	ErrUnsupported = errors.New("can: transport not supported on this platform")
	// ErrMalformed marks a single undecodable frame; the bus itself is still usable.
	ErrMalformed = errors.New("can: malformed frame")
)

// Bus sends and receives frames on one physical or virtual CAN bus.
// Send may be called concurrently with Receive.
type Bus interface {
	// Send transmits a frame. Failures are not retried.
	Send(frame Frame) error

	// Receive blocks until the next frame arrives or the bus is closed.
	Receive() (Frame, error)

	// Close releases the bus. Pending and later calls return ErrClosed.
	Close() error

	// String describes the bus for logs, e.g. "socketcan:can0".
	String() string
}

// Handler is invoked for every frame received on a bus.
type Handler func(frame Frame)

// Listen reads frames from bus and passes each one to handler until ctx is
// cancelled or the bus fails. Cancelling ctx closes the bus to unblock Receive.
// Malformed frames are skipped.
func Listen(ctx context.Context, bus Bus, handler Handler) error {
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			bus.Close()
		case <-stop:
		}
	}()

	for {
		frame, err := bus.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrMalformed) {
				continue
			}
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		handler(frame)
	}
}
