// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package can

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// receive timeout so a blocked Receive notices Close
const socketCANPoll = 100 * 1000 // microseconds

// SocketCAN is a raw AF_CAN socket bound to one Linux CAN interface.
type SocketCAN struct {
	fd     int
	ifname string
	closed atomic.Bool

	txMu  sync.Mutex
	txBuf [FrameSize]byte
	rxBuf [FrameSize]byte
}

// OpenSocketCAN opens a raw socket on the named interface (e.g. "can0").
func OpenSocketCAN(ifname string) (*SocketCAN, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("lookup interface %s: %w", ifname, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("open CAN socket: %w", err)
	}

	tv := unix.Timeval{Usec: socketCANPoll}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set receive timeout: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", ifname, err)
	}

	return &SocketCAN{fd: fd, ifname: ifname}, nil
}

// Send writes one frame to the socket.
func (s *SocketCAN) Send(frame Frame) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := frame.marshalTo(s.txBuf[:]); err != nil {
		return err
	}
	if _, err := unix.Write(s.fd, s.txBuf[:]); err != nil {
		return fmt.Errorf("write %s: %w", s.ifname, err)
	}
	return nil
}

// Receive blocks until a frame arrives. It must not be called concurrently with itself.
func (s *SocketCAN) Receive() (Frame, error) {
	for {
		if s.closed.Load() {
			return Frame{}, ErrClosed
		}

		n, err := unix.Read(s.fd, s.rxBuf[:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
				continue
			}
			if s.closed.Load() {
				return Frame{}, ErrClosed
			}
			return Frame{}, fmt.Errorf("read %s: %w", s.ifname, err)
		}
		if n < FrameSize {
			return Frame{}, fmt.Errorf("%w: short read of %d bytes", ErrMalformed, n)
		}

		var frame Frame
		if err := frame.UnmarshalBinary(s.rxBuf[:n]); err != nil {
			if errors.Is(err, ErrMalformed) {
				return Frame{}, err
			}
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return frame, nil
	}
}

// Close closes the socket.
func (s *SocketCAN) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return unix.Close(s.fd)
}

func (s *SocketCAN) String() string {
	return "socketcan:" + s.ifname
}
