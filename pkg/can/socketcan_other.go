// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

//go:build !linux

package can

import "fmt"

// SocketCAN is only available on Linux.
type SocketCAN struct{}

// OpenSocketCAN always fails outside Linux.
func OpenSocketCAN(ifname string) (*SocketCAN, error) {
	return nil, fmt.Errorf("socketcan %s: %w", ifname, ErrUnsupported)
}

func (s *SocketCAN) Send(Frame) error        { return ErrUnsupported }
func (s *SocketCAN) Receive() (Frame, error) { return Frame{}, ErrUnsupported }
func (s *SocketCAN) Close() error            { return nil }
func (s *SocketCAN) String() string          { return "socketcan:unsupported" }
