// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package djimotor

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateMotorID means a motor of the same type already uses the ID on that bus.
	ErrDuplicateMotorID = errors.New("duplicate motor id")
	// ErrInvalidMotorID means the ID is outside 1..8.
	ErrInvalidMotorID = errors.New("motor id out of range")
	// ErrUnknownMotorType means the type is not GM6020, M3508 or M2006.
	ErrUnknownMotorType = errors.New("unknown motor type")
	// ErrNilBus means no bus was given.
	ErrNilBus = errors.New("nil bus")
)

// ConfigurationError is returned by NewMotor when a motor cannot be constructed.
type ConfigurationError struct {
	Bus  string
	Type MotorType
	ID   uint8
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("djimotor: %s id %d on %s: %v", e.Type, e.ID, e.Bus, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
