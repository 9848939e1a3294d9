// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package djimotor

import "fmt"

// AnomalyType classifies implausible feedback
type AnomalyType int

const (
	AnomalyOverTemperature AnomalyType = iota
	AnomalyOverCurrent
	AnomalyEncoderRange
)

// ValidationError describes one implausible feedback field
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFeedback flags feedback values outside what a motor of type typ can report.
// Returns nil if the feedback is plausible.
func ValidateFeedback(typ MotorType, fb Feedback) []ValidationError {
	var errors []ValidationError

	if fb.Temperature > MaxTemperature {
		errors = append(errors, ValidationError{
			Type:    AnomalyOverTemperature,
			Message: fmt.Sprintf("Temperature %d°C above %d°C", fb.Temperature, MaxTemperature),
			Details: map[string]interface{}{"value": fb.Temperature, "max": MaxTemperature},
		})
	}

	bound := typ.Bound()
	if current := int32(fb.Current); bound > 0 && (current > bound || current < -bound) {
		errors = append(errors, ValidationError{
			Type:    AnomalyOverCurrent,
			Message: fmt.Sprintf("Current %d outside ±%d for %s", current, bound, typ),
			Details: map[string]interface{}{"value": current, "bound": bound},
		})
	}

	if fb.Encoder >= EncoderResolution {
		errors = append(errors, ValidationError{
			Type:    AnomalyEncoderRange,
			Message: fmt.Sprintf("Encoder %d above %d", fb.Encoder, EncoderResolution-1),
			Details: map[string]interface{}{"value": fb.Encoder, "max": EncoderResolution - 1},
		})
	}

	return errors
}
