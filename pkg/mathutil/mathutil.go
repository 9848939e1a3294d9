// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

// Package mathutil provides the small numeric helpers shared by the motor and
// sensor drivers: clamping, deadbanding, angle wrapping and attitude conversion.
package mathutil

import "math"

// Number is the set of types the generic helpers accept.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

// Sign returns 1 for positive values, -1 for negative values and 0 for zero.
func Sign[T Number](value T) int {
	switch {
	case value > 0:
		return 1
	case value < 0:
		return -1
	default:
		return 0
	}
}

// Deadline returns value when it lies inside [minValue, maxValue], otherwise 0.
func Deadline[T Number](value, minValue, maxValue T) T {
	if value < minValue || value > maxValue {
		return 0
	}
	return value
}

// Constrain clamps input to [minValue, maxValue].
func Constrain[T Number](input, minValue, maxValue T) T {
	if input < minValue {
		return minValue
	}
	if input > maxValue {
		return maxValue
	}
	return input
}

// AbsConstrain clamps input to [-maxValue, maxValue], snapping to the nearer bound.
func AbsConstrain[T Number](input, maxValue T) T {
	if input > maxValue {
		return maxValue
	}
	if input < -maxValue {
		return -maxValue
	}
	return input
}

// LoopConstrain wraps input into one period [minValue, maxValue].
// For example 370 with a 0..360 period becomes 10.
// Input is returned unchanged when the period is negative.
func LoopConstrain(input, minValue, maxValue float64) float64 {
	cycle := maxValue - minValue
	if cycle < 0 {
		return input
	}
	if cycle == 0 {
		return minValue
	}

	if input > maxValue {
		for input > maxValue {
			input -= cycle
		}
	} else if input < minValue {
		for input < minValue {
			input += cycle
		}
	}
	return input
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Quaternion is a unit quaternion in (w, x, y, z) order.
type Quaternion [4]float64

// Euler holds Z-Y-X attitude angles in radians.
type Euler struct {
	Yaw   float64
	Pitch float64
	Roll  float64
}

// QuatToEuler converts a unit quaternion to yaw/pitch/roll.
func QuatToEuler(q Quaternion) Euler {
	w, x, y, z := q[0], q[1], q[2], q[3]

	// asin is undefined just outside [-1, 1], which float error can produce near gimbal lock
	sinPitch := Constrain(-2*(x*z-w*y), -1, 1)

	return Euler{
		Yaw:   math.Atan2(2*(w*z+x*y), 2*(w*w+x*x)-1),
		Pitch: math.Asin(sinPitch),
		Roll:  math.Atan2(2*(w*x+y*z), 2*(w*w+z*z)-1),
	}
}
