// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package djimotor

import (
	"fmt"
	"strings"
	"time"

	"github.com/rmctl/motorstat/pkg/can"
)

// FormatFeedback formats feedback values on one line
func FormatFeedback(fb Feedback) string {
	return fmt.Sprintf("enc=%4d (%5.1f°) rpm=%6d cur=%6d temp=%3d°C",
		fb.Encoder, fb.Angle(), fb.RPM, fb.Current, fb.Temperature)
}

// FormatMotor formats a motor's identity, last feedback and command
func FormatMotor(m *Motor) string {
	fb := m.Feedback()
	age := "never"
	if !fb.Received.IsZero() {
		age = time.Since(fb.Received).Truncate(time.Millisecond).String()
	}
	return fmt.Sprintf("%-8s id=%d rx=0x%03X %s cmd=%6d age=%s",
		m.Type(), m.ID(), m.RxID(), FormatFeedback(fb), m.Command(), age)
}

// FormatFrame formats a received or sent frame, annotating it with the
// motors it concerns. motors should be those on the frame's bus.
func FormatFrame(at time.Time, frame can.Frame, motors []*Motor) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", at.Format("15:04:05.000"), frame)

	if frame.Extended || frame.RTR || frame.Len < frameDataLen {
		return sb.String()
	}

	for _, m := range motors {
		if m.RxID() == frame.ID {
			fmt.Fprintf(&sb, "\n  %s#%d %s", m.Type(), m.ID(), FormatFeedback(DecodeFeedback(frame.Data)))
		}
	}

	if types := controlTypes(frame.ID, motors); len(types) > 0 {
		fmt.Fprintf(&sb, "\n  control %s %s", strings.Join(types, "/"), FormatControl(frame))
	}
	return sb.String()
}

// FormatControl lists the four commands packed in a control frame
func FormatControl(frame can.Frame) string {
	cmds := DecodeControl(frame.Data)
	return fmt.Sprintf("[%d %d %d %d]", cmds[0], cmds[1], cmds[2], cmds[3])
}

// controlTypes returns the names of motor types among motors that use id as a control ID.
func controlTypes(id uint32, motors []*Motor) []string {
	var names []string
	seen := make(map[MotorType]bool)
	for _, m := range motors {
		if seen[m.Type()] {
			continue
		}
		seen[m.Type()] = true
		for _, cid := range m.Type().ControlIDs() {
			if cid == id {
				names = append(names, m.Type().String())
				break
			}
		}
	}
	return names
}
