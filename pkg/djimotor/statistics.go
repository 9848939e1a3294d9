// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package djimotor

import (
	"fmt"
	"time"
)

// Statistics tracks bus traffic and feedback anomalies
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Receive counters
	TotalFrames     uint64
	FeedbackFrames  uint64
	UnmatchedFrames uint64

	// Transmit counters
	TxFrames uint64
	TxErrors uint64

	// Anomalies
	AnomalousValues uint64
	OverTemperature uint64
	OverCurrent     uint64
	EncoderRange    uint64

	// Rates (calculated)
	RxRate    float64 // frames/sec
	TxRate    float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

func (s *Statistics) updateRx(matched bool) {
	s.TotalFrames++
	if matched {
		s.FeedbackFrames++
	} else {
		s.UnmatchedFrames++
	}
	s.LastUpdateTime = time.Now()
}

func (s *Statistics) updateTx(sent, failed uint64) {
	s.TxFrames += sent
	s.TxErrors += failed
	s.LastUpdateTime = time.Now()
}

func (s *Statistics) recordAnomalies(errs []ValidationError) {
	for _, err := range errs {
		s.AnomalousValues++
		switch err.Type {
		case AnomalyOverTemperature:
			s.OverTemperature++
		case AnomalyOverCurrent:
			s.OverCurrent++
		case AnomalyEncoderRange:
			s.EncoderRange++
		}
	}
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.RxRate = float64(s.TotalFrames) / elapsed
		s.TxRate = float64(s.TxFrames) / elapsed
		s.ErrorRate = float64(s.TxErrors+s.AnomalousValues) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var feedbackPercent, unmatchedPercent float64
	if s.TotalFrames > 0 {
		feedbackPercent = float64(s.FeedbackFrames) * 100.0 / float64(s.TotalFrames)
		unmatchedPercent = float64(s.UnmatchedFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Received Frames: %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Feedback Frames: %8d (%.1f%%)\n", s.FeedbackFrames, feedbackPercent)
	result += fmt.Sprintf("Unmatched:       %8d (%.1f%%)\n", s.UnmatchedFrames, unmatchedPercent)
	result += fmt.Sprintf("Sent Frames:     %8d\n", s.TxFrames)

	if s.TxErrors > 0 {
		result += fmt.Sprintf("Send Errors:     %8d\n", s.TxErrors)
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d\n", s.AnomalousValues)
		if s.OverTemperature > 0 {
			result += fmt.Sprintf("  Over Temp (>%d°C): %4d\n", MaxTemperature, s.OverTemperature)
		}
		if s.OverCurrent > 0 {
			result += fmt.Sprintf("  Over Current:     %5d\n", s.OverCurrent)
		}
		if s.EncoderRange > 0 {
			result += fmt.Sprintf("  Encoder Range:    %5d\n", s.EncoderRange)
		}
	}

	result += fmt.Sprintf("Rx Rate:         %8.1f frames/sec\n", s.RxRate)
	result += fmt.Sprintf("Tx Rate:         %8.1f frames/sec\n", s.TxRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
