// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jackframe

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Statistics tracks link statistics and error rates.
// It is safe for concurrent use.
type Statistics struct {
	mu sync.Mutex

	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	ValidFrames     uint64
	CRCErrors       uint64
	FramingErrors   uint64
	MalformedFrames uint64
	Rejected        uint64
	Timeouts        uint64
	Retries         uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
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

// Update records one decoder result: a frame with its validation errors, or
// a decode error for a rejected candidate.
func (s *Statistics) Update(frame *Frame, decodeErr error, validationErrors []ValidationError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrCRCMismatch) {
			s.CRCErrors++
		} else {
			s.FramingErrors++
		}
		return
	}

	if len(validationErrors) == 0 {
		s.ValidFrames++
		return
	}
	for _, err := range validationErrors {
		if err.Type == AnomalyRejected {
			s.Rejected++
		} else {
			s.MalformedFrames++
		}
	}
}

// RecordTimeout counts a request attempt that got no acknowledgement
func (s *Statistics) RecordTimeout() {
	s.mu.Lock()
	s.Timeouts++
	s.mu.Unlock()
}

// RecordRetry counts a retransmitted request
func (s *Statistics) RecordRetry() {
	s.mu.Lock()
	s.Retries++
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters with rates calculated
func (s *Statistics) Snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
	return Statistics{
		StartTime:       s.StartTime,
		LastUpdateTime:  s.LastUpdateTime,
		TotalFrames:     s.TotalFrames,
		ValidFrames:     s.ValidFrames,
		CRCErrors:       s.CRCErrors,
		FramingErrors:   s.FramingErrors,
		MalformedFrames: s.MalformedFrames,
		Rejected:        s.Rejected,
		Timeouts:        s.Timeouts,
		Retries:         s.Retries,
		FrameRate:       s.FrameRate,
		ErrorRate:       s.ErrorRate,
	}
}

func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		errorCount := s.CRCErrors + s.FramingErrors + s.MalformedFrames + s.Timeouts
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	snap := s.Snapshot()

	percent := func(n uint64) float64 {
		if snap.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(snap.TotalFrames)
	}

	elapsed := time.Since(snap.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", snap.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", snap.ValidFrames, percent(snap.ValidFrames))

	if snap.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", snap.CRCErrors, percent(snap.CRCErrors))
	}
	if snap.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d (%.1f%%)\n", snap.FramingErrors, percent(snap.FramingErrors))
	}
	if snap.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", snap.MalformedFrames, percent(snap.MalformedFrames))
	}
	if snap.Rejected > 0 {
		result += fmt.Sprintf("Rejected:        %8d\n", snap.Rejected)
	}
	if snap.Timeouts > 0 || snap.Retries > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", snap.Timeouts)
		result += fmt.Sprintf("Retries:         %8d\n", snap.Retries)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", snap.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", snap.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.TotalFrames = 0
	s.ValidFrames = 0
	s.CRCErrors = 0
	s.FramingErrors = 0
	s.MalformedFrames = 0
	s.Rejected = 0
	s.Timeouts = 0
	s.Retries = 0
	s.FrameRate = 0
	s.ErrorRate = 0
}
