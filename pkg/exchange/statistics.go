// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package exchange

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// FailureReason classifies a failed attempt
type FailureReason int

const (
	FailIncomplete FailureReason = iota // no Positions marker before the timeout
	FailUnrecognized                    // marker present but no exchange frame
	FailUnchanged                       // position and counter did not advance
)

func (r FailureReason) String() string {
	switch r {
	case FailIncomplete:
		return "incomplete response"
	case FailUnrecognized:
		return "unrecognized response"
	case FailUnchanged:
		return "position unchanged"
	default:
		return "unknown"
	}
}

// Statistics tracks exchange outcomes and rates
type Statistics struct {
	mu sync.Mutex

	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Attempts       uint64
	Accepted       uint64
	Retries        uint64
	Dropped        uint64
	Incomplete     uint64
	Unrecognized   uint64
	Unchanged      uint64
	Extended       uint64 // accepted from the extension window
	ConfigDumps    uint64
	CaseMismatches uint64

	// Rates (calculated)
	CharRate  float64 // chars/sec
	ErrorRate float64 // failures/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

func (s *Statistics) recordAttempt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Attempts++
	s.LastUpdateTime = time.Now()
}

func (s *Statistics) recordAccepted(extended bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Accepted++
	if extended {
		s.Extended++
	}
}

func (s *Statistics) recordFailure(reason FailureReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch reason {
	case FailIncomplete:
		s.Incomplete++
	case FailUnrecognized:
		s.Unrecognized++
	case FailUnchanged:
		s.Unchanged++
	}
}

func (s *Statistics) recordRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Retries++
}

func (s *Statistics) recordDrop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Dropped++
}

func (s *Statistics) recordConfigDump() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConfigDumps++
}

func (s *Statistics) recordCaseMismatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CaseMismatches++
}

// Snapshot returns a copy with rates calculated
func (s *Statistics) Snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
	return Statistics{
		StartTime:      s.StartTime,
		LastUpdateTime: s.LastUpdateTime,
		Attempts:       s.Attempts,
		Accepted:       s.Accepted,
		Retries:        s.Retries,
		Dropped:        s.Dropped,
		Incomplete:     s.Incomplete,
		Unrecognized:   s.Unrecognized,
		Unchanged:      s.Unchanged,
		Extended:       s.Extended,
		ConfigDumps:    s.ConfigDumps,
		CaseMismatches: s.CaseMismatches,
		CharRate:       s.CharRate,
		ErrorRate:      s.ErrorRate,
	}
}

func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.CharRate = float64(s.Accepted) / elapsed
		s.ErrorRate = float64(s.Incomplete+s.Unrecognized+s.Unchanged) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	snap := s.Snapshot()

	var acceptedPercent float64
	if snap.Attempts > 0 {
		acceptedPercent = float64(snap.Accepted) * 100.0 / float64(snap.Attempts)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Exchange Statistics (%.0f seconds) ===\n", time.Since(snap.StartTime).Seconds())
	fmt.Fprintf(&b, "Attempts:        %8d\n", snap.Attempts)
	fmt.Fprintf(&b, "Accepted:        %8d (%.1f%%)\n", snap.Accepted, acceptedPercent)
	if snap.Extended > 0 {
		fmt.Fprintf(&b, "  After Extension:  %5d\n", snap.Extended)
	}
	if snap.Retries > 0 {
		fmt.Fprintf(&b, "Retries:         %8d\n", snap.Retries)
	}
	if snap.Dropped > 0 {
		fmt.Fprintf(&b, "Dropped:         %8d\n", snap.Dropped)
	}
	if failures := snap.Incomplete + snap.Unrecognized + snap.Unchanged; failures > 0 {
		fmt.Fprintf(&b, "Failed Attempts: %8d\n", failures)
		if snap.Incomplete > 0 {
			fmt.Fprintf(&b, "  Incomplete:       %5d\n", snap.Incomplete)
		}
		if snap.Unrecognized > 0 {
			fmt.Fprintf(&b, "  Unrecognized:     %5d\n", snap.Unrecognized)
		}
		if snap.Unchanged > 0 {
			fmt.Fprintf(&b, "  Unchanged:        %5d\n", snap.Unchanged)
		}
	}
	if snap.ConfigDumps > 0 {
		fmt.Fprintf(&b, "Config Dumps:    %8d\n", snap.ConfigDumps)
	}
	if snap.CaseMismatches > 0 {
		fmt.Fprintf(&b, "Case Mismatches: %8d\n", snap.CaseMismatches)
	}
	fmt.Fprintf(&b, "Char Rate:       %8.2f chars/sec\n", snap.CharRate)
	fmt.Fprintf(&b, "Error Rate:      %8.2f errors/sec\n", snap.ErrorRate)
	b.WriteString("========================================\n")
	return b.String()
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.Attempts = 0
	s.Accepted = 0
	s.Retries = 0
	s.Dropped = 0
	s.Incomplete = 0
	s.Unrecognized = 0
	s.Unchanged = 0
	s.Extended = 0
	s.ConfigDumps = 0
	s.CaseMismatches = 0
	s.CharRate = 0
	s.ErrorRate = 0
}
