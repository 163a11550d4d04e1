// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package plugin

import (
	"time"
)

// DelayStrategy computes wait durations for the reload controller. The same
// interface serves debouncing (attempt is always 0, recent carries the
// change burst) and retry backoff (attempt counts consecutive failures,
// zero-based).
type DelayStrategy interface {
	NextDelay(attempt int, recent []ChangeEvent) time.Duration
}

// DelayFunc adapts a plain function to DelayStrategy.
type DelayFunc func(attempt int, recent []ChangeEvent) time.Duration

func (f DelayFunc) NextDelay(attempt int, recent []ChangeEvent) time.Duration {
	return f(attempt, recent)
}

type fixedDelay struct {
	d time.Duration
}

// NewFixedDelay returns a strategy that always waits d.
func NewFixedDelay(d time.Duration) DelayStrategy {
	return fixedDelay{d: d}
}

func (s fixedDelay) NextDelay(int, []ChangeEvent) time.Duration { return s.d }

type adaptiveDelay struct {
	min    time.Duration
	max    time.Duration
	window time.Duration
}

// NewAdaptiveDelay returns a debounce strategy that stretches toward max
// while changes keep arriving inside the window and relaxes toward min when
// they slow down. Useful for editors that save in bursts.
func NewAdaptiveDelay(min, max, window time.Duration) DelayStrategy {
	if max < min {
		max = min
	}
	return adaptiveDelay{min: min, max: max, window: window}
}

func (s adaptiveDelay) NextDelay(_ int, recent []ChangeEvent) time.Duration {
	if len(recent) < 2 || s.window <= 0 {
		return s.min
	}
	cutoff := recent[len(recent)-1].At.Add(-s.window)
	burst := 0
	for i := len(recent) - 1; i >= 0 && !recent[i].At.Before(cutoff); i-- {
		burst++
	}
	if burst < 2 {
		return s.min
	}
	// Scale linearly with burst size, saturating at max.
	d := s.min * time.Duration(burst)
	if d > s.max {
		d = s.max
	}
	return d
}

type exponentialBackoff struct {
	initial    time.Duration
	multiplier float64
	max        time.Duration
}

// NewExponentialBackoff returns a retry strategy where failure k waits
// initial*multiplier^k, capped at max. Attempt is zero-based: the delay
// after the first failure is initial.
func NewExponentialBackoff(initial time.Duration, multiplier float64, max time.Duration) DelayStrategy {
	if multiplier < 1 {
		multiplier = 1
	}
	return exponentialBackoff{initial: initial, multiplier: multiplier, max: max}
}

func (s exponentialBackoff) NextDelay(attempt int, _ []ChangeEvent) time.Duration {
	d := float64(s.initial)
	for i := 0; i < attempt; i++ {
		d *= s.multiplier
		if time.Duration(d) >= s.max {
			return s.max
		}
	}
	if max := float64(s.max); d > max {
		d = max
	}
	return time.Duration(d)
}

type linearBackoff struct {
	initial   time.Duration
	increment time.Duration
	max       time.Duration
}

// NewLinearBackoff returns a retry strategy where failure k waits
// initial + k*increment, capped at max.
func NewLinearBackoff(initial, increment, max time.Duration) DelayStrategy {
	return linearBackoff{initial: initial, increment: increment, max: max}
}

func (s linearBackoff) NextDelay(attempt int, _ []ChangeEvent) time.Duration {
	d := s.initial + time.Duration(attempt)*s.increment
	if d > s.max {
		d = s.max
	}
	return d
}
