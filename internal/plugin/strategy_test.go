// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package plugin_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wardenhost/warden/internal/plugin"
)

func TestExponentialBackoff(t *testing.T) {
	s := plugin.NewExponentialBackoff(100*time.Millisecond, 2, 3200*time.Millisecond)

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		3200 * time.Millisecond,
	}
	for attempt, d := range want {
		assert.Equal(t, d, s.NextDelay(attempt, nil), "attempt %d", attempt)
	}

	// Beyond the cap the delay saturates.
	assert.Equal(t, 3200*time.Millisecond, s.NextDelay(10, nil))
}

func TestExponentialBackoff_MultiplierFloor(t *testing.T) {
	s := plugin.NewExponentialBackoff(50*time.Millisecond, 0.5, time.Second)
	assert.Equal(t, 50*time.Millisecond, s.NextDelay(3, nil), "multiplier below 1 is clamped")
}

func TestLinearBackoff(t *testing.T) {
	s := plugin.NewLinearBackoff(100*time.Millisecond, 50*time.Millisecond, 250*time.Millisecond)

	assert.Equal(t, 100*time.Millisecond, s.NextDelay(0, nil))
	assert.Equal(t, 150*time.Millisecond, s.NextDelay(1, nil))
	assert.Equal(t, 200*time.Millisecond, s.NextDelay(2, nil))
	assert.Equal(t, 250*time.Millisecond, s.NextDelay(3, nil))
	assert.Equal(t, 250*time.Millisecond, s.NextDelay(9, nil), "capped")
}

func TestFixedDelay(t *testing.T) {
	s := plugin.NewFixedDelay(500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, s.NextDelay(0, nil))
	assert.Equal(t, 500*time.Millisecond, s.NextDelay(7, nil))
}

func TestAdaptiveDelay(t *testing.T) {
	s := plugin.NewAdaptiveDelay(100*time.Millisecond, 400*time.Millisecond, time.Second)

	now := time.Now()
	burst := func(n int, spacing time.Duration) []plugin.ChangeEvent {
		evs := make([]plugin.ChangeEvent, n)
		for i := range evs {
			evs[i] = plugin.ChangeEvent{Plugin: "demo", At: now.Add(time.Duration(i) * spacing)}
		}
		return evs
	}

	assert.Equal(t, 100*time.Millisecond, s.NextDelay(0, nil), "no history uses min")
	assert.Equal(t, 100*time.Millisecond, s.NextDelay(0, burst(1, 0)), "single event uses min")
	assert.Equal(t, 200*time.Millisecond, s.NextDelay(0, burst(2, 10*time.Millisecond)))
	assert.Equal(t, 400*time.Millisecond, s.NextDelay(0, burst(8, 10*time.Millisecond)), "saturates at max")
	assert.Equal(t, 100*time.Millisecond, s.NextDelay(0, burst(8, 5*time.Second)), "slow events relax to min")
}

func TestDelayFunc(t *testing.T) {
	s := plugin.DelayFunc(func(attempt int, _ []plugin.ChangeEvent) time.Duration {
		return time.Duration(attempt) * time.Millisecond
	})
	assert.Equal(t, 3*time.Millisecond, s.NextDelay(3, nil))
}
