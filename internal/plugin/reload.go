// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package plugin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// maxRecentEvents bounds the change history kept per plugin for adaptive
// debouncing.
const maxRecentEvents = 32

// Reloader swaps in a new plugin generation. *Registry implements it.
type Reloader interface {
	Reload(ctx context.Context, name string) (*Handle, error)
}

// ControllerConfig configures the reload controller.
type ControllerConfig struct {
	// Debounce computes how long to wait after the latest change before
	// attempting a reload (trailing edge). Defaults to a fixed 500ms.
	Debounce DelayStrategy

	// Backoff computes the wait before retry k over a zero-based attempt
	// counter. Defaults to exponential 100ms doubling, capped at 3.2s.
	Backoff DelayStrategy

	// MaxRetries is the number of retries after the initial attempt of a
	// change burst. Once spent, the controller reports exhaustion and
	// waits for new changes. Defaults to 5.
	MaxRetries int

	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit breaker. Defaults to 5.
	BreakerThreshold int

	// BreakerTimeout is how long the breaker stays open before allowing
	// a single probe attempt. Defaults to 30s.
	BreakerTimeout time.Duration

	// ReloadTimeout bounds one reload attempt. Defaults to 30s.
	ReloadTimeout time.Duration
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.Debounce == nil {
		c.Debounce = NewFixedDelay(500 * time.Millisecond)
	}
	if c.Backoff == nil {
		c.Backoff = NewExponentialBackoff(100*time.Millisecond, 2, 3200*time.Millisecond)
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerTimeout == 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	if c.ReloadTimeout == 0 {
		c.ReloadTimeout = 30 * time.Second
	}
	return c
}

// ReloadResult reports the outcome of one reload attempt to observers.
type ReloadResult struct {
	Plugin   string
	Err      error
	Attempt  int
	Duration time.Duration
}

// ReloadHook observes reload attempt outcomes. Hooks run synchronously
// after the attempt settles.
type ReloadHook func(ReloadResult)

// flow tracks one plugin's reload pipeline. All fields are guarded by the
// controller mutex. gen invalidates timers and in-flight attempts: anything
// captured under an older generation discards its result.
type flow struct {
	gen       uint64
	recent    []ChangeEvent
	failures  int
	exhausted bool

	// inflight marks an attempt between fire and settle; queued records a
	// fire that arrived meanwhile. Attempts for one name never overlap.
	inflight bool
	queued   bool

	breakerOpenUntil time.Time

	debounceTimer *time.Timer
	retryTimer    *time.Timer
}

func (f *flow) stopTimers() {
	if f.debounceTimer != nil {
		f.debounceTimer.Stop()
		f.debounceTimer = nil
	}
	if f.retryTimer != nil {
		f.retryTimer.Stop()
		f.retryTimer = nil
	}
}

// Controller coalesces change events into reload attempts. Per plugin it
// applies trailing-edge debouncing, retries transient failures with
// backoff, surfaces deterministic failures immediately without consuming
// retry budget, and opens a circuit breaker after repeated failures. The
// previous plugin generation stays servable throughout.
type Controller struct {
	cfg ControllerConfig
	reg Reloader

	mu     sync.Mutex
	flows  map[string]*flow
	hooks  []ReloadHook
	closed bool

	wg sync.WaitGroup
}

// NewController creates a reload controller driving reloads through reg.
func NewController(reg Reloader, cfg ControllerConfig) *Controller {
	return &Controller{
		cfg:   cfg.withDefaults(),
		reg:   reg,
		flows: make(map[string]*flow),
	}
}

// OnReload registers an observer for reload attempt outcomes.
func (c *Controller) OnReload(hook ReloadHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Run consumes change events until the channel closes or the context ends.
func (c *Controller) Run(ctx context.Context, events <-chan ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.HandleEvent(ev)
		}
	}
}

// HandleEvent records a change and restarts the plugin's debounce window.
// A change arriving after exhaustion grants a fresh retry budget.
func (c *Controller) HandleEvent(ev ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	f, ok := c.flows[ev.Plugin]
	if !ok {
		f = &flow{}
		c.flows[ev.Plugin] = f
	}

	f.recent = append(f.recent, ev)
	if len(f.recent) > maxRecentEvents {
		f.recent = f.recent[len(f.recent)-maxRecentEvents:]
	}
	if f.exhausted {
		f.exhausted = false
		f.failures = 0
	}

	// Trailing edge: each new change restarts the window, and a pending
	// retry yields to the fresh burst.
	if f.retryTimer != nil {
		f.retryTimer.Stop()
		f.retryTimer = nil
	}
	delay := c.cfg.Debounce.NextDelay(0, f.recent)
	gen := f.gen
	if f.debounceTimer != nil {
		f.debounceTimer.Stop()
		metricCoalesced.WithLabelValues(ev.Plugin).Inc()
	}
	f.debounceTimer = time.AfterFunc(delay, func() {
		c.fire(ev.Plugin, gen)
	})
}

// fire begins an attempt once the debounce window closes, unless the
// breaker is open, in which case a single probe is scheduled for when it
// half-opens.
func (c *Controller) fire(name string, gen uint64) {
	c.mu.Lock()
	f, ok := c.flows[name]
	if !ok || f.gen != gen || c.closed {
		c.mu.Unlock()
		return
	}
	f.debounceTimer = nil
	f.retryTimer = nil

	if wait := time.Until(f.breakerOpenUntil); wait > 0 {
		slog.Debug("reload held by circuit breaker",
			"plugin", name, "until", f.breakerOpenUntil)
		f.retryTimer = time.AfterFunc(wait, func() {
			c.fire(name, gen)
		})
		c.mu.Unlock()
		return
	}

	// One attempt per name at a time; a fire during an attempt runs once
	// the attempt settles.
	if f.inflight {
		f.queued = true
		c.mu.Unlock()
		return
	}
	f.inflight = true

	attempt := f.failures + 1
	c.wg.Add(1)
	c.mu.Unlock()

	go c.attempt(name, gen, attempt)
}

func (c *Controller) attempt(name string, gen uint64, attempt int) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReloadTimeout)
	defer cancel()

	start := time.Now()
	_, err := c.reg.Reload(ctx, name)
	c.settle(name, gen, attempt, err, time.Since(start))
}

// settle applies one attempt's outcome. Results from a cancelled
// generation are discarded; the plugin may already be unregistered.
func (c *Controller) settle(name string, gen uint64, attempt int, err error, took time.Duration) {
	c.mu.Lock()
	f, ok := c.flows[name]
	if !ok || f.gen != gen {
		c.mu.Unlock()
		slog.Debug("discarding stale reload result", "plugin", name)
		return
	}

	result := ReloadResult{Plugin: name, Err: err, Attempt: attempt, Duration: took}

	switch {
	case err == nil:
		f.failures = 0
		f.exhausted = false
		f.recent = nil
		f.breakerOpenUntil = time.Time{}
		metricBreakerOpen.WithLabelValues(name).Set(0)

	case deterministic(err):
		// Retrying cannot fix a bad manifest, an incompatible API
		// version, or a capability escalation. Surface immediately;
		// the retry budget is untouched.
		metricReloads.WithLabelValues(name, "rejected").Inc()
		slog.Warn("reload rejected",
			"plugin", name, "code", errorCode(err), "error", err)

	default:
		f.failures++
		if f.failures >= c.cfg.BreakerThreshold {
			f.breakerOpenUntil = time.Now().Add(c.cfg.BreakerTimeout)
			metricBreakerOpen.WithLabelValues(name).Set(1)
			slog.Warn("reload circuit breaker opened",
				"plugin", name,
				"failures", f.failures,
				"until", f.breakerOpenUntil)
		}
		if f.failures <= c.cfg.MaxRetries {
			delay := c.cfg.Backoff.NextDelay(f.failures-1, f.recent)
			slog.Warn("reload failed, retrying",
				"plugin", name,
				"attempt", attempt,
				"retry_in", delay,
				"error", err)
			f.retryTimer = time.AfterFunc(delay, func() {
				c.fire(name, gen)
			})
		} else {
			f.exhausted = true
			result.Err = oops.In("reload").With("plugin", name).
				With("attempts", attempt).Wrap(ErrReloadExhausted)
			metricReloads.WithLabelValues(name, "exhausted").Inc()
			slog.Error("reload retries exhausted, serving previous version",
				"plugin", name, "attempts", attempt, "last_error", err)
		}
	}

	f.inflight = false
	if f.queued {
		// A debounce window closed while this attempt ran. A scheduled
		// retry already covers it; otherwise run the deferred fire now,
		// with a fresh budget if this attempt just exhausted the old one.
		f.queued = false
		if f.retryTimer == nil {
			if f.exhausted {
				f.exhausted = false
				f.failures = 0
			}
			deferredGen := f.gen
			f.retryTimer = time.AfterFunc(0, func() {
				c.fire(name, deferredGen)
			})
		}
	}

	hooks := make([]ReloadHook, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.Unlock()

	for _, h := range hooks {
		h(result)
	}
}

// Cancel drops all pending work for a plugin: timers stop and any in-flight
// attempt's result is discarded. Call when unregistering.
func (c *Controller) Cancel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flows[name]
	if !ok {
		return
	}
	f.gen++
	f.stopTimers()
	delete(c.flows, name)
	metricBreakerOpen.DeleteLabelValues(name)
}

// Close cancels all flows and waits for in-flight attempts to finish.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for name, f := range c.flows {
		f.gen++
		f.stopTimers()
		delete(c.flows, name)
		metricBreakerOpen.DeleteLabelValues(name)
	}
	c.mu.Unlock()
	c.wg.Wait()
}
