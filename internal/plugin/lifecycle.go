// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package plugin

import (
	"log/slog"
	"sync"
	"time"
)

// State is a plugin lifecycle state.
type State uint8

const (
	// StateCreated means the plugin is compiled but not yet initialized.
	StateCreated State = iota
	// StateInitialized means init has run and exports are registered.
	StateInitialized
	// StateRunning means the plugin accepts calls.
	StateRunning
	// StateStopped means the plugin has been stopped and rejects calls.
	StateStopped
	// StateFailed means an unrecoverable error occurred. Only a
	// successful reload clears this state.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// validTransitions maps each state to the states it may move to. Failed is
// reachable from every state and is absent here; transitions into Failed
// are always allowed.
var validTransitions = map[State][]State{
	StateCreated:     {StateInitialized},
	StateInitialized: {StateRunning},
	StateRunning:     {StateStopped},
	StateStopped:     {},
	StateFailed:      {},
}

// canTransition reports whether moving from one state to another is legal.
func canTransition(from, to State) bool {
	if to == StateFailed {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition describes a single lifecycle state change.
type Transition struct {
	Plugin  string
	From    State
	To      State
	Version uint64
	At      time.Time
}

// TransitionHook is invoked synchronously after a state change commits.
// Hook errors are logged and never revert the transition.
type TransitionHook func(Transition)

// transitionHooks is an ordered, concurrency-safe list of listeners.
type transitionHooks struct {
	mu    sync.RWMutex
	hooks []TransitionHook
}

func (h *transitionHooks) add(hook TransitionHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook)
}

// fire runs hooks in registration order. Panics in a hook are recovered so
// one misbehaving listener cannot take down lifecycle processing.
func (h *transitionHooks) fire(tr Transition) {
	h.mu.RLock()
	hooks := make([]TransitionHook, len(h.hooks))
	copy(hooks, h.hooks)
	h.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("transition hook panicked",
						"plugin", tr.Plugin,
						"from", tr.From.String(),
						"to", tr.To.String(),
						"panic", r)
				}
			}()
			hook(tr)
		}()
	}
}
