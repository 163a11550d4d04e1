// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package capability

import (
	"fmt"
	"log/slog"
)

// DeniedError reports a capability a plugin requested but was not granted.
type DeniedError struct {
	Plugin     string
	Capability Capability
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("plugin %q denied capability %q", e.Plugin, e.Capability.Name())
}

// UnknownError reports a capability name that does not resolve through the
// fixed table.
type UnknownError struct {
	Name string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown capability %q", e.Name)
}

// Gate checks manifest capability requirements and runtime usage against a
// granted Set. It is stateless and safe for concurrent use; decisions are
// deterministic across repeated calls.
type Gate struct{}

// NewGate creates a capability gate.
func NewGate() *Gate { return &Gate{} }

// Validate resolves every required capability name through the fixed table
// and requires membership in the granted set. The first unresolvable name
// fails with UnknownError; the first missing grant fails with DeniedError.
func (g *Gate) Validate(plugin string, required []string, granted Set) error {
	for _, name := range required {
		c, ok := FromName(name)
		if !ok {
			return &UnknownError{Name: name}
		}
		if !granted.Has(c) {
			return &DeniedError{Plugin: plugin, Capability: c}
		}
	}
	return nil
}

// Check enforces a single capability at call time, independent of load-time
// validation. Under-declared manifests cannot bypass the gate: a host call
// requesting c without c in the granted set fails with DeniedError.
func (g *Gate) Check(plugin string, c Capability, granted Set) error {
	if !granted.Has(c) {
		slog.Debug("capability check denied",
			"plugin", plugin,
			"capability", c.Name(),
			"risk", c.Risk().String())
		return &DeniedError{Plugin: plugin, Capability: c}
	}
	if c.Risk() >= RiskHigh {
		slog.Debug("high-risk capability exercised",
			"plugin", plugin,
			"capability", c.Name(),
			"risk", c.Risk().String())
	}
	return nil
}
