// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package plugin

import (
	"errors"
	"fmt"

	"github.com/samber/oops"

	"github.com/wardenhost/warden/internal/plugin/capability"
)

// Error codes attached to oops errors. Deterministic codes identify failures
// that cannot succeed on retry without a configuration change; transient
// codes are eligible for reload backoff.
const (
	CodeManifestParse          = "MANIFEST_PARSE"
	CodeInvalidManifest        = "INVALID_MANIFEST"
	CodeIncompatibleAPIVersion = "INCOMPATIBLE_API_VERSION"
	CodeEngineCompile          = "ENGINE_COMPILE"
	CodeEngineRuntime          = "ENGINE_RUNTIME"
)

// Sentinel errors for registry and lifecycle conditions.
var (
	// ErrNotFound is returned when a plugin name is not registered.
	ErrNotFound = errors.New("plugin not found")

	// ErrDuplicateName is returned when registering a name that already
	// exists and overwrites are disallowed.
	ErrDuplicateName = errors.New("plugin name already registered")

	// ErrCapacityExceeded is returned when the registry is full.
	ErrCapacityExceeded = errors.New("registry capacity exceeded")

	// ErrPluginNotRunning is returned when calling a plugin outside the
	// Running state.
	ErrPluginNotRunning = errors.New("plugin not running")

	// ErrFunctionNotExported is returned when calling a function the
	// manifest does not export.
	ErrFunctionNotExported = errors.New("function not exported")

	// ErrReloadExhausted is surfaced by the reload controller once the
	// retry budget is spent. The last running handle stays servable.
	ErrReloadExhausted = errors.New("reload retries exhausted")
)

// InvalidTransitionError reports a lifecycle transition invalid for the
// current state. The state is left unchanged.
type InvalidTransitionError struct {
	From      State
	Attempted string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %q from state %s", e.Attempted, e.From)
}

// deterministic reports whether err belongs to the class of failures a
// reload retry can never fix: manifest parse/validation problems, API
// version incompatibility, and capability denials. The reload controller
// surfaces these immediately without consuming retry budget.
func deterministic(err error) bool {
	var denied *capability.DeniedError
	if errors.As(err, &denied) {
		return true
	}
	var unknown *capability.UnknownError
	if errors.As(err, &unknown) {
		return true
	}
	if o, ok := oops.AsOops(err); ok {
		switch o.Code() {
		case CodeManifestParse, CodeInvalidManifest, CodeIncompatibleAPIVersion:
			return true
		}
	}
	return false
}

// errorCode extracts the oops code from an error chain, or "" if none.
func errorCode(err error) string {
	if o, ok := oops.AsOops(err); ok {
		if code, ok := o.Code().(string); ok {
			return code
		}
	}
	return ""
}
