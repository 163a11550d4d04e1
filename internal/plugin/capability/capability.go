// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package capability defines the permission model for plugins: a fixed
// enumeration of capabilities, value-type capability sets with usage quotas,
// and the gate that enforces manifest requirements and per-call checks.
package capability

import "fmt"

// Capability is a named permission unit gating a class of host-visible
// operation. The enumeration is fixed; manifests reference capabilities by
// their wire names (e.g. "fs:read") which resolve through a bidirectional
// table validated at process start.
type Capability uint8

// The full capability enumeration.
const (
	FileRead Capability = iota
	FileWrite
	FileDelete
	FileMetadata
	NetworkRequest
	NetworkListen
	DNSLookup
	EnvRead
	ProcessExec
	TimeRead
	PluginCall
	PluginMessage

	numCapabilities
)

// RiskTier is an advisory classification used only for logging.
// It never participates in enforcement decisions.
type RiskTier uint8

// Risk tiers, lowest to highest.
const (
	RiskLow RiskTier = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskTier) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// capabilityInfo pairs a capability's wire name with its advisory risk tier.
type capabilityInfo struct {
	name string
	risk RiskTier
}

// table is the fixed capability name table. Order must match the enumeration.
var table = [numCapabilities]capabilityInfo{
	FileRead:       {"fs:read", RiskMedium},
	FileWrite:      {"fs:write", RiskHigh},
	FileDelete:     {"fs:delete", RiskHigh},
	FileMetadata:   {"fs:metadata", RiskLow},
	NetworkRequest: {"net:request", RiskHigh},
	NetworkListen:  {"net:listen", RiskHigh},
	DNSLookup:      {"net:dns", RiskMedium},
	EnvRead:        {"sys:env", RiskMedium},
	ProcessExec:    {"sys:exec", RiskCritical},
	TimeRead:       {"sys:time", RiskLow},
	PluginCall:     {"plugin:call", RiskMedium},
	PluginMessage:  {"plugin:message", RiskMedium},
}

// byName is the reverse lookup, built and validated at init.
var byName map[string]Capability

func init() {
	byName = make(map[string]Capability, numCapabilities)
	for c, info := range table {
		if info.name == "" {
			panic(fmt.Sprintf("capability: missing name for capability %d", c))
		}
		if _, dup := byName[info.name]; dup {
			panic(fmt.Sprintf("capability: duplicate name %q", info.name))
		}
		byName[info.name] = Capability(c)
	}
}

// Name returns the wire name of the capability (e.g. "fs:read").
func (c Capability) Name() string {
	if c >= numCapabilities {
		return fmt.Sprintf("invalid(%d)", uint8(c))
	}
	return table[c].name
}

// Risk returns the advisory risk tier for the capability.
func (c Capability) Risk() RiskTier {
	if c >= numCapabilities {
		return RiskCritical
	}
	return table[c].risk
}

func (c Capability) String() string { return c.Name() }

// FromName resolves a wire name to a capability. The second return value is
// false if the name does not appear in the fixed table.
func FromName(name string) (Capability, bool) {
	c, ok := byName[name]
	return c, ok
}

// AllCapabilities returns every capability in enumeration order.
func AllCapabilities() []Capability {
	caps := make([]Capability, 0, numCapabilities)
	for c := Capability(0); c < numCapabilities; c++ {
		caps = append(caps, c)
	}
	return caps
}
