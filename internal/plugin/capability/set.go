// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package capability

// Quotas bounds resource usage for granted capabilities. A quota is only
// meaningful when the capability that owns it is granted: MaxFileSize bounds
// fs:read/fs:write, MaxConnections bounds net:request/net:listen, and
// MaxProcesses bounds sys:exec.
type Quotas struct {
	MaxFileSize    int64
	MaxConnections int
	MaxProcesses   int
	StrictMode     bool
	DryRun         bool
}

// DefaultQuotas returns the quotas applied by All and the named profiles.
func DefaultQuotas() Quotas {
	return Quotas{
		MaxFileSize:    16 << 20, // 16 MiB
		MaxConnections: 32,
		MaxProcesses:   4,
	}
}

// Set is a pure value: membership over the capability enumeration plus
// quotas. Equality is by membership only. The zero value is the empty set.
type Set struct {
	mask   uint16
	quotas Quotas
}

// None returns the empty set.
func None() Set { return Set{} }

// All returns a set granting every capability, with default quotas.
func All() Set {
	s := Set{quotas: DefaultQuotas()}
	for _, c := range AllCapabilities() {
		s.Grant(c)
	}
	return s
}

// SafeDefaults returns the minimal read-only set: fs:read, fs:metadata,
// sys:time.
func SafeDefaults() Set {
	s := Set{quotas: DefaultQuotas()}
	s.Grant(FileRead)
	s.Grant(FileMetadata)
	s.Grant(TimeRead)
	return s
}

// TerminalProfile grants what an interactive terminal-style plugin needs:
// safe defaults plus environment reads.
func TerminalProfile() Set {
	s := SafeDefaults()
	s.Grant(EnvRead)
	return s
}

// ObservabilityProfile grants read-only inspection plus outbound requests,
// for plugins that export telemetry.
func ObservabilityProfile() Set {
	s := SafeDefaults()
	s.Grant(NetworkRequest)
	s.Grant(DNSLookup)
	return s
}

// OrchestrationProfile grants the broad set an orchestrating plugin needs.
// It is deliberately not All: process execution and file deletion stay
// denied and must be granted explicitly.
func OrchestrationProfile() Set {
	s := All()
	s.Revoke(ProcessExec)
	s.Revoke(FileDelete)
	return s
}

// Grant adds a capability to the set.
func (s *Set) Grant(c Capability) {
	if c < numCapabilities {
		s.mask |= 1 << c
	}
}

// Revoke removes a capability from the set.
func (s *Set) Revoke(c Capability) {
	if c < numCapabilities {
		s.mask &^= 1 << c
	}
}

// Has reports whether the capability is granted.
func (s Set) Has(c Capability) bool {
	return c < numCapabilities && s.mask&(1<<c) != 0
}

// Equal reports membership equality. Quotas do not participate.
func (s Set) Equal(other Set) bool { return s.mask == other.mask }

// IsEmpty reports whether no capability is granted.
func (s Set) IsEmpty() bool { return s.mask == 0 }

// Members returns the granted capabilities in enumeration order.
func (s Set) Members() []Capability {
	var caps []Capability
	for _, c := range AllCapabilities() {
		if s.Has(c) {
			caps = append(caps, c)
		}
	}
	return caps
}

// Names returns the wire names of the granted capabilities in enumeration
// order.
func (s Set) Names() []string {
	members := s.Members()
	names := make([]string, len(members))
	for i, c := range members {
		names[i] = c.Name()
	}
	return names
}

// Quotas returns the usage quotas attached to the set.
func (s Set) Quotas() Quotas { return s.quotas }

// SetQuotas replaces the usage quotas.
func (s *Set) SetQuotas(q Quotas) { s.quotas = q }

// Profile resolves a named capability profile. Unknown names resolve to
// false; callers must not fall back to All silently.
func Profile(name string) (Set, bool) {
	switch name {
	case "none":
		return None(), true
	case "safe", "safe-defaults":
		return SafeDefaults(), true
	case "terminal":
		return TerminalProfile(), true
	case "observability":
		return ObservabilityProfile(), true
	case "orchestration":
		return OrchestrationProfile(), true
	case "all":
		return All(), true
	default:
		return Set{}, false
	}
}
