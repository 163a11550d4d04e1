// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package capability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhost/warden/internal/plugin/capability"
)

func TestFromName_RoundTrip(t *testing.T) {
	for _, c := range capability.AllCapabilities() {
		resolved, ok := capability.FromName(c.Name())
		require.True(t, ok, "name %q should resolve", c.Name())
		assert.Equal(t, c, resolved)
	}
}

func TestFromName_FixedTable(t *testing.T) {
	tests := []struct {
		name string
		want capability.Capability
	}{
		{"fs:read", capability.FileRead},
		{"fs:write", capability.FileWrite},
		{"fs:delete", capability.FileDelete},
		{"fs:metadata", capability.FileMetadata},
		{"net:request", capability.NetworkRequest},
		{"net:listen", capability.NetworkListen},
		{"net:dns", capability.DNSLookup},
		{"sys:env", capability.EnvRead},
		{"sys:exec", capability.ProcessExec},
		{"sys:time", capability.TimeRead},
		{"plugin:call", capability.PluginCall},
		{"plugin:message", capability.PluginMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := capability.FromName(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromName_Unknown(t *testing.T) {
	_, ok := capability.FromName("fs:teleport")
	assert.False(t, ok)

	_, ok = capability.FromName("")
	assert.False(t, ok)
}

func TestSet_GrantHas(t *testing.T) {
	for _, c := range capability.AllCapabilities() {
		s := capability.None()
		s.Grant(c)
		assert.True(t, s.Has(c), "grant(%s) then has(%s)", c, c)
	}
}

func TestSet_NoneHasNothing(t *testing.T) {
	s := capability.None()
	for _, c := range capability.AllCapabilities() {
		assert.False(t, s.Has(c), "none() should not have %s", c)
	}
	assert.True(t, s.IsEmpty())
}

func TestSet_Revoke(t *testing.T) {
	s := capability.All()
	s.Revoke(capability.ProcessExec)
	assert.False(t, s.Has(capability.ProcessExec))
	assert.True(t, s.Has(capability.FileRead))
}

func TestSet_SafeDefaults(t *testing.T) {
	s := capability.SafeDefaults()
	assert.True(t, s.Has(capability.FileRead))
	assert.True(t, s.Has(capability.FileMetadata))
	assert.True(t, s.Has(capability.TimeRead))
	assert.False(t, s.Has(capability.FileWrite))
}

func TestSet_EqualityByMembership(t *testing.T) {
	a := capability.SafeDefaults()
	b := capability.None()
	b.Grant(capability.FileRead)
	b.Grant(capability.FileMetadata)
	b.Grant(capability.TimeRead)

	// Quotas differ but equality is by membership only.
	q := b.Quotas()
	q.MaxFileSize = 1
	b.SetQuotas(q)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(capability.None()))
}

func TestProfile_Orchestration_NotFullyPermissive(t *testing.T) {
	s, ok := capability.Profile("orchestration")
	require.True(t, ok)
	assert.False(t, s.Has(capability.ProcessExec))
	assert.False(t, s.Has(capability.FileDelete))
	assert.True(t, s.Has(capability.NetworkRequest))
	assert.False(t, s.Equal(capability.All()))
}

func TestProfile_Unknown(t *testing.T) {
	_, ok := capability.Profile("root")
	assert.False(t, ok, "unknown profile must not resolve")
}

func TestGate_Validate(t *testing.T) {
	gate := capability.NewGate()

	t.Run("all granted", func(t *testing.T) {
		err := gate.Validate("demo", []string{"fs:read", "sys:time"}, capability.SafeDefaults())
		require.NoError(t, err)
	})

	t.Run("unknown capability", func(t *testing.T) {
		err := gate.Validate("demo", []string{"fs:read", "fs:teleport"}, capability.All())
		var unknownErr *capability.UnknownError
		require.ErrorAs(t, err, &unknownErr)
		assert.Equal(t, "fs:teleport", unknownErr.Name)
	})

	t.Run("missing grant", func(t *testing.T) {
		err := gate.Validate("demo", []string{"fs:write"}, capability.SafeDefaults())
		var denied *capability.DeniedError
		require.ErrorAs(t, err, &denied)
		assert.Equal(t, "demo", denied.Plugin)
		assert.Equal(t, capability.FileWrite, denied.Capability)
	})

	t.Run("deterministic across repeated calls", func(t *testing.T) {
		for range 10 {
			err := gate.Validate("demo", []string{"fs:write"}, capability.SafeDefaults())
			require.Error(t, err)
		}
	})
}

func TestGate_Check(t *testing.T) {
	gate := capability.NewGate()

	require.NoError(t, gate.Check("demo", capability.TimeRead, capability.SafeDefaults()))

	err := gate.Check("demo", capability.NetworkListen, capability.SafeDefaults())
	var denied *capability.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, capability.NetworkListen, denied.Capability)
}

func TestRiskTier_AdvisoryOnly(t *testing.T) {
	// Identical membership with different risk tiers behaves identically.
	gate := capability.NewGate()
	s := capability.None()
	s.Grant(capability.ProcessExec) // critical tier
	require.NoError(t, gate.Check("demo", capability.ProcessExec, s))
	assert.Equal(t, capability.RiskCritical, capability.ProcessExec.Risk())
	assert.Equal(t, capability.RiskLow, capability.TimeRead.Risk())
}
