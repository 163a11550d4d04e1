// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package plugin provides the capability-gated plugin runtime: manifests,
// the concurrent registry, the lifecycle state machine, and the hot-reload
// controller.
package plugin

import (
	"encoding/json"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/wardenhost/warden/internal/plugin/capability"
)

// CurrentAPIVersion is the plugin API implemented by this host.
var CurrentAPIVersion = APIVersion{Major: 1, Minor: 0, Patch: 0}

// APIVersion identifies the host API a plugin was built against.
type APIVersion struct {
	Major int `yaml:"major" json:"major"`
	Minor int `yaml:"minor" json:"minor"`
	Patch int `yaml:"patch" json:"patch"`
}

// String formats the version as "major.minor.patch".
func (v APIVersion) String() string {
	return semver.New(uint64(v.Major), uint64(v.Minor), uint64(v.Patch), "", "").String()
}

// Compatible reports whether a host at version v can run a plugin built
// against version plugin: same major, host minor at least plugin minor.
// Patch never participates.
func (v APIVersion) Compatible(plugin APIVersion) bool {
	return v.Major == plugin.Major && v.Minor >= plugin.Minor
}

// Dependency declares a plugin's requirement on another plugin.
type Dependency struct {
	Name     string `yaml:"name" json:"name"`
	Version  string `yaml:"version" json:"version"`
	Optional bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// Manifest describes a plugin: identity, required capabilities, entry point,
// and exports. A manifest is immutable once parsed; reloading produces a new
// instance, never a mutation.
type Manifest struct {
	Name         string            `yaml:"name" json:"name"`
	Version      string            `yaml:"version" json:"version"`
	Description  string            `yaml:"description,omitempty" json:"description,omitempty"`
	Authors      []string          `yaml:"authors,omitempty" json:"authors,omitempty"`
	License      string            `yaml:"license,omitempty" json:"license,omitempty"`
	APIVersion   APIVersion        `yaml:"api-version" json:"api-version"`
	Capabilities []string          `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Dependencies []Dependency      `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Source       string            `yaml:"source,omitempty" json:"source,omitempty"`
	Bytecode     string            `yaml:"bytecode,omitempty" json:"bytecode,omitempty"`
	Exports      []string          `yaml:"exports,omitempty" json:"exports,omitempty"`
	Tags         []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	Metadata     map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: lowercase letters, digits, and
// hyphens, not starting with a hyphen.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ParseManifest parses and validates a plugin.yaml document.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, oops.Code(CodeManifestParse).New("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.Code(CodeManifestParse).Hint("invalid YAML").Wrap(err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseManifestJSON parses and validates a JSON manifest document.
func ParseManifestJSON(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, oops.Code(CodeManifestParse).New("manifest data is empty")
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, oops.Code(CodeManifestParse).Hint("invalid JSON").Wrap(err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks manifest constraints, failing fast on the first violated
// rule.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return oops.Code(CodeInvalidManifest).With("name", m.Name).
			New("name must contain only a-z, 0-9, and hyphens, and not start with a hyphen")
	}
	if len(m.Name) > maxNameLength {
		return oops.Code(CodeInvalidManifest).With("name", m.Name).
			Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return oops.Code(CodeInvalidManifest).New("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return oops.Code(CodeInvalidManifest).With("version", m.Version).
			Hint("version must be semantic").Wrap(err)
	}

	if m.Source != "" && m.Bytecode != "" {
		return oops.Code(CodeInvalidManifest).
			New("manifest must specify exactly one of 'source' or 'bytecode', got both")
	}
	if m.Source == "" && m.Bytecode == "" {
		return oops.Code(CodeInvalidManifest).
			New("manifest must specify exactly one of 'source' or 'bytecode', got neither")
	}

	for _, name := range m.Capabilities {
		if _, ok := capability.FromName(name); !ok {
			return oops.Code(CodeInvalidManifest).With("capability", name).
				New("unknown capability")
		}
	}

	for _, dep := range m.Dependencies {
		if dep.Name == "" || !namePattern.MatchString(dep.Name) {
			return oops.Code(CodeInvalidManifest).With("dependency", dep.Name).
				New("dependency name must be a valid plugin name")
		}
		if _, err := semver.NewConstraint(dep.Version); err != nil {
			return oops.Code(CodeInvalidManifest).
				With("dependency", dep.Name).With("constraint", dep.Version).
				Hint("dependency version must be a semver constraint").Wrap(err)
		}
	}

	return nil
}

// EntryPoint returns the source path if set, otherwise the bytecode path.
func (m *Manifest) EntryPoint() string {
	if m.Source != "" {
		return m.Source
	}
	return m.Bytecode
}

// UsesSource reports whether the plugin ships source rather than bytecode.
func (m *Manifest) UsesSource() bool { return m.Source != "" }

// RequiresCapability reports whether the manifest declares the capability
// by wire name.
func (m *Manifest) RequiresCapability(name string) bool {
	for _, c := range m.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// Exported reports whether fn appears in the manifest's export list.
// "main" is always callable.
func (m *Manifest) Exported(fn string) bool {
	if fn == "main" {
		return true
	}
	for _, e := range m.Exports {
		if e == fn {
			return true
		}
	}
	return false
}

// SemVer returns the parsed semantic version, or nil if the manifest has
// not passed Validate.
func (m *Manifest) SemVer() *semver.Version {
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return nil
	}
	return v
}
