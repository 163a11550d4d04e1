// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wardenhost/warden/internal/plugin"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plugin-dir>",
		Short: "Validate a plugin directory without loading it",
		Long: `Check a plugin directory's manifest against the schema and field
rules, and verify its entry point exists and its API version is supported.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]

			data, err := os.ReadFile(filepath.Join(dir, plugin.ManifestFileName))
			if err != nil {
				return err
			}
			if err := plugin.ValidateSchema(data); err != nil {
				return err
			}
			m, err := plugin.ParseManifest(data)
			if err != nil {
				return err
			}
			if _, err := os.Stat(filepath.Join(dir, m.EntryPoint())); err != nil {
				return err
			}
			if !plugin.CurrentAPIVersion.Compatible(m.APIVersion) {
				cmd.PrintErrf("warning: plugin targets API %s, host implements %s\n",
					m.APIVersion, plugin.CurrentAPIVersion)
			}

			cmd.Printf("%s %s: ok (%d capabilities, %d exports)\n",
				m.Name, m.Version, len(m.Capabilities), len(m.Exports))
			return nil
		},
	}
}
