// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wardenhost/warden/internal/config"
	"github.com/wardenhost/warden/internal/logging"
	"github.com/wardenhost/warden/internal/plugin"
	"github.com/wardenhost/warden/internal/plugin/capability"
	"github.com/wardenhost/warden/internal/plugin/lua"
)

// NewCallCmd creates the call subcommand.
func NewCallCmd() *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:   "call <plugin-dir> <function> [args...]",
		Short: "Load one plugin and invoke an exported function",
		Long: `Load a single plugin directory, invoke an exported function with the
given string arguments, print the result as JSON, and exit. Useful for
smoke-testing a plugin before deploying it.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, nil)
			if err != nil {
				return err
			}
			logging.SetDefault("warden", version, cfg.Log.Format, "warn")

			granted, ok := capability.Profile(profile)
			if !ok {
				return fmt.Errorf("unknown capability profile %q", profile)
			}

			rt := plugin.NewRuntime(plugin.RuntimeConfig{
				HostAPI:        plugin.CurrentAPIVersion,
				DefaultProfile: profile,
			}, lua.NewFactory())
			ctx := cmd.Context()
			defer func() { _ = rt.Shutdown(ctx) }()

			h, err := rt.LoadManifestFile(ctx, args[0], granted)
			if err != nil {
				return err
			}

			callArgs := make([]any, len(args[2:]))
			for i, a := range args[2:] {
				callArgs[i] = a
			}
			out, err := h.Call(ctx, args[1], callArgs)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "safe", "capability profile to grant")
	return cmd
}
