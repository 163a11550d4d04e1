// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Command warden runs the capability-gated plugin runtime.
package main

import (
	"os"
)

// version is stamped at build time.
var version = "dev"

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
