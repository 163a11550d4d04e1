// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package config loads runtime configuration from YAML files, command-line
// flags, and built-in defaults, in that order of increasing precedence.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/wardenhost/warden/internal/xdg"
)

// Config is the full Warden runtime configuration.
type Config struct {
	Log           Log           `koanf:"log"`
	Plugins       Plugins       `koanf:"plugins"`
	Reload        Reload        `koanf:"reload"`
	Observability Observability `koanf:"observability"`
}

// Log configures structured logging.
type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Plugins configures plugin discovery and grants.
type Plugins struct {
	Dir         string        `koanf:"dir"`
	Profile     string        `koanf:"profile"`
	Max         int           `koanf:"max"`
	Watch       bool          `koanf:"watch"`
	Patterns    []string      `koanf:"patterns"`
	CallTimeout time.Duration `koanf:"call-timeout"`
}

// Reload tunes the hot-reload controller.
type Reload struct {
	Debounce          time.Duration `koanf:"debounce"`
	BackoffInitial    time.Duration `koanf:"backoff-initial"`
	BackoffMultiplier float64       `koanf:"backoff-multiplier"`
	BackoffMax        time.Duration `koanf:"backoff-max"`
	MaxRetries        int           `koanf:"max-retries"`
	BreakerThreshold  int           `koanf:"breaker-threshold"`
	BreakerTimeout    time.Duration `koanf:"breaker-timeout"`
}

// Observability configures the metrics and health endpoint.
type Observability struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: Log{
			Level:  "info",
			Format: "json",
		},
		Plugins: Plugins{
			Dir:         xdg.PluginsDir(),
			Profile:     "safe",
			Watch:       true,
			Patterns:    []string{"plugin.yaml", "*.lua"},
			CallTimeout: 30 * time.Second,
		},
		Reload: Reload{
			Debounce:          500 * time.Millisecond,
			BackoffInitial:    100 * time.Millisecond,
			BackoffMultiplier: 2,
			BackoffMax:        3200 * time.Millisecond,
			MaxRetries:        5,
			BreakerThreshold:  5,
			BreakerTimeout:    30 * time.Second,
		},
		Observability: Observability{
			Enabled: true,
			Addr:    "127.0.0.1:9190",
		},
	}
}

// Load merges configuration sources over the defaults. Path may be empty;
// flags may be nil. Flags win over the file, the file wins over defaults.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, oops.In("config").With("path", path).
				Hint("config file unreadable or malformed").Wrap(err)
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return cfg, oops.In("config").Wrap(err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, oops.In("config").Wrap(err)
	}
	return cfg, nil
}
