// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package observability_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhost/warden/internal/observability"
	"github.com/wardenhost/warden/internal/plugin"
	"github.com/wardenhost/warden/internal/plugin/capability"
	"github.com/wardenhost/warden/internal/plugin/plugintest"
)

func startServer(t *testing.T, plugins observability.PluginLister, ready observability.ReadinessChecker) *observability.Server {
	t.Helper()
	s, err := observability.NewServer("127.0.0.1:0", plugins, ready)
	require.NoError(t, err)
	_, err = s.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec,noctx // test URL, loopback
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Liveness(t *testing.T) {
	s := startServer(t, nil, nil)

	code, body := get(t, fmt.Sprintf("http://%s/healthz/liveness", s.Addr()))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)
}

func TestServer_Readiness(t *testing.T) {
	var ready atomic.Bool
	s := startServer(t, nil, ready.Load)

	code, _ := get(t, fmt.Sprintf("http://%s/healthz/readiness", s.Addr()))
	assert.Equal(t, http.StatusServiceUnavailable, code)

	ready.Store(true)
	code, _ = get(t, fmt.Sprintf("http://%s/healthz/readiness", s.Addr()))
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_Metrics(t *testing.T) {
	s := startServer(t, nil, nil)

	code, body := get(t, fmt.Sprintf("http://%s/metrics", s.Addr()))
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "go_goroutines")
}

func TestServer_PluginInventory(t *testing.T) {
	reg := plugin.NewRegistry(plugin.RegistryConfig{
		HostAPI: plugin.APIVersion{Major: 1, Minor: 1},
		Factory: &plugintest.Factory{},
	})
	_, err := reg.Register(context.Background(), plugin.RegisterRequest{
		Manifest: &plugin.Manifest{
			Name:         "demo",
			Version:      "1.2.0",
			APIVersion:   plugin.APIVersion{Major: 1},
			Capabilities: []string{"fs:read"},
			Source:       "main.lua",
		},
		Source:  []byte("-- demo"),
		Granted: capability.SafeDefaults(),
	})
	require.NoError(t, err)

	s := startServer(t, reg, nil)

	code, body := get(t, fmt.Sprintf("http://%s/pluginz", s.Addr()))
	require.Equal(t, http.StatusOK, code)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "demo", rows[0]["name"])
	assert.Equal(t, "1.2.0", rows[0]["version"])
	assert.Equal(t, "running", rows[0]["state"])
}

func TestServer_DoubleStartRejected(t *testing.T) {
	s := startServer(t, nil, nil)
	_, err := s.Start()
	assert.Error(t, err)
}

func TestServer_StopIdempotent(t *testing.T) {
	s, err := observability.NewServer("127.0.0.1:0", nil, nil)
	require.NoError(t, err)
	_, err = s.Start()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Stop(ctx))
	assert.NoError(t, s.Stop(ctx), "second stop is a no-op")
}
