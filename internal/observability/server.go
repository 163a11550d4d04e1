// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package observability serves metrics and health probes for the runtime.
package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/wardenhost/warden/internal/plugin"
)

// ReadinessChecker reports whether the runtime is ready to serve.
type ReadinessChecker func() bool

// PluginLister exposes the current plugin handles. *plugin.Runtime
// implements it.
type PluginLister interface {
	List() []*plugin.Handle
}

// Server exposes /metrics, /healthz probes, and a plugin inventory over
// HTTP. It carries its own registry so tests and embedders never collide
// with the global one.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	plugins    PluginLister
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates an observability server listening on addr
// ("host:port"). The plugin runtime's collectors are registered alongside
// the standard Go and process collectors.
func NewServer(addr string, plugins PluginLister, readiness ReadinessChecker) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := plugin.RegisterMetrics(registry); err != nil {
		return nil, oops.In("observability").Wrap(err)
	}

	return &Server{
		addr:     addr,
		registry: registry,
		plugins:  plugins,
		isReady:  readiness,
	}, nil
}

// Registry returns the server's metrics registry for additional collectors.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// Start begins serving. The returned channel receives any serve error and
// closes on graceful shutdown.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.In("observability").Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.In("observability").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)
	mux.HandleFunc("/pluginz", s.handlePlugins)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.In("observability").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // probe write failure means the client went away
	w.Write([]byte("ok\n"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // probe write failure means the client went away
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // probe write failure means the client went away
	w.Write([]byte("not ready\n"))
}

// pluginStatus is one row of the /pluginz inventory.
type pluginStatus struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	State        string   `json:"state"`
	Generation   uint64   `json:"generation"`
	Capabilities []string `json:"capabilities"`
}

func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	var out []pluginStatus
	if s.plugins != nil {
		handles := s.plugins.List()
		out = make([]pluginStatus, 0, len(handles))
		for _, h := range handles {
			out = append(out, pluginStatus{
				Name:         h.Name(),
				Version:      h.Manifest().Version,
				State:        h.State().String(),
				Generation:   h.Version(),
				Capabilities: h.Granted().Names(),
			})
		}
	}

	if err := json.NewEncoder(w).Encode(out); err != nil {
		slog.Warn("plugin inventory encode failed", "error", err)
	}
}
