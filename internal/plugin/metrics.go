// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_plugins_registered",
			Help: "Number of plugins currently registered.",
		},
	)

	metricCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_plugin_calls_total",
			Help: "Total plugin function calls by plugin, function, and status.",
		},
		[]string{"plugin", "function", "status"},
	)

	metricCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_plugin_call_duration_seconds",
			Help:    "Plugin call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plugin"},
	)

	metricTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_plugin_transitions_total",
			Help: "Lifecycle transitions by plugin and target state.",
		},
		[]string{"plugin", "to"},
	)

	metricReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_plugin_reloads_total",
			Help: "Reload attempts by plugin and result.",
		},
		[]string{"plugin", "result"},
	)

	metricReloadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_plugin_reload_duration_seconds",
			Help:    "Reload duration in seconds, successful attempts only.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plugin"},
	)

	metricCoalesced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_plugin_changes_coalesced_total",
			Help: "Change events absorbed into an already-pending debounce window.",
		},
		[]string{"plugin"},
	)

	metricBreakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_plugin_breaker_open",
			Help: "1 while the reload circuit breaker is open for a plugin.",
		},
		[]string{"plugin"},
	)

	metricCapabilityDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_plugin_capability_denied_total",
			Help: "Capability denials by plugin and capability.",
		},
		[]string{"plugin", "capability"},
	)
)

// RegisterMetrics registers all plugin runtime collectors with the given
// registry. Call once at startup.
func RegisterMetrics(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		metricRegistered,
		metricCalls,
		metricCallDuration,
		metricTransitions,
		metricReloads,
		metricReloadDuration,
		metricCoalesced,
		metricBreakerOpen,
		metricCapabilityDenied,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
