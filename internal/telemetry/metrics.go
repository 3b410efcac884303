/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransitionsTotal counts completed slot transitions per engine.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_transitions_total",
		Help: "Completed playback slot transitions.",
	}, []string{"engine"})

	// LoadFailuresTotal counts item load failures per engine.
	LoadFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_load_failures_total",
		Help: "Media items that failed to load.",
	}, []string{"engine"})

	// PlaybackEndedTotal counts playback-ended events by reason.
	PlaybackEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_playback_ended_total",
		Help: "Playback ended events by reason.",
	}, []string{"engine", "reason"})

	// ActiveEngines tracks the number of running playback engines.
	ActiveEngines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canvas_active_engines",
		Help: "Playback engines currently running.",
	})

	// PrepareDuration observes how long slot preparation takes.
	PrepareDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "canvas_prepare_duration_seconds",
		Help:    "Duration of slot load/prepare operations.",
		Buckets: prometheus.DefBuckets,
	})

	// APIRequestsTotal counts control API requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_api_requests_total",
		Help: "Control API requests.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes control API latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "canvas_api_request_duration_seconds",
		Help:    "Control API request duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
