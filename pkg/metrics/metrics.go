// Package metrics exposes Prometheus instrumentation for the send engine
// and the dev backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_sends_total",
		Help: "Sends accepted, by dispatch path",
	}, []string{"path"})

	SendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_send_failures_total",
		Help: "Failed sends by error kind",
	}, []string{"kind"})

	TTFTSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "courier_ttft_seconds",
		Help:    "Time from send to first streamed delta",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	})

	HistoryLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "courier_history_latency_seconds",
		Help:    "Time from local transcript append to appearance in session history",
		Buckets: []float64{0.1, 0.2, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	StreamEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_stream_events_total",
		Help: "Parsed stream events across all reads",
	})

	RequestsRetired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_requests_retired_total",
		Help: "Placeholders retired after history confirmation",
	})

	RetiredDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "courier_request_duration_seconds",
		Help:    "Send-to-terminal duration of retired requests",
		Buckets: []float64{0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0},
	})
)
