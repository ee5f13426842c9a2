// Package metrics holds the Prometheus collectors for the answer API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "answer_api"

var (
	// LLMRequests counts calls to the generation backend.
	// Labels: method (generate, stream), status (ok, error, rate_limited)
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "requests_total",
		Help:      "Total generation backend calls",
	}, []string{"method", "status"})

	// LLMLatency measures backend call latency until the response (or the
	// stream) completes.
	LLMLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "latency_seconds",
		Help:      "Generation backend latency in seconds",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
	}, []string{"method"})

	// LLMFirstToken measures time to first streamed text.
	LLMFirstToken = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "first_token_seconds",
		Help:      "Time from stream submit to first text chunk",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
	})

	// StreamRetries counts stream retries after rate-limit errors.
	StreamRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "retries_total",
		Help:      "Stream attempts retried after a rate-limit error",
	})

	// StreamFallbacks counts streams answered by a non-streamed generation.
	StreamFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "fallbacks_total",
		Help:      "Streams answered by the non-streamed fallback",
	})

	// AlignedSupports counts supports by the locator strategy that placed
	// them. Labels: strategy (window, global, estimate)
	AlignedSupports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "citations",
		Name:      "supports_located_total",
		Help:      "Citation supports by locate strategy",
	}, []string{"strategy"})

	// DroppedSupports counts supports that could not be aligned.
	DroppedSupports = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "citations",
		Name:      "supports_dropped_total",
		Help:      "Citation supports dropped during alignment",
	})

	// AlignFallbacks counts alignments that used the forward-scan fallback.
	AlignFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "citations",
		Name:      "fallbacks_total",
		Help:      "Alignments that used the forward-scan fallback",
	})

	// AlignLatency measures engine time per alignment.
	AlignLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "citations",
		Name:      "align_seconds",
		Help:      "Citation alignment latency in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})
)
