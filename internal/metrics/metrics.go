package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the chat server's collectors on a private registry so
// tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	HistoryResponses   *prometheus.CounterVec
	Completions        *prometheus.CounterVec
	StreamedFragments  prometheus.Counter
	DecryptFailures    prometheus.Counter
	FingerprintLookups *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HistoryResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_history_responses_total",
			Help: "History responses by outcome (full, not_modified, error).",
		}, []string{"outcome"}),
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_completions_total",
			Help: "Completion relays by outcome (ok, upstream_error, rejected).",
		}, []string{"outcome"}),
		StreamedFragments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_streamed_fragments_total",
			Help: "Upstream fragments forwarded to callers.",
		}),
		DecryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_decrypt_failures_total",
			Help: "Stored messages that failed authentication on read.",
		}),
		FingerprintLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_fingerprint_cache_lookups_total",
			Help: "Fingerprint cache lookups by result (hit, miss).",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(
		m.HistoryResponses,
		m.Completions,
		m.StreamedFragments,
		m.DecryptFailures,
		m.FingerprintLookups,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
