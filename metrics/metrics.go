// Package metrics exposes the Prometheus collectors kvchaind serves at
// /metrics and a Recorder that feeds them from package store (§C10).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chainkv/store"
)

var (
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainkv_commits_total",
			Help: "Total number of transaction commit attempts by result",
		},
		[]string{"result"},
	)

	CommitRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chainkv_commit_retries_total",
			Help: "Total number of CAS retries across all commit attempts",
		},
	)

	PersistLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainkv_persist_latency_seconds",
			Help:    "Time spent persisting a single committed record to the log",
			Buckets: prometheus.DefBuckets,
		},
	)

	ChainLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainkv_chain_length",
			Help: "Number of nodes reachable from the current commit chain head",
		},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainkv_active_connections",
			Help: "Number of open client connections",
		},
	)

	ProtocolRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainkv_protocol_requests_total",
			Help: "Total number of wire protocol requests by opcode name",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(CommitsTotal)
	prometheus.MustRegister(CommitRetriesTotal)
	prometheus.MustRegister(PersistLatency)
	prometheus.MustRegister(ChainLength)
	prometheus.MustRegister(ActiveConnections)
	prometheus.MustRegister(ProtocolRequestsTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Recorder implements store.Recorder against the package-level
// collectors above, so a *store.DB built with metrics.NewRecorder()
// reports into the same registry kvchaind serves.
type Recorder struct{}

// NewRecorder returns a store.Recorder backed by this package's
// Prometheus collectors.
func NewRecorder() store.Recorder { return Recorder{} }

func (Recorder) CommitResult(result string) {
	CommitsTotal.WithLabelValues(result).Inc()
}

func (Recorder) CommitRetry() {
	CommitRetriesTotal.Inc()
}

func (Recorder) PersistLatency(d time.Duration) {
	PersistLatency.Observe(d.Seconds())
}

func (Recorder) ChainLength(n int64) {
	ChainLength.Set(float64(n))
}

// RequestReceived increments the protocol request counter for a named
// opcode. Called from package server, not from store.
func RequestReceived(op string) {
	ProtocolRequestsTotal.WithLabelValues(op).Inc()
}

// ConnectionOpened and ConnectionClosed track the active connection
// gauge. Called from package server around each connection it handles.
func ConnectionOpened() { ActiveConnections.Inc() }
func ConnectionClosed() { ActiveConnections.Dec() }
