package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type cacheMetrics struct {
	registry *prometheus.Registry

	sessionsActive  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsDeleted prometheus.Counter

	turnsTotal   *prometheus.CounterVec
	turnDuration prometheus.Histogram

	archivesCreated      prometheus.Counter
	archivedTokens       prometheus.Counter
	archiveDuration      prometheus.Histogram
	summarizerFallbacks  prometheus.Counter
	retrievalSearches    prometheus.Counter
	retrievalInjections  prometheus.Counter
	cleanupDeletionTotal prometheus.Counter
}

var (
	once sync.Once
	inst *cacheMetrics
)

func get() *cacheMetrics {
	once.Do(func() {
		m := &cacheMetrics{registry: prometheus.NewRegistry()}

		m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingat_sessions_active",
			Help: "Current number of tracked sessions.",
		})
		m.sessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingat_sessions_created_total",
			Help: "Total sessions created.",
		})
		m.sessionsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingat_sessions_deleted_total",
			Help: "Total sessions deleted.",
		})
		m.turnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingat_turns_total",
			Help: "Total turns handled, by outcome.",
		}, []string{"outcome"})
		m.turnDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingat_turn_duration_seconds",
			Help:    "Turn handling duration in seconds.",
			Buckets: prometheus.DefBuckets,
		})
		m.archivesCreated = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingat_archives_created_total",
			Help: "Total archives created.",
		})
		m.archivedTokens = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingat_archived_tokens_total",
			Help: "Total original tokens retired into archives.",
		})
		m.archiveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingat_archive_duration_seconds",
			Help:    "Archival duration in seconds, including summarization.",
			Buckets: prometheus.DefBuckets,
		})
		m.summarizerFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingat_summarizer_fallbacks_total",
			Help: "Total archivals that used the truncation fallback summary.",
		})
		m.retrievalSearches = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingat_retrieval_searches_total",
			Help: "Total retrieval searches run.",
		})
		m.retrievalInjections = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingat_retrieval_injections_total",
			Help: "Total archives injected into effective context.",
		})
		m.cleanupDeletionTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingat_cleanup_deletions_total",
			Help: "Total sessions deleted by retention cleanup.",
		})

		m.registry.MustRegister(
			m.sessionsActive, m.sessionsCreated, m.sessionsDeleted,
			m.turnsTotal, m.turnDuration,
			m.archivesCreated, m.archivedTokens, m.archiveDuration,
			m.summarizerFallbacks,
			m.retrievalSearches, m.retrievalInjections,
			m.cleanupDeletionTotal,
		)

		inst = m
	})
	return inst
}

// Handler exposes the metrics registry over HTTP.
func Handler() http.Handler {
	m := get()
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetActiveSessions records the current session count.
func SetActiveSessions(n int) {
	get().sessionsActive.Set(float64(n))
}

// RecordSessionCreated increments the session creation counter.
func RecordSessionCreated() {
	get().sessionsCreated.Inc()
}

// RecordSessionDeleted increments the session deletion counter.
func RecordSessionDeleted() {
	get().sessionsDeleted.Inc()
}

// RecordTurn records a handled turn and its duration.
func RecordTurn(outcome string, d time.Duration) {
	m := get()
	m.turnsTotal.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(d.Seconds())
}

// RecordArchive records a completed archival.
func RecordArchive(originalTokens int, d time.Duration, fallback bool) {
	m := get()
	m.archivesCreated.Inc()
	m.archivedTokens.Add(float64(originalTokens))
	m.archiveDuration.Observe(d.Seconds())
	if fallback {
		m.summarizerFallbacks.Inc()
	}
}

// RecordRetrieval records a search and how many archives it injected.
func RecordRetrieval(injected int) {
	m := get()
	m.retrievalSearches.Inc()
	m.retrievalInjections.Add(float64(injected))
}

// RecordCleanup records sessions deleted by retention cleanup.
func RecordCleanup(deleted int) {
	get().cleanupDeletionTotal.Add(float64(deleted))
}
