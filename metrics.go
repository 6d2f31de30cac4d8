package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"

	"github.com/keyproof/keyproofd/pkg/chainsearch"
	"github.com/keyproof/keyproofd/pkg/log"
)

// Metrics contains all Prometheus metrics for the application
type Metrics struct {
	// WebSocket connection metrics
	ConnectedClients prometheus.Gauge
	ConnectionsTotal prometheus.Counter

	// Recovery pipeline metrics
	RecoveryRequestsTotal   prometheus.Counter
	RecoveryRequestsSuccess prometheus.Counter
	RecoveryRequestsFail    *prometheus.CounterVec
	CacheHits               prometheus.Counter
	CachedResults           prometheus.Gauge

	// Verification metrics
	VerifyRequests *prometheus.CounterVec

	// Search metrics
	SearchAttempts    *prometheus.CounterVec
	SearchLatency     prometheus.Histogram
	SearchesInFlight  prometheus.Gauge
	StoredResultCount prometheus.Gauge
}

// NewMetrics initializes and registers Prometheus metrics
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry initializes and registers Prometheus metrics with a custom registry
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	metrics := &Metrics{
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "keyproofd_connected_clients",
			Help: "The current number of connected attempt-stream clients",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "keyproofd_connections_total",
			Help: "The total number of WebSocket connections made since server start",
		}),
		RecoveryRequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "keyproofd_recovery_requests_total",
			Help: "The total number of public key recovery requests",
		}),
		RecoveryRequestsSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "keyproofd_recovery_requests_success",
			Help: "The total number of recovery requests that produced a verified key",
		}),
		RecoveryRequestsFail: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyproofd_recovery_requests_fail",
				Help: "The total number of failed recovery requests by error kind",
			},
			[]string{"kind"},
		),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "keyproofd_cache_hits_total",
			Help: "The total number of recovery requests answered from cache",
		}),
		CachedResults: factory.NewGauge(prometheus.GaugeOpts{
			Name: "keyproofd_cached_results",
			Help: "The number of verified results currently cached",
		}),
		VerifyRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyproofd_verify_requests_total",
				Help: "The total number of signed message verification requests by outcome",
			},
			[]string{"outcome"},
		),
		SearchAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyproofd_search_attempts_total",
				Help: "The total number of endpoint probes by chain and status",
			},
			[]string{"chain_id", "status"},
		),
		SearchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "keyproofd_search_probe_latency_seconds",
			Help:    "Latency of individual endpoint probes",
			Buckets: prometheus.DefBuckets,
		}),
		SearchesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "keyproofd_searches_in_flight",
			Help: "The number of recovery searches currently running",
		}),
		StoredResultCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "keyproofd_stored_results",
			Help: "The number of verified results persisted in the database",
		}),
	}

	return metrics
}

// ObserveAttempt records one endpoint probe; wired into the orchestrator's
// attempt observer.
func (m *Metrics) ObserveAttempt(attempt chainsearch.SearchAttempt) {
	m.SearchAttempts.WithLabelValues(fmt.Sprintf("%d", attempt.ChainID), string(attempt.Status)).Inc()
	m.SearchLatency.Observe(attempt.Latency.Seconds())
}

// CacheSizer reports the number of cached verified results.
type CacheSizer interface {
	CacheSize() int
}

// RecordMetricsPeriodically refreshes the database and cache gauges until
// the context is cancelled.
func (m *Metrics) RecordMetricsPeriodically(ctx context.Context, db *gorm.DB, cache CacheSizer, logger log.Logger) {
	logger = logger.WithName("metrics")
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CachedResults.Set(float64(cache.CacheSize()))
			m.UpdateStoredResultMetrics(db, logger)
		case <-ctx.Done():
			return
		}
	}
}

// UpdateStoredResultMetrics refreshes the persisted-result gauge.
func (m *Metrics) UpdateStoredResultMetrics(db *gorm.DB, logger log.Logger) {
	var count int64
	if err := db.Model(&RecoveryRecord{}).Count(&count).Error; err != nil {
		logger.Warn("failed to count stored results", "error", err)
		return
	}
	m.StoredResultCount.Set(float64(count))
}
