// Package metrics exposes forgecache's Prometheus instrumentation: request
// counters by command and status, per-tier hit counters, rebalancer activity
// and the memory tier's size gauges, plus a small HTTP server that serves
// /metrics and /health.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles all forgecache collectors.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	TierHitsTotal   *prometheus.CounterVec
	MissesTotal     prometheus.Counter
	MigrationsTotal *prometheus.CounterVec
	MemoryEntries   prometheus.Gauge
	MemoryBytes     prometheus.Gauge
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the process-wide Metrics instance, registering the collectors
// with the default registry on first use.
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "forgecache_requests_total",
					Help: "Wire protocol requests handled, by command and status",
				},
				[]string{"command", "status"},
			),
			TierHitsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "forgecache_tier_hits_total",
					Help: "Cache hits by tier (memory, disk, remote)",
				},
				[]string{"tier"},
			),
			MissesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "forgecache_misses_total",
					Help: "Lookups absent from every reachable tier",
				},
			),
			MigrationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "forgecache_rebalance_migrations_total",
					Help: "Entries the rebalancer attempted to move, by outcome",
				},
				[]string{"outcome"},
			),
			MemoryEntries: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "forgecache_memory_entries",
					Help: "Entries currently held by the memory tier",
				},
			),
			MemoryBytes: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "forgecache_memory_bytes",
					Help: "Compressed bytes currently held by the memory tier",
				},
			),
		}
	})
	return instance
}

// Server serves /metrics and /health over HTTP.
type Server struct {
	server *http.Server
	addr   string
}

// NewServer creates a metrics server bound to addr.
func NewServer(addr string) *Server {
	return &Server{addr: addr}
}

// Start runs the HTTP server until Stop or a listener error.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)

	s.server = &http.Server{Addr: s.addr, Handler: mux}

	log.WithField("addr", s.addr).Info("metrics server listening")
	return s.server.ListenAndServe()
}

// Stop closes the HTTP server.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// StartAsync runs a metrics server in the background, logging any startup
// failure instead of surfacing it.
func StartAsync(addr string) *Server {
	s := NewServer(addr)
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server")
		}
	}()
	return s
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}
