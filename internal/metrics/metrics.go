package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the measurement pipeline.
type Metrics struct {
	// Ingest
	RecordsAccepted prometheus.Counter
	RecordsRejected prometheus.Counter
	RecordsStale    prometheus.Counter // rejected by series as older-than-previous

	// Station transport
	OutboxDepth    prometheus.Gauge
	SendsTotal     prometheus.Counter
	SendPostpones  prometheus.Counter
	SendDrops      prometheus.Counter
	SampleFailures *prometheus.CounterVec // labels: sensor

	// Series engine
	SeriesRecords   *prometheus.GaugeVec // labels: series
	SummariesTotal  prometheus.Counter
	CompactedTotal  prometheus.Counter // records removed by run compression

	// Alerting
	AlertsQueued     prometheus.Counter
	AlertsSuppressed prometheus.Counter
	AlertsSent       prometheus.Counter

	// Redis mirror
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Live hub
	LiveClients prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		RecordsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensornet_records_accepted_total",
			Help: "Records accepted by the ingest endpoint",
		}),
		RecordsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensornet_records_rejected_total",
			Help: "Requests rejected by the ingest endpoint (bad payload or token)",
		}),
		RecordsStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensornet_records_stale_total",
			Help: "Records discarded by the series engine as not newer than the previous one",
		}),

		OutboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensornet_outbox_depth",
			Help: "Readings waiting in the station outbox",
		}),
		SendsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensornet_sends_total",
			Help: "Readings delivered to the aggregator",
		}),
		SendPostpones: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensornet_send_postpones_total",
			Help: "Drain rounds aborted by a transport failure",
		}),
		SendDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensornet_send_drops_total",
			Help: "Readings the aggregator rejected and the station consumed",
		}),
		SampleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensornet_sample_failures_total",
			Help: "Sensor read failures (by sensor)",
		}, []string{"sensor"}),

		SeriesRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sensornet_series_records",
			Help: "Records currently retained per series",
		}, []string{"series"}),
		SummariesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensornet_summaries_total",
			Help: "Daily summaries produced",
		}),
		CompactedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensornet_compacted_records_total",
			Help: "Records removed by run compression",
		}),

		AlertsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensornet_alerts_queued_total",
			Help: "Warning messages queued for delivery",
		}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensornet_alerts_suppressed_total",
			Help: "Warning messages suppressed by their pause window",
		}),
		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensornet_alerts_sent_total",
			Help: "Batched warning notifications delivered",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensornet_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensornet_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensornet_redis_buffered_writes_total",
			Help: "Mirror writes buffered locally while the circuit was open",
		}),

		LiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensornet_live_clients",
			Help: "Connected WebSocket subscribers",
		}),
	}

	prometheus.MustRegister(
		m.RecordsAccepted,
		m.RecordsRejected,
		m.RecordsStale,
		m.OutboxDepth,
		m.SendsTotal,
		m.SendPostpones,
		m.SendDrops,
		m.SampleFailures,
		m.SeriesRecords,
		m.SummariesTotal,
		m.CompactedTotal,
		m.AlertsQueued,
		m.AlertsSuppressed,
		m.AlertsSent,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.LiveClients,
	)

	return m
}

// HealthStatus represents the aggregator's health.
type HealthStatus struct {
	mu sync.RWMutex

	LastRecordTime time.Time `json:"last_record_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetLastRecordTime(t time.Time) {
	h.mu.Lock()
	h.LastRecordTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil dependencies are
// skipped, so deployments without Redis or SQLite still get a health page.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	recordAge := ""
	if !h.LastRecordTime.IsZero() {
		recordAge = time.Since(h.LastRecordTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LastRecordTime  string  `json:"last_record_time"`
		RecordAge       string  `json:"record_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastRecordTime:  h.LastRecordTime.Format(time.RFC3339),
		RecordAge:       recordAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs the plain HTTP sidecar listener: /metrics and /healthz, plus
// any extra routes registered before Start (the live WebSocket endpoint).
type Server struct {
	health *HealthStatus
	addr   string
	mux    *http.ServeMux
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		mux:    mux,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handle registers an extra route. Must be called before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
