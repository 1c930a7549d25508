package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Routing metrics
	OrdersRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hybrid_orders_routed_total",
			Help: "Total number of orders routed, by stop reason",
		},
		[]string{"stop_reason"},
	)

	ChunksExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hybrid_chunks_executed_total",
			Help: "Total number of executed chunks, by venue and scenario",
		},
		[]string{"venue", "scenario"},
	)

	RouteIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hybrid_route_iterations",
		Help:    "Chunk loop iterations per routed order",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 55, 100},
	})

	RouteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hybrid_route_duration_seconds",
		Help:    "Wall time of one routed order",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})

	VenueErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hybrid_venue_errors_total",
			Help: "Total number of failed venue calls",
		},
		[]string{"venue"},
	)

	ActiveOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hybrid_active_orders",
		Help: "Orders currently being routed",
	})

	// Ledger metrics
	FillsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hybrid_fills_recorded_total",
			Help: "Total number of fills persisted, by venue",
		},
		[]string{"venue"},
	)

	DuplicateFills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hybrid_duplicate_fills_total",
		Help: "Fill writes ignored because the trade key already existed",
	})

	FillCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hybrid_fill_cache_hits_total",
		Help: "Total number of fill read-path cache hits",
	})

	FillCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hybrid_fill_cache_misses_total",
		Help: "Total number of fill read-path cache misses",
	})

	// Settlement metrics
	SettlementDrains = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hybrid_settlement_drains_total",
			Help: "Total number of settlement drain cycles, by result",
		},
		[]string{"result"},
	)

	SettlementBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hybrid_settlement_batch_size",
		Help:    "Trades covered by one settlement transaction",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
	})

	SettlementFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hybrid_settlement_failed_trades_total",
		Help: "Trades moved to the failed list",
	})

	SettlementQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hybrid_settlement_queue_depth",
		Help: "Pending trades waiting for settlement",
	})

	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hybrid_settlement_duration_seconds",
		Help:    "Duration of one settlement call including receipt wait",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 15, 30, 60},
	})

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hybrid_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hybrid_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
