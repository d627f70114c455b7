package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finlit",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finlit",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "route"},
	)

	rewardClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finlit",
			Subsystem: "ledger",
			Name:      "reward_claims_total",
			Help:      "Reward claims by event type and outcome (paid, duplicate, rejected, unavailable, retired).",
		},
		[]string{"event_type", "outcome"},
	)

	coinsPaid = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finlit",
			Subsystem: "ledger",
			Name:      "coins_paid_total",
			Help:      "Coins credited to wallets by source.",
		},
		[]string{"source"},
	)

	badgeUnlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finlit",
			Subsystem: "ledger",
			Name:      "badge_unlocks_total",
			Help:      "Badges unlocked.",
		},
		[]string{"badge_id"},
	)

	cachedLedgers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "finlit",
			Subsystem: "ledger",
			Name:      "cached_ledgers",
			Help:      "Ledgers currently held in memory.",
		},
	)

	storeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finlit",
			Subsystem: "storage",
			Name:      "failures_total",
			Help:      "Swallowed persistence failures by backend and operation.",
		},
		[]string{"backend", "op"},
	)

	rolloverRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "finlit",
			Subsystem: "scheduler",
			Name:      "rollover_runs_total",
			Help:      "Daily challenge rollover runs.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		rewardClaims,
		coinsPaid,
		badgeUnlocks,
		cachedLedgers,
		storeFailures,
		rolloverRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per route template.
// Install it with router.Use so the matched route is known.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := routeTemplate(r)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordClaim counts a claim attempt. amount is only added for paid claims.
func RecordClaim(eventType, outcome string, amount int) {
	if eventType == "" {
		eventType = "unknown"
	}
	rewardClaims.WithLabelValues(eventType, outcome).Inc()
	if outcome == "paid" && amount > 0 {
		coinsPaid.WithLabelValues(eventType).Add(float64(amount))
	}
}

// RecordBadgeUnlocks counts newly unlocked badges.
func RecordBadgeUnlocks(ids []string) {
	for _, id := range ids {
		badgeUnlocks.WithLabelValues(id).Inc()
	}
}

// SetCachedLedgers reports the size of the ledger cache.
func SetCachedLedgers(n int) {
	cachedLedgers.Set(float64(n))
}

// RecordStoreFailure counts a persistence failure that was swallowed.
func RecordStoreFailure(backend, op string) {
	storeFailures.WithLabelValues(backend, op).Inc()
}

// RecordRollover counts a scheduler rollover run.
func RecordRollover() {
	rolloverRuns.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
