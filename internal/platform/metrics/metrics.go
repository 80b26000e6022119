package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tle_judge"

var (
	SubmissionsGraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_graded_total",
		Help:      "Submissions that reached a terminal status",
	}, []string{"status"})

	ClaimsLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "grading_claims_lost_total",
		Help:      "Dequeued submissions that were no longer pending when claimed",
	})

	GradingQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "grading_queue_depth",
		Help:      "Submission ids waiting in the grading queue",
	})

	SandboxCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sandbox_calls_total",
		Help:      "Sandbox invocations by outcome",
	}, []string{"outcome"})

	SandboxLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sandbox_call_duration_seconds",
		Help:      "Duration of sandbox invocations",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	BattlesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duel_battles_created_total",
		Help:      "Battles created by matchmaking",
	})

	BattlesFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duel_battles_finalized_total",
		Help:      "Battles moved to FINISHED",
	}, []string{"outcome"})

	Promotions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "promotions_total",
		Help:      "Division promotions granted",
	}, []string{"division"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := []string{r.Method, route, strconv.Itoa(status)}
		httpRequests.WithLabelValues(labels...).Inc()
		httpLatency.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

// ObserveSandbox records one sandbox invocation.
func ObserveSandbox(outcome string, started time.Time) {
	SandboxCalls.WithLabelValues(outcome).Inc()
	SandboxLatency.Observe(time.Since(started).Seconds())
}
