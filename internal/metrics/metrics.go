// Package metrics holds the prometheus collectors of the attempt service.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	AttemptsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_sessions_started_total",
			Help: "Attempt sessions loaded into memory, by origin of the state",
		},
		[]string{"source"},
	)

	AttemptsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_submissions_total",
			Help: "Attempts handed to the submission queue, by reason",
		},
		[]string{"reason"},
	)

	AttemptOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_operations_total",
			Help: "State machine operations applied to live attempts",
		},
		[]string{"op"},
	)

	LiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "attempt_live_sessions",
		Help: "Attempt sessions currently held in memory",
	})

	StreamMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_stream_messages_total",
			Help: "WebSocket messages on the attempt stream",
		},
		[]string{"type", "direction"},
	)

	QueueJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_queue_jobs_total",
			Help: "Jobs processed by the persistence workers",
		},
		[]string{"queue", "result"},
	)
)

var initOnce sync.Once

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			AttemptsStarted,
			AttemptsSubmitted,
			AttemptOps,
			LiveSessions,
			StreamMessages,
			QueueJobs,
		)
	})
}

// Middleware records request count and latency per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
