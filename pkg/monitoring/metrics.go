package monitoring

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
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eduflex_attempts_total",
			Help: "Recorded test attempts",
		},
		[]string{"passed"},
	)

	AttemptRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eduflex_attempt_rejections_total",
			Help: "Submissions rejected before an attempt was recorded",
		},
		[]string{"reason"},
	)

	KnowledgeRecompute = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eduflex_knowledge_recompute_seconds",
			Help:    "Time spent deriving module/course knowledge",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"scope"},
	)
)

var registerOnce sync.Once

// Init 注册所有指标，可重复调用
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestCounter)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(AttemptsTotal)
		prometheus.MustRegister(AttemptRejections)
		prometheus.MustRegister(KnowledgeRecompute)
	})
}

func ObserveAttempt(passed bool) {
	AttemptsTotal.WithLabelValues(strconv.FormatBool(passed)).Inc()
}

func ObserveRejection(reason string) {
	if reason == "" {
		reason = "internal"
	}
	AttemptRejections.WithLabelValues(reason).Inc()
}

// ObserveRecompute is meant to be deferred: defer monitoring.ObserveRecompute("module", time.Now())
func ObserveRecompute(scope string, start time.Time) {
	KnowledgeRecompute.WithLabelValues(scope).Observe(time.Since(start).Seconds())
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
