package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Submission outcomes.
const (
	OutcomeRejected = "rejected"
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
)

// maxPathLabelLength bounds the path label for unmatched (static) routes.
const maxPathLabelLength = 256

// Metrics owns a private registry so tests can build as many as they like.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	submissions *prometheus.CounterVec
	accepted    prometheus.Counter
	reqDuration *prometheus.HistogramVec
}

func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lead_relay_submissions_total",
				Help: "Lead submissions by outcome.",
			},
			[]string{"outcome"},
		),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lead_relay_accepted_recipients_total",
			Help: "Recipients the mail server accepted.",
		}),
		reqDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: []float64{0.01, 0.1, 0.3, 1.2, 5},
			},
			[]string{"path", "method", "status"},
		),
	}

	mustRegister(m.registry, logger, "Go collector", collectors.NewGoCollector())
	mustRegister(m.registry, logger, "process collector", collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mustRegister(m.registry, logger, "submission counter", m.submissions)
	mustRegister(m.registry, logger, "accepted recipient counter", m.accepted)
	mustRegister(m.registry, logger, "HTTP request histogram", m.reqDuration)

	// Expose every outcome at zero from the start.
	for _, o := range []string{OutcomeRejected, OutcomeSent, OutcomeFailed} {
		m.submissions.WithLabelValues(o)
	}

	return m
}

func mustRegister(reg *prometheus.Registry, logger *zap.Logger, name string, c prometheus.Collector) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return
		}
		if logger != nil {
			logger.Fatal("failed to register "+name, zap.Error(err))
		}
		panic("metrics: failed to register " + name + ": " + err.Error())
	}
}

func (m *Metrics) ObserveRejected() {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(OutcomeRejected).Inc()
}

func (m *Metrics) ObserveSent(accepted int) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(OutcomeSent).Inc()
	m.accepted.Add(float64(accepted))
}

func (m *Metrics) ObserveFailed() {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(OutcomeFailed).Inc()
}

// Submissions returns the counter for outcome.
func (m *Metrics) Submissions(outcome string) prometheus.Counter {
	return m.submissions.WithLabelValues(outcome)
}

// Accepted returns the accepted-recipient counter.
func (m *Metrics) Accepted() prometheus.Counter {
	return m.accepted
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request durations. The path label is the gin route
// pattern; unmatched requests fall back to the raw path, truncated.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if status < 100 || status > 599 {
			status = http.StatusInternalServerError
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if len(path) > maxPathLabelLength {
			path = truncateUTF8(path, maxPathLabelLength-3) + "..."
		}

		m.reqDuration.WithLabelValues(
			path,
			c.Request.Method,
			strconv.Itoa(status),
		).Observe(time.Since(start).Seconds())
	}
}

// truncateUTF8 cuts s to at most maxBytes without splitting a rune.
func truncateUTF8(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
