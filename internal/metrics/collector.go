package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the service's prometheus registry. A nil *Collector is
// valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// Request metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Ledger metrics
	ledgerAppends      *prometheus.CounterVec
	ledgerHeight       prometheus.Gauge
	ledgerVerifyTotal  *prometheus.CounterVec
	ledgerAppendTiming prometheus.Histogram

	// Record metrics
	alertsCreated    *prometheus.CounterVec
	reportsSubmitted *prometheus.CounterVec
	authFailures     *prometheus.CounterVec

	// Event metrics
	eventsPublished *prometheus.CounterVec
}

// New registers every threatlens metric plus the go and process collectors
// on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatlens_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "threatlens_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ledgerAppends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatlens_ledger_appends_total",
				Help: "Total number of ledger append attempts",
			},
			[]string{"status"},
		),
		ledgerHeight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "threatlens_ledger_height",
				Help: "Block number of the most recent ledger entry",
			},
		),
		ledgerVerifyTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatlens_ledger_verifications_total",
				Help: "Total number of ledger chain verifications",
			},
			[]string{"result"},
		),
		ledgerAppendTiming: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "threatlens_ledger_append_duration_seconds",
				Help:    "Ledger append duration in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		alertsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatlens_alerts_created_total",
				Help: "Total number of alerts created",
			},
			[]string{"platform", "alert_level"},
		),
		reportsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatlens_reports_submitted_total",
				Help: "Total number of reports submitted",
			},
			[]string{"platform"},
		),
		authFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatlens_auth_failures_total",
				Help: "Total number of rejected credentials",
			},
			[]string{"kind"},
		),

		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatlens_events_published_total",
				Help: "Total number of evidence events published",
			},
			[]string{"type", "status"},
		),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveRequest(method, path, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(method, path, status).Inc()
	c.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveAppend records one append attempt. height is ignored on failure.
func (c *Collector) ObserveAppend(err error, height int64, duration time.Duration) {
	if c == nil {
		return
	}
	if err != nil {
		c.ledgerAppends.WithLabelValues("error").Inc()
		return
	}
	c.ledgerAppends.WithLabelValues("success").Inc()
	c.ledgerAppendTiming.Observe(duration.Seconds())
	c.ledgerHeight.Set(float64(height))
}

func (c *Collector) SetLedgerHeight(height int64) {
	if c == nil {
		return
	}
	c.ledgerHeight.Set(float64(height))
}

func (c *Collector) ObserveVerify(valid bool) {
	if c == nil {
		return
	}
	result := "valid"
	if !valid {
		result = "broken"
	}
	c.ledgerVerifyTotal.WithLabelValues(result).Inc()
}

func (c *Collector) IncAlertsCreated(platform, level string) {
	if c == nil {
		return
	}
	c.alertsCreated.WithLabelValues(platform, level).Inc()
}

func (c *Collector) IncReportsSubmitted(platform string) {
	if c == nil {
		return
	}
	c.reportsSubmitted.WithLabelValues(platform).Inc()
}

func (c *Collector) IncAuthFailures(kind string) {
	if c == nil {
		return
	}
	c.authFailures.WithLabelValues(kind).Inc()
}

func (c *Collector) ObservePublish(eventType string, err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.eventsPublished.WithLabelValues(eventType, status).Inc()
}

// TrackStreamClients samples connected on every scrape. Call it once.
func (c *Collector) TrackStreamClients(connected func() int) {
	if c == nil {
		return
	}
	promauto.With(c.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "threatlens_stream_clients",
			Help: "Number of connected ledger stream clients",
		},
		func() float64 { return float64(connected()) },
	)
}
