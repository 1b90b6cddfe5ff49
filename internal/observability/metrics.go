package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the request counters.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeRejected  = "rejected"
	OutcomeStale     = "stale"
	OutcomeSkipped   = "skipped"
	OutcomeCancelled = "cancelled"
)

// ConsoleCollector bundles the Prometheus metrics of one planning console:
// plan requests, telemetry polling, failure injection and the operator API.
type ConsoleCollector struct {
	gatherer prometheus.Gatherer

	PlanRequests  *prometheus.CounterVec
	PlanDurations prometheus.Histogram

	TelemetryPolls    *prometheus.CounterVec
	LatestSeverity    prometheus.Gauge
	LatestResilience  prometheus.Gauge
	SOSActive         prometheus.Gauge
	PollerActive      prometheus.Gauge
	PollerRestarts    prometheus.Counter
	FailureInjections *prometheus.CounterVec

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// NewConsoleCollector registers console metrics against reg, defaulting to
// the global Prometheus registry when nil. Registering twice against the
// same registry returns the existing collectors.
func NewConsoleCollector(reg prometheus.Registerer) (*ConsoleCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &ConsoleCollector{gatherer: gatherer}
	var err error

	if c.PlanRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_plan_requests_total",
		Help: "Plan computation requests, labeled by outcome.",
	}, []string{"outcome"}), "console_plan_requests_total"); err != nil {
		return nil, err
	}
	if c.PlanDurations, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "console_plan_request_duration_seconds",
		Help:    "Latency of plan computation requests in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}), "console_plan_request_duration_seconds"); err != nil {
		return nil, err
	}
	if c.TelemetryPolls, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_telemetry_polls_total",
		Help: "Resilience telemetry polls, labeled by outcome.",
	}, []string{"outcome"}), "console_telemetry_polls_total"); err != nil {
		return nil, err
	}
	if c.LatestSeverity, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "console_weather_severity_score",
		Help: "Severity score (0-100) of the most recent resilience sample.",
	}), "console_weather_severity_score"); err != nil {
		return nil, err
	}
	if c.LatestResilience, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "console_resilience_score",
		Help: "Resilience score (0-100) of the most recent resilience sample.",
	}), "console_resilience_score"); err != nil {
		return nil, err
	}
	if c.SOSActive, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "console_sos_active",
		Help: "1 while the most recent resilience sample carries an SOS.",
	}), "console_sos_active"); err != nil {
		return nil, err
	}
	if c.PollerActive, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "console_poller_active",
		Help: "1 while the resilience poller has a scheduled task.",
	}), "console_poller_active"); err != nil {
		return nil, err
	}
	if c.PollerRestarts, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "console_poller_restarts_total",
		Help: "Times the resilience poller was (re)started.",
	}), "console_poller_restarts_total"); err != nil {
		return nil, err
	}
	if c.FailureInjections, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_failure_injections_total",
		Help: "Simulated node failures, labeled by reroute outcome.",
	}, []string{"outcome"}), "console_failure_injections_total"); err != nil {
		return nil, err
	}
	if c.HTTPRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_http_requests_total",
		Help: "Operator API requests, labeled by route pattern, method and status code.",
	}, []string{"route", "method", "code"}), "console_http_requests_total"); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "console_http_request_duration_seconds",
		Help:    "Operator API latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}, []string{"route", "method"}), "console_http_request_duration_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ConsoleCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the gatherer backing Handler.
func (c *ConsoleCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObservePlan records one finished plan request.
func (c *ConsoleCollector) ObservePlan(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.PlanRequests.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK || outcome == OutcomeError {
		c.PlanDurations.Observe(d.Seconds())
	}
}

// ObservePoll records one telemetry poll attempt.
func (c *ConsoleCollector) ObservePoll(outcome string) {
	if c == nil {
		return
	}
	c.TelemetryPolls.WithLabelValues(outcome).Inc()
}

// SetLatestSample mirrors the latest resilience sample into gauges.
func (c *ConsoleCollector) SetLatestSample(severity, resilience int, sos bool) {
	if c == nil {
		return
	}
	c.LatestSeverity.Set(float64(severity))
	c.LatestResilience.Set(float64(resilience))
	c.SOSActive.Set(boolGauge(sos))
}

// SetPollerActive flips the poller gauge. Starting the poller also counts
// a restart.
func (c *ConsoleCollector) SetPollerActive(active bool) {
	if c == nil {
		return
	}
	c.PollerActive.Set(boolGauge(active))
	if active {
		c.PollerRestarts.Inc()
	}
}

// ObserveFailure records one failure injection by reroute outcome.
func (c *ConsoleCollector) ObserveFailure(outcome string) {
	if c == nil {
		return
	}
	c.FailureInjections.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records one operator API request.
func (c *ConsoleCollector) ObserveHTTP(route, method string, code int, d time.Duration) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	c.HTTPRequests.WithLabelValues(route, method, httpCode(code)).Inc()
	c.HTTPDurations.WithLabelValues(route, method).Observe(d.Seconds())
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func httpCode(code int) string {
	if code == 0 {
		code = http.StatusOK
	}
	return strconv.Itoa(code)
}
