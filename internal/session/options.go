package session

import (
	"context"
	"time"

	"github.com/signalsfoundry/gridplanner/internal/logging"
	"github.com/signalsfoundry/gridplanner/model"
)

// PlanService computes a topology for the captured geometry.
type PlanService interface {
	ComputePlan(ctx context.Context, req model.PlanRequest) (*model.PlanResult, error)
}

// TelemetryService returns one weather-resilience sample.
type TelemetryService interface {
	Resilience(ctx context.Context, req model.TelemetryRequest) (*model.ResilienceSample, error)
}

// RerouteService computes a replacement mesh around a dead tower.
type RerouteService interface {
	Reroute(ctx context.Context, req model.RerouteRequest) (*model.RerouteResult, error)
}

// Services bundles the three external collaborators. A single backend
// client usually satisfies all of them.
type Services struct {
	Planner   PlanService
	Telemetry TelemetryService
	Rerouter  RerouteService
}

// MetricsRecorder receives session activity. *observability.ConsoleCollector
// implements it.
type MetricsRecorder interface {
	ObservePlan(outcome string, d time.Duration)
	ObservePoll(outcome string)
	SetLatestSample(severity, resilience int, sos bool)
	SetPollerActive(active bool)
	ObserveFailure(outcome string)
}

// Dispatcher runs one request to completion. The session never holds its
// lock while a dispatched task runs.
type Dispatcher func(task func())

// Inline runs tasks on the caller's goroutine. Tests use it to make every
// request complete before the triggering call returns.
var Inline Dispatcher = func(task func()) { task() }

// Config holds the session's tunables.
type Config struct {
	FastPollInterval time.Duration `mapstructure:"fast_poll_interval" validate:"gte=0"`
	SlowPollInterval time.Duration `mapstructure:"slow_poll_interval" validate:"gte=0"`
	TelemetryLogSize int           `mapstructure:"telemetry_log_size" validate:"gte=0"`
	HealingDelay     time.Duration `mapstructure:"healing_delay" validate:"gte=0"`
	HealingLogSize   int           `mapstructure:"healing_log_size" validate:"gte=0"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" validate:"gte=0"`
}

// DefaultConfig returns the stock console cadence.
func DefaultConfig() Config {
	return Config{
		FastPollInterval: 2 * time.Second,
		SlowPollInterval: 5 * time.Second,
		TelemetryLogSize: 6,
		HealingDelay:     1500 * time.Millisecond,
		HealingLogSize:   30,
		RequestTimeout:   10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FastPollInterval <= 0 {
		c.FastPollInterval = d.FastPollInterval
	}
	if c.SlowPollInterval <= 0 {
		c.SlowPollInterval = d.SlowPollInterval
	}
	if c.TelemetryLogSize <= 0 {
		c.TelemetryLogSize = d.TelemetryLogSize
	}
	if c.HealingDelay <= 0 {
		c.HealingDelay = d.HealingDelay
	}
	if c.HealingLogSize <= 0 {
		c.HealingLogSize = d.HealingLogSize
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	return c
}

// Option customises Session construction.
type Option func(*Session)

// WithConfig overrides the default cadence and limits.
func WithConfig(cfg Config) Option {
	return func(s *Session) {
		s.cfg = cfg.withDefaults()
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithDispatcher replaces the goroutine-per-request dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Session) {
		if d != nil {
			s.dispatch = d
		}
	}
}

type noopMetrics struct{}

func (noopMetrics) ObservePlan(string, time.Duration) {}
func (noopMetrics) ObservePoll(string)                {}
func (noopMetrics) SetLatestSample(int, int, bool)    {}
func (noopMetrics) SetPollerActive(bool)              {}
func (noopMetrics) ObserveFailure(string)             {}
