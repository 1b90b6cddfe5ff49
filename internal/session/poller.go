package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/signalsfoundry/gridplanner/internal/logging"
	"github.com/signalsfoundry/gridplanner/internal/observability"
	"github.com/signalsfoundry/gridplanner/internal/schedule"
	"github.com/signalsfoundry/gridplanner/model"
)

// ResiliencePoller polls weather-resilience telemetry while a plan exists.
// It keeps at most one request outstanding, polls fast while simulate is
// on and slow otherwise, and keeps a bounded most-recent-first log.
//
// The poller is owned by its Session and every method runs under the
// session lock.
type ResiliencePoller struct {
	task    *schedule.PeriodicTask
	metrics MetricsRecorder

	fast, slow time.Duration
	logSize    int

	simulate bool
	// gen bumps on every start and stop; a response issued under an older
	// generation is stale.
	gen      uint64
	inFlight bool

	sample    *model.ResilienceSample
	log       []string
	failures  int
	lastError string
	drone     bool
}

func newResiliencePoller(task *schedule.PeriodicTask, cfg Config, metrics MetricsRecorder) *ResiliencePoller {
	return &ResiliencePoller{
		task:    task,
		metrics: metrics,
		fast:    cfg.FastPollInterval,
		slow:    cfg.SlowPollInterval,
		logSize: cfg.TelemetryLogSize,
	}
}

func (p *ResiliencePoller) interval() time.Duration {
	if p.simulate {
		return p.fast
	}
	return p.slow
}

func (p *ResiliencePoller) active() bool { return p.task.Running() }

// start (re)starts polling at the current cadence with an immediate first
// request.
func (p *ResiliencePoller) start() {
	p.gen++
	p.inFlight = false
	p.task.Start(p.interval())
	p.metrics.SetPollerActive(true)
}

func (p *ResiliencePoller) stop() {
	p.gen++
	p.inFlight = false
	if p.task.Stop() {
		p.metrics.SetPollerActive(false)
	}
}

// clearSamples drops the sample, the rolling log and failure bookkeeping.
// The simulate toggle and drone flag are operator state and survive.
func (p *ResiliencePoller) clearSamples() {
	p.sample = nil
	p.log = nil
	p.failures = 0
	p.lastError = ""
}

// clear drops telemetry state together with the simulate toggle and drone
// flag.
func (p *ResiliencePoller) clear() {
	p.clearSamples()
	p.simulate = false
	p.drone = false
}

func (p *ResiliencePoller) record(now time.Time, s *model.ResilienceSample) {
	p.inFlight = false
	p.sample = s
	p.lastError = ""
	stamp := s.Timestamp
	if stamp == "" {
		stamp = now.Format("15:04:05")
	}
	line := fmt.Sprintf("[%s] SIGNAL: %d%% | %s", stamp, s.ResilienceScore, strings.ToUpper(s.Condition))
	p.log = prependBounded(p.log, p.logSize, line)
	p.metrics.SetLatestSample(s.SeverityScore, s.ResilienceScore, s.SOS)
}

func (p *ResiliencePoller) fail(err error) {
	p.inFlight = false
	p.failures++
	p.lastError = err.Error()
}

// pollTick is the PeriodicTask body. It runs with no lock held.
func (s *Session) pollTick() {
	s.mu.Lock()
	p := s.poller
	if s.closed || s.plan == nil || !p.active() {
		s.mu.Unlock()
		return
	}
	tech := s.plan.Technology()
	if p.inFlight || tech == "" {
		s.mu.Unlock()
		s.metrics.ObservePoll(observability.OutcomeSkipped)
		return
	}
	req := model.TelemetryRequest{SectorID: s.sector.ID, Technology: tech, Simulate: p.simulate}
	p.inFlight = true
	epoch, gen := s.epoch, p.gen
	s.mu.Unlock()

	s.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
		defer cancel()
		sample, err := s.svc.Telemetry.Resilience(ctx, req)
		if err == nil && sample == nil {
			err = fmt.Errorf("telemetry service returned no sample")
		}
		s.applySample(epoch, gen, sample, err)
	})
}

func (s *Session) applySample(epoch, gen uint64, sample *model.ResilienceSample, err error) {
	ctx := context.Background()
	s.mu.Lock()
	p := s.poller
	if s.closed || epoch != s.epoch || gen != p.gen {
		s.mu.Unlock()
		s.metrics.ObservePoll(observability.OutcomeStale)
		s.log.Debug(ctx, "discarding stale telemetry response", logging.Bool("error", err != nil))
		return
	}

	if err != nil {
		p.fail(err)
		failures := p.failures
		s.emitLocked(EventTelemetryFailed, map[string]string{"error": err.Error()})
		s.unlockAndFlush()
		s.metrics.ObservePoll(observability.OutcomeError)
		s.log.Warn(ctx, "telemetry poll failed", logging.Err(err), logging.Int("failures", failures))
		return
	}

	sample.Normalize()
	p.record(s.sched.Now(), sample)
	s.emitLocked(EventTelemetrySample, sample.Clone())
	s.unlockAndFlush()
	s.metrics.ObservePoll(observability.OutcomeOK)
	if sample.SOS {
		s.log.Warn(ctx, "SOS reported by resilience service",
			logging.String("sector", sample.SectorID),
			logging.String("alert", sample.AlertMessage),
			logging.Int("severity", sample.SeverityScore),
		)
	}
}

// SetSimulate flips the stress-test toggle. When polling is active the
// current task is torn down and one new task starts at the new cadence
// with an immediate request. Turning simulation off also stands down a
// dispatched drone.
func (s *Session) SetSimulate(on bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	p := s.poller
	if p.simulate == on {
		s.mu.Unlock()
		return nil
	}
	p.simulate = on
	if !on {
		p.drone = false
	}
	restarted := false
	if p.active() {
		p.start()
		restarted = true
	}
	s.emitLocked(EventSimulateChanged, map[string]any{"simulate": on, "interval": p.interval().String()})
	s.unlockAndFlush()

	s.log.Info(context.Background(), "simulation toggled",
		logging.Bool("simulate", on),
		logging.Bool("poller_restarted", restarted),
	)
	if restarted {
		s.sched.RunDue()
	}
	return nil
}

// DispatchDrone marks a maintenance drone as sent to the current SOS. It
// is a one-shot flag; repeated calls are no-ops.
func (s *Session) DispatchDrone() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	p := s.poller
	if p.sample == nil || !p.sample.SOS {
		s.mu.Unlock()
		return ErrNoSOS
	}
	if p.drone {
		s.mu.Unlock()
		return nil
	}
	p.drone = true
	s.emitLocked(EventDroneDispatched, map[string]string{"alert": p.sample.AlertMessage})
	s.unlockAndFlush()
	return nil
}

// prependBounded returns lines followed by log, truncated to limit entries.
func prependBounded(log []string, limit int, lines ...string) []string {
	out := make([]string, 0, len(lines)+len(log))
	out = append(out, lines...)
	out = append(out, log...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
