// Package session owns the operator's planning session: interaction mode,
// captured geometry, the plan request lifecycle, resilience polling and
// failure injection. All state lives in one Session guarded by one mutex;
// requests to the external services run on a Dispatcher and re-enter the
// session to apply their results.
//
// Every timer (poll cadence, healing delay) is an event on a
// schedule.EventScheduler, so lifecycles can be fast-forwarded in tests.
//
// Lock ordering: Session.mu -> PeriodicTask.mu -> EventScheduler locks.
// Scheduled callbacks and dispatched tasks run with no lock held.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/gridplanner/core"
	"github.com/signalsfoundry/gridplanner/internal/logging"
	"github.com/signalsfoundry/gridplanner/internal/observability"
	"github.com/signalsfoundry/gridplanner/internal/schedule"
	"github.com/signalsfoundry/gridplanner/model"
)

// Session is one operator's planning console state.
type Session struct {
	mu sync.Mutex

	sector   model.Sector
	mode     core.ModeController
	geometry core.GeometryCapture

	loading bool
	plan    *model.PlanResult
	planErr string

	// epoch bumps on reset, sector change and every applied plan. Async
	// results carry the epoch they were issued under and are dropped on
	// mismatch.
	epoch uint64

	poller   *ResiliencePoller
	injector *FailureInjector

	svc      Services
	sched    schedule.EventScheduler
	cfg      Config
	log      logging.Logger
	metrics  MetricsRecorder
	dispatch Dispatcher
	wg       sync.WaitGroup

	subs    []subscriber
	nextSub int
	pending []Event

	closed bool
}

// New constructs an idle session for sector. sched drives every timer the
// session creates.
func New(sector model.Sector, svc Services, sched schedule.EventScheduler, opts ...Option) *Session {
	s := &Session{
		sector:  sector,
		svc:     svc,
		sched:   sched,
		cfg:     DefaultConfig(),
		log:     logging.Noop(),
		metrics: noopMetrics{},
	}
	s.dispatch = s.goDispatch
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logging.String("component", "session"))
	s.poller = newResiliencePoller(schedule.NewPeriodicTask(sched, s.pollTick), s.cfg, s.metrics)
	s.injector = newFailureInjector(sched, s.cfg)
	return s
}

func (s *Session) goDispatch(task func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		task()
	}()
}

// Sector returns the current target sector.
func (s *Session) Sector() model.Sector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sector
}

// Mode returns the current interaction mode.
func (s *Session) Mode() core.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode.Mode()
}

// SetMode switches the interaction mode. Entering drawing always restarts
// the in-progress boundary, even when already drawing.
func (s *Session) SetMode(m core.Mode) error {
	if m != core.ModeIdle && m != core.ModeDrawing && m != core.ModePlacing {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(m))
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	prev := s.mode.Enter(m)
	if m == core.ModeDrawing {
		s.geometry.RestartBoundary()
	}
	s.emitLocked(EventModeChanged, map[string]string{"from": prev.String(), "to": m.String()})
	s.unlockAndFlush()
	return nil
}

// Click applies one map click under the current mode.
func (s *Session) Click(p model.Point) core.ClickOutcome {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.OutcomeIgnored
	}
	outcome := s.geometry.HandleClick(&s.mode, p)
	switch outcome {
	case core.OutcomeIgnored:
	case core.OutcomeNodePlaced:
		s.emitLocked(EventGeometryChanged, map[string]any{"outcome": outcome.String(), "point": p})
		s.emitLocked(EventModeChanged, map[string]string{"from": core.ModePlacing.String(), "to": core.ModeIdle.String()})
	default:
		s.emitLocked(EventGeometryChanged, map[string]any{"outcome": outcome.String(), "point": p})
	}
	s.unlockAndFlush()
	return outcome
}

// SelectSector replaces the target sector and clears all session state.
func (s *Session) SelectSector(sector model.Sector) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	prev := s.sector.ID
	s.sector = sector
	s.clearLocked()
	s.log.Info(context.Background(), "sector selected",
		logging.String("from", prev),
		logging.String("sector", sector.ID),
		logging.String("terrain", string(sector.Terrain)),
	)
	s.emitLocked(EventSectorChanged, sector)
	s.unlockAndFlush()
	return nil
}

// Reset clears all session state, keeping the sector.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.clearLocked()
	s.emitLocked(EventSessionReset, nil)
	s.unlockAndFlush()
	return nil
}

// clearLocked drops geometry, plan, telemetry and failure state, tears
// down every timer and returns the mode to idle.
func (s *Session) clearLocked() {
	s.epoch++
	s.mode.Reset()
	s.geometry.Reset()
	s.loading = false
	s.plan = nil
	s.planErr = ""
	s.poller.stop()
	s.poller.clear()
	s.injector.clear()
}

// ComputePlan sends the captured geometry to the planning service. The
// request completes asynchronously; the result is visible through Snapshot
// and an EventPlanApplied or EventPlanFailed event.
func (s *Session) ComputePlan(ctx context.Context) error {
	ctx, log := logging.WithOperationLogger(ctx, s.log)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.loading {
		s.mu.Unlock()
		s.metrics.ObservePlan(observability.OutcomeRejected, 0)
		return ErrPlanInFlight
	}
	req, ok := s.geometry.BuildPlanRequest(s.sector.Terrain)
	if !ok {
		s.mu.Unlock()
		s.metrics.ObservePlan(observability.OutcomeRejected, 0)
		return ErrNoGeometry
	}
	s.loading = true
	s.planErr = ""
	epoch := s.epoch
	sector := s.sector.ID
	s.emitLocked(EventPlanRequested, map[string]int{
		"polygons":       len(req.Polygons),
		"critical_nodes": len(req.CriticalNodes),
	})
	s.unlockAndFlush()

	log.Info(ctx, "plan requested",
		logging.String("sector", sector),
		logging.Int("polygons", len(req.Polygons)),
		logging.Int("critical_nodes", len(req.CriticalNodes)),
	)

	reqCtx := context.WithoutCancel(ctx)
	s.dispatch(func() {
		ctx, cancel := context.WithTimeout(reqCtx, s.cfg.RequestTimeout)
		defer cancel()
		start := time.Now()
		res, err := s.svc.Planner.ComputePlan(ctx, req)
		if err == nil && res == nil {
			err = errors.New("planning service returned no result")
		}
		s.applyPlan(ctx, log, epoch, time.Since(start), res, err)
	})
	return nil
}

func (s *Session) applyPlan(ctx context.Context, log logging.Logger, epoch uint64, elapsed time.Duration, res *model.PlanResult, err error) {
	s.mu.Lock()
	if s.closed || epoch != s.epoch {
		s.mu.Unlock()
		s.metrics.ObservePlan(observability.OutcomeStale, elapsed)
		log.Debug(ctx, "discarding stale plan response")
		return
	}
	s.loading = false

	if err != nil {
		s.planErr = fmt.Sprintf("plan computation failed: %v", err)
		s.emitLocked(EventPlanFailed, map[string]string{"error": s.planErr})
		s.unlockAndFlush()
		s.metrics.ObservePlan(observability.OutcomeError, elapsed)
		log.Warn(ctx, "plan computation failed", logging.Err(err), logging.Duration("elapsed", elapsed))
		return
	}

	res.KPIs.Normalize()
	s.epoch++
	s.plan = res
	s.planErr = ""
	s.injector.clear()
	s.poller.clearSamples()
	s.poller.start()
	s.emitLocked(EventPlanApplied, map[string]any{
		"towers": len(res.Towers),
		"links":  len(res.Links),
		"tech":   res.Technology(),
	})
	s.unlockAndFlush()

	s.metrics.ObservePlan(observability.OutcomeOK, elapsed)
	log.Info(ctx, "plan applied",
		logging.Int("towers", len(res.Towers)),
		logging.Int("links", len(res.Links)),
		logging.String("tech", res.Technology()),
		logging.Duration("elapsed", elapsed),
	)
	s.sched.RunDue()
}

// Analytics derives cost figures from the current plan. ok is false when
// no plan exists.
func (s *Session) Analytics() (a core.CostAnalytics, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil {
		return core.CostAnalytics{}, false
	}
	return core.DeriveCostAnalytics(s.plan.KPIs), true
}

// Wait blocks until every dispatched request has finished.
func (s *Session) Wait() { s.wg.Wait() }

// Close tears down timers, discards outstanding responses and waits for
// dispatched requests to return.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.epoch++
	s.poller.stop()
	s.injector.clear()
	s.subs = nil
	s.mu.Unlock()
	s.wg.Wait()
}
