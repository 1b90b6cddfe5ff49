package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/gridplanner/internal/logging"
	"github.com/signalsfoundry/gridplanner/internal/observability"
	"github.com/signalsfoundry/gridplanner/internal/schedule"
	"github.com/signalsfoundry/gridplanner/model"
)

// FailureInjector tracks one simulated tower failure through mesh
// recovery. A successful reroute is held back for the healing delay before
// it is published.
//
// The injector is owned by its Session and every method runs under the
// session lock.
type FailureInjector struct {
	sched   schedule.EventScheduler
	delay   time.Duration
	logSize int

	event        *model.FailureEvent
	pendingLinks []model.Link
	timerID      string
	log          []string
}

func newFailureInjector(sched schedule.EventScheduler, cfg Config) *FailureInjector {
	return &FailureInjector{
		sched:   sched,
		delay:   cfg.HealingDelay,
		logSize: cfg.HealingLogSize,
	}
}

func (f *FailureInjector) healing() bool {
	return f.event != nil && !f.event.Status.Terminal()
}

// status reports idle when no tower has been killed since the last clear.
func (f *FailureInjector) status() model.HealingStatus {
	if f.event == nil {
		return model.HealingIdle
	}
	return f.event.Status
}

// matches reports whether id names the event still awaiting an outcome.
func (f *FailureInjector) matches(id string) bool {
	return f.healing() && f.event.ID == id
}

func (f *FailureInjector) begin(towerID string, now time.Time) *model.FailureEvent {
	f.cancelTimer()
	f.pendingLinks = nil
	f.event = &model.FailureEvent{
		ID:          uuid.NewString(),
		DeadTowerID: towerID,
		Status:      model.HealingActive,
		StartedAt:   now,
	}
	return f.event
}

func (f *FailureInjector) fail(err error, now time.Time) {
	f.cancelTimer()
	f.pendingLinks = nil
	f.event.Status = model.HealingFailed
	f.event.Error = err.Error()
	f.event.CompletedAt = &now
}

func (f *FailureInjector) heal(now time.Time) {
	f.timerID = ""
	f.event.Status = model.HealingHealed
	f.event.ReplacementLinks = f.pendingLinks
	f.event.CompletedAt = &now
	f.pendingLinks = nil
	f.log = prependBounded(f.log, f.logSize,
		fmt.Sprintf("NODE %s FAILED", f.event.DeadTowerID),
		"REROUTING MESH...",
		"PATH RESTORED VIA NEIGHBORS",
	)
}

func (f *FailureInjector) cancelTimer() {
	if f.timerID != "" {
		f.sched.Cancel(f.timerID)
		f.timerID = ""
	}
}

// clear drops the failure event, the healing log and any pending timer.
func (f *FailureInjector) clear() {
	f.cancelTimer()
	f.event = nil
	f.pendingLinks = nil
	f.log = nil
}

// KillNode marks towerID as dead and asks the reroute service for a
// replacement mesh. The returned event is already in the healing state;
// the outcome arrives asynchronously.
func (s *Session) KillNode(ctx context.Context, towerID string) (*model.FailureEvent, error) {
	ctx, log := logging.WithOperationLogger(ctx, s.log)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.plan == nil {
		s.mu.Unlock()
		return nil, ErrNoPlan
	}
	if _, ok := s.plan.Tower(towerID); !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownTower, towerID)
	}
	if s.injector.healing() {
		s.mu.Unlock()
		return nil, ErrHealingInProgress
	}

	ev := s.injector.begin(towerID, s.sched.Now())
	req := model.RerouteRequest{
		Towers:     append([]model.Tower(nil), s.plan.Towers...),
		DeadNodeID: towerID,
	}
	epoch, eventID := s.epoch, ev.ID
	out := ev.Clone()
	s.emitLocked(EventNodeKilled, ev.Clone())
	s.unlockAndFlush()

	log.Info(ctx, "node killed", logging.String("tower", towerID), logging.String("event", eventID))

	reqCtx := context.WithoutCancel(ctx)
	s.dispatch(func() {
		ctx, cancel := context.WithTimeout(reqCtx, s.cfg.RequestTimeout)
		defer cancel()
		res, err := s.svc.Rerouter.Reroute(ctx, req)
		if err == nil && res == nil {
			err = fmt.Errorf("reroute service returned no result")
		}
		s.applyReroute(ctx, log, epoch, eventID, res, err)
	})
	return out, nil
}

func (s *Session) applyReroute(ctx context.Context, log logging.Logger, epoch uint64, eventID string, res *model.RerouteResult, err error) {
	s.mu.Lock()
	f := s.injector
	if s.closed || epoch != s.epoch || !f.matches(eventID) {
		s.mu.Unlock()
		s.metrics.ObserveFailure(observability.OutcomeStale)
		log.Debug(ctx, "discarding stale reroute response", logging.String("event", eventID))
		return
	}

	if err != nil {
		f.fail(err, s.sched.Now())
		s.emitLocked(EventHealingFailed, f.event.Clone())
		s.unlockAndFlush()
		s.metrics.ObserveFailure(observability.OutcomeError)
		log.Warn(ctx, "reroute failed", logging.Err(err), logging.String("event", eventID))
		return
	}

	f.pendingLinks = append([]model.Link(nil), res.NewLinks...)
	f.timerID = s.sched.Schedule(s.sched.Now().Add(f.delay), func() {
		s.completeHealing(epoch, eventID)
	})
	s.unlockAndFlush()

	log.Debug(ctx, "reroute received; healing",
		logging.Int("new_links", len(res.NewLinks)),
		logging.Duration("delay", f.delay),
	)
	s.sched.RunDue()
}

func (s *Session) completeHealing(epoch uint64, eventID string) {
	s.mu.Lock()
	f := s.injector
	if s.closed || epoch != s.epoch || !f.matches(eventID) {
		s.mu.Unlock()
		return
	}
	f.heal(s.sched.Now())
	links := len(f.event.ReplacementLinks)
	tower := f.event.DeadTowerID
	s.emitLocked(EventHealingCompleted, f.event.Clone())
	s.unlockAndFlush()

	s.metrics.ObserveFailure(observability.OutcomeOK)
	s.log.Info(context.Background(), "mesh healed",
		logging.String("tower", tower),
		logging.String("event", eventID),
		logging.Int("new_links", links),
	)
}
