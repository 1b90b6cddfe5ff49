package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/gridplanner/core"
	"github.com/signalsfoundry/gridplanner/internal/schedule"
	"github.com/signalsfoundry/gridplanner/model"
)

func TestSetModeDrawingRestartsBoundary(t *testing.T) {
	s, _ := newInlineSession(t, newFakeServices())

	_ = s.SetMode(core.ModeDrawing)
	s.Click(model.Point{Lat: 1, Lng: 1})
	s.Click(model.Point{Lat: 1, Lng: 2})
	if got := len(s.Snapshot().Current); got != 2 {
		t.Fatalf("current boundary = %d points, want 2", got)
	}

	_ = s.SetMode(core.ModeDrawing)
	if got := len(s.Snapshot().Current); got != 0 {
		t.Fatalf("re-entering drawing kept %d points", got)
	}
	if err := s.SetMode(core.Mode(42)); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("SetMode(42) err = %v, want ErrInvalidMode", err)
	}
}

func TestDrawingPersistsAcrossClosures(t *testing.T) {
	s, _ := newInlineSession(t, newFakeServices())
	drawTriangle(t, s)
	if s.Mode() != core.ModeDrawing {
		t.Fatalf("mode after closure = %v, want drawing", s.Mode())
	}
	for _, p := range []model.Point{{Lat: 2, Lng: 2}, {Lat: 2, Lng: 3}, {Lat: 3, Lng: 3}, {Lat: 2, Lng: 2}} {
		s.Click(p)
	}
	snap := s.Snapshot()
	if len(snap.Finalized) != 2 {
		t.Fatalf("finalized = %d, want 2", len(snap.Finalized))
	}
	for i, b := range snap.Finalized {
		if len(b) != 3 {
			t.Fatalf("finalized[%d] has %d points, want 3 (closing click excluded)", i, len(b))
		}
	}
}

func TestPlacementIsSingleShot(t *testing.T) {
	s, _ := newInlineSession(t, newFakeServices())
	_ = s.SetMode(core.ModePlacing)

	if got := s.Click(model.Point{Lat: 31.5, Lng: 78.2}); got != core.OutcomeNodePlaced {
		t.Fatalf("Click = %v, want node_placed", got)
	}
	if s.Mode() != core.ModeIdle {
		t.Fatalf("mode after placement = %v, want idle", s.Mode())
	}
	if got := s.Click(model.Point{Lat: 31.6, Lng: 78.3}); got != core.OutcomeIgnored {
		t.Fatalf("second click = %v, want ignored", got)
	}
	if n := len(s.Snapshot().CriticalNodes); n != 1 {
		t.Fatalf("critical nodes = %d, want 1", n)
	}
}

func TestComputePlanWithoutGeometryIsNoop(t *testing.T) {
	svc := newFakeServices()
	metrics := newFakeMetrics()
	s, _ := newInlineSession(t, svc, WithMetrics(metrics))

	_ = s.SetMode(core.ModeDrawing)
	s.Click(model.Point{Lat: 1, Lng: 1})
	s.Click(model.Point{Lat: 1, Lng: 2})

	if err := s.ComputePlan(context.Background()); !errors.Is(err, ErrNoGeometry) {
		t.Fatalf("ComputePlan err = %v, want ErrNoGeometry", err)
	}
	if plan, _, _ := svc.counts(); plan != 0 {
		t.Fatalf("planner called %d times, want 0", plan)
	}
	if s.Snapshot().Loading {
		t.Fatalf("session left loading after rejected plan")
	}
	if metrics.plans["rejected"] != 1 {
		t.Fatalf("rejected plans = %d, want 1", metrics.plans["rejected"])
	}
}

func TestComputePlanIncludesOpenBoundaryAndNodes(t *testing.T) {
	svc := newFakeServices()
	s, _ := newInlineSession(t, svc)

	_ = s.SetMode(core.ModePlacing)
	s.Click(model.Point{Lat: 31.52, Lng: 78.22})
	_ = s.SetMode(core.ModeDrawing)
	s.Click(model.Point{Lat: 1, Lng: 1})
	s.Click(model.Point{Lat: 1, Lng: 2})
	s.Click(model.Point{Lat: 2, Lng: 2})

	if err := s.ComputePlan(context.Background()); err != nil {
		t.Fatalf("ComputePlan: %v", err)
	}
	svc.mu.Lock()
	req := svc.planReq
	svc.mu.Unlock()
	if len(req.Polygons) != 1 || len(req.Polygons[0]) != 3 {
		t.Fatalf("polygons = %v, want the open triangle", req.Polygons)
	}
	if len(req.CriticalNodes) != 1 || req.TerrainType != model.TerrainRocky {
		t.Fatalf("request = %+v", req)
	}
}

func TestComputePlanAppliesResultAndPollsImmediately(t *testing.T) {
	svc := newFakeServices()
	s, sched := planned(t, svc)

	snap := s.Snapshot()
	if snap.Loading || snap.PlanError != "" {
		t.Fatalf("loading=%v planError=%q after success", snap.Loading, snap.PlanError)
	}
	if len(snap.Plan.Towers) != 3 {
		t.Fatalf("towers = %d, want 3", len(snap.Plan.Towers))
	}
	if _, telemetry, _ := svc.counts(); telemetry != 1 {
		t.Fatalf("telemetry calls = %d, want one immediate poll", telemetry)
	}
	if !snap.Telemetry.Active || snap.Telemetry.IntervalMillis != 5000 {
		t.Fatalf("poller = %+v, want active at 5s", snap.Telemetry)
	}
	svc.mu.Lock()
	req := svc.telemetryReq
	svc.mu.Unlock()
	if req.SectorID != "kalpa" || req.Technology != "Microwave" || req.Simulate {
		t.Fatalf("telemetry request = %+v", req)
	}

	sched.Advance(4 * time.Second)
	if _, telemetry, _ := svc.counts(); telemetry != 1 {
		t.Fatalf("polled early: %d calls", telemetry)
	}
	sched.Advance(time.Second)
	if _, telemetry, _ := svc.counts(); telemetry != 2 {
		t.Fatalf("telemetry calls = %d after one interval, want 2", telemetry)
	}
}

func TestComputePlanWhileLoadingIsRejected(t *testing.T) {
	svc := newFakeServices()
	q := &taskQueue{}
	s, _ := newInlineSession(t, svc, WithDispatcher(q.dispatch))
	drawTriangle(t, s)

	if err := s.ComputePlan(context.Background()); err != nil {
		t.Fatalf("first ComputePlan: %v", err)
	}
	if !s.Snapshot().Loading {
		t.Fatalf("session not loading while request outstanding")
	}
	if err := s.ComputePlan(context.Background()); !errors.Is(err, ErrPlanInFlight) {
		t.Fatalf("second ComputePlan err = %v, want ErrPlanInFlight", err)
	}
	if q.len() != 1 {
		t.Fatalf("dispatched %d requests, want 1", q.len())
	}

	q.runNext(t)
	if s.Snapshot().Loading {
		t.Fatalf("loading not reset after response")
	}
	if plan, _, _ := svc.counts(); plan != 1 {
		t.Fatalf("planner called %d times, want 1", plan)
	}
}

func TestComputePlanFailureKeepsPriorResult(t *testing.T) {
	svc := newFakeServices()
	metrics := newFakeMetrics()
	s, _ := planned(t, svc, WithMetrics(metrics))
	before := s.Snapshot()

	svc.set(func(f *fakeServices) { f.planErr = errors.New("optimizer offline") })
	if err := s.ComputePlan(context.Background()); err != nil {
		t.Fatalf("ComputePlan: %v", err)
	}

	after := s.Snapshot()
	if after.Loading {
		t.Fatalf("loading not reset after failure")
	}
	if after.PlanError == "" {
		t.Fatalf("failure not surfaced")
	}
	if after.Plan == nil || len(after.Plan.Towers) != len(before.Plan.Towers) {
		t.Fatalf("prior plan was not preserved: %+v", after.Plan)
	}
	if after.Epoch != before.Epoch {
		t.Fatalf("failed plan bumped epoch %d -> %d", before.Epoch, after.Epoch)
	}
	if metrics.plans["error"] != 1 || metrics.plans["ok"] != 1 {
		t.Fatalf("plan metrics = %v", metrics.plans)
	}
}

func TestNewPlanClearsFailureAndTelemetry(t *testing.T) {
	svc := newFakeServices()
	s, sched := planned(t, svc)

	if _, err := s.KillNode(context.Background(), "T3"); err != nil {
		t.Fatalf("KillNode: %v", err)
	}
	sched.Advance(5 * time.Second)
	snap := s.Snapshot()
	if snap.Failure == nil || len(snap.HealingLog) == 0 || len(snap.Telemetry.Log) < 2 {
		t.Fatalf("setup did not produce failure and telemetry state: %+v", snap)
	}

	svc.set(func(f *fakeServices) { f.sampleErr = errors.New("down") })
	if err := s.ComputePlan(context.Background()); err != nil {
		t.Fatalf("ComputePlan: %v", err)
	}
	snap = s.Snapshot()
	if snap.Failure != nil || len(snap.HealingLog) != 0 {
		t.Fatalf("failure state survived new plan: %+v %v", snap.Failure, snap.HealingLog)
	}
	if snap.Telemetry.Sample != nil || len(snap.Telemetry.Log) != 0 {
		t.Fatalf("telemetry survived new plan: %+v", snap.Telemetry)
	}
	if !snap.Telemetry.Active {
		t.Fatalf("poller not active after new plan")
	}
}

func TestSelectSectorResetsEverything(t *testing.T) {
	svc := newFakeServices()
	svc.samples = []*model.ResilienceSample{testSample(30, true)}
	s, sched := planned(t, svc)

	if _, err := s.KillNode(context.Background(), "T2"); err != nil {
		t.Fatalf("KillNode: %v", err)
	}
	_ = s.SetSimulate(true)
	_ = s.DispatchDrone()
	_ = s.SetMode(core.ModePlacing)
	s.Click(model.Point{Lat: 31.5, Lng: 78.2})
	_ = s.SetMode(core.ModeDrawing)
	s.Click(model.Point{Lat: 1, Lng: 1})

	if err := s.SelectSector(chitkul); err != nil {
		t.Fatalf("SelectSector: %v", err)
	}

	snap := s.Snapshot()
	if snap.Sector.ID != "chitkul" || snap.TerrainDescription != model.TerrainSnow.Description() {
		t.Fatalf("sector = %+v", snap.Sector)
	}
	if len(snap.Finalized) != 0 || len(snap.Current) != 0 || len(snap.CriticalNodes) != 0 {
		t.Fatalf("geometry survived sector change: %+v", snap)
	}
	if snap.Plan != nil || snap.Failure != nil || snap.Telemetry.Sample != nil || snap.Analytics != nil {
		t.Fatalf("derived state survived sector change: %+v", snap)
	}
	if snap.Mode != "idle" || snap.Loading {
		t.Fatalf("mode=%s loading=%v, want idle/false", snap.Mode, snap.Loading)
	}
	if snap.Telemetry.Active || snap.Telemetry.Simulate || snap.Telemetry.DroneDispatched {
		t.Fatalf("telemetry state survived sector change: %+v", snap.Telemetry)
	}
	if n := sched.Pending(); n != 0 {
		t.Fatalf("%d timers leaked across sector change", n)
	}

	_, before, _ := svc.counts()
	sched.Advance(time.Minute)
	if _, after, _ := svc.counts(); after != before {
		t.Fatalf("poller kept running after sector change: %d -> %d", before, after)
	}

	// Selecting again from an already clean state is a no-op reset.
	if err := s.SelectSector(chitkul); err != nil {
		t.Fatalf("SelectSector: %v", err)
	}
	if s.Snapshot().Plan != nil || sched.Pending() != 0 {
		t.Fatalf("second SelectSector left state behind")
	}
}

func TestResetKeepsSector(t *testing.T) {
	svc := newFakeServices()
	s, sched := planned(t, svc)

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	snap := s.Snapshot()
	if snap.Sector.ID != "kalpa" {
		t.Fatalf("Reset changed sector to %q", snap.Sector.ID)
	}
	if snap.Plan != nil || len(snap.Finalized) != 0 || snap.Mode != "idle" {
		t.Fatalf("Reset left state: %+v", snap)
	}
	if sched.Pending() != 0 {
		t.Fatalf("Reset leaked %d timers", sched.Pending())
	}
}

func TestStalePlanResponseAfterSectorSwitch(t *testing.T) {
	svc := newFakeServices()
	q := &taskQueue{}
	s, sched := newInlineSession(t, svc, WithDispatcher(q.dispatch))
	drawTriangle(t, s)

	if err := s.ComputePlan(context.Background()); err != nil {
		t.Fatalf("ComputePlan: %v", err)
	}
	_ = s.SelectSector(chitkul)
	q.runNext(t)

	snap := s.Snapshot()
	if snap.Plan != nil || snap.Loading {
		t.Fatalf("stale plan applied to new sector: plan=%v loading=%v", snap.Plan != nil, snap.Loading)
	}
	if sched.Pending() != 0 {
		t.Fatalf("stale plan started a poller")
	}
}

func TestAnalyticsFromSession(t *testing.T) {
	s, _ := newInlineSession(t, newFakeServices())
	if _, ok := s.Analytics(); ok {
		t.Fatalf("analytics available without a plan")
	}
	drawTriangle(t, s)
	_ = s.ComputePlan(context.Background())

	a, ok := s.Analytics()
	if !ok {
		t.Fatalf("analytics unavailable after plan")
	}
	if a.StandardCost != 1_650_000 || a.Savings != 650_000 {
		t.Fatalf("analytics = %+v", a)
	}
	if snap := s.Snapshot(); snap.Analytics == nil || snap.Analytics.StandardCost != a.StandardCost {
		t.Fatalf("snapshot analytics = %+v", snap.Analytics)
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	svc := newFakeServices()
	s, _ := newInlineSession(t, svc)

	var kinds []EventKind
	unsubscribe := s.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })
	drawTriangle(t, s)
	_ = s.ComputePlan(context.Background())

	want := map[EventKind]bool{
		EventModeChanged:     false,
		EventGeometryChanged: false,
		EventPlanRequested:   false,
		EventPlanApplied:     false,
		EventTelemetrySample: false,
	}
	for _, k := range kinds {
		if _, ok := want[k]; ok {
			want[k] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Fatalf("event %s not delivered; got %v", k, kinds)
		}
	}

	unsubscribe()
	n := len(kinds)
	_ = s.Reset()
	if len(kinds) != n {
		t.Fatalf("events delivered after unsubscribe")
	}
}

func TestSubscriberMayReadSession(t *testing.T) {
	s, _ := newInlineSession(t, newFakeServices())
	var modes []string
	s.Subscribe(func(ev Event) {
		if ev.Kind == EventModeChanged {
			modes = append(modes, s.Snapshot().Mode)
		}
	})
	_ = s.SetMode(core.ModePlacing)
	if len(modes) != 1 || modes[0] != "placing" {
		t.Fatalf("subscriber saw %v", modes)
	}
}

func TestCloseStopsEverything(t *testing.T) {
	svc := newFakeServices()
	sched := schedule.NewFakeEventScheduler(t0)
	s := New(kalpa, svc.services(), sched, WithDispatcher(Inline))
	drawTriangle(t, s)
	_ = s.ComputePlan(context.Background())

	s.Close()
	s.Close()
	if sched.Pending() != 0 {
		t.Fatalf("Close leaked %d timers", sched.Pending())
	}
	if err := s.ComputePlan(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("ComputePlan after Close err = %v, want ErrClosed", err)
	}
	if err := s.Reset(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Reset after Close err = %v", err)
	}
}

func TestGoroutineDispatchCompletes(t *testing.T) {
	svc := newFakeServices()
	sched := schedule.NewFakeEventScheduler(t0)
	s := New(kalpa, svc.services(), sched)
	defer s.Close()

	drawTriangle(t, s)
	if err := s.ComputePlan(context.Background()); err != nil {
		t.Fatalf("ComputePlan: %v", err)
	}
	s.Wait()
	if s.Snapshot().Plan == nil {
		t.Fatalf("plan not applied after Wait")
	}
}
