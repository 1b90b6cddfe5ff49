package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/gridplanner/core"
	"github.com/signalsfoundry/gridplanner/internal/schedule"
	"github.com/signalsfoundry/gridplanner/model"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

var (
	kalpa   = model.Sector{ID: "kalpa", Name: "Kalpa", Center: model.Point{Lat: 31.5372, Lng: 78.2562}, Terrain: model.TerrainRocky}
	chitkul = model.Sector{ID: "chitkul", Name: "Chitkul", Center: model.Point{Lat: 31.3526, Lng: 78.4379}, Terrain: model.TerrainSnow}
)

// fakeServices implements all three collaborators with canned responses.
type fakeServices struct {
	mu sync.Mutex

	plan      *model.PlanResult
	planErr   error
	planCalls int
	planReq   model.PlanRequest

	samples        []*model.ResilienceSample
	sampleErr      error
	telemetryCalls int
	telemetryReq   model.TelemetryRequest

	reroute      *model.RerouteResult
	rerouteErr   error
	rerouteCalls int
	rerouteReq   model.RerouteRequest
}

func newFakeServices() *fakeServices {
	return &fakeServices{
		plan:    testPlan(),
		samples: []*model.ResilienceSample{testSample(42, false)},
		reroute: &model.RerouteResult{NewLinks: []model.Link{
			{From: model.Point{Lat: 31.50, Lng: 78.20}, To: model.Point{Lat: 31.52, Lng: 78.22}},
		}},
	}
}

func (f *fakeServices) services() Services {
	return Services{Planner: f, Telemetry: f, Rerouter: f}
}

func (f *fakeServices) ComputePlan(_ context.Context, req model.PlanRequest) (*model.PlanResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planCalls++
	f.planReq = req
	if f.planErr != nil {
		return nil, f.planErr
	}
	return f.plan.Clone(), nil
}

func (f *fakeServices) Resilience(_ context.Context, req model.TelemetryRequest) (*model.ResilienceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.telemetryCalls++
	f.telemetryReq = req
	if f.sampleErr != nil {
		return nil, f.sampleErr
	}
	idx := f.telemetryCalls - 1
	if idx >= len(f.samples) {
		idx = len(f.samples) - 1
	}
	return f.samples[idx].Clone(), nil
}

func (f *fakeServices) Reroute(_ context.Context, req model.RerouteRequest) (*model.RerouteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rerouteCalls++
	f.rerouteReq = req
	if f.rerouteErr != nil {
		return nil, f.rerouteErr
	}
	out := *f.reroute
	out.NewLinks = append([]model.Link(nil), f.reroute.NewLinks...)
	return &out, nil
}

func (f *fakeServices) counts() (plan, telemetry, reroute int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.planCalls, f.telemetryCalls, f.rerouteCalls
}

func (f *fakeServices) set(fn func(f *fakeServices)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func testPlan() *model.PlanResult {
	return &model.PlanResult{
		Towers: []model.Tower{
			{ID: "T1", Lat: 31.53, Lng: 78.25, Type: "master_hub", Tech: "Microwave"},
			{ID: "T2", Lat: 31.54, Lng: 78.26, Type: "anchor", Tech: "Microwave"},
			{ID: "T3", Lat: 31.55, Lng: 78.27, Type: "relay", Tech: "Microwave"},
		},
		Links: []model.Link{
			{From: model.Point{Lat: 31.53, Lng: 78.25}, To: model.Point{Lat: 31.54, Lng: 78.26}},
		},
		KPIs:      model.KPIs{TotalTowers: 3, Area: 4.2, Capex: 1_000_000},
		Breakdown: model.TerrainBreakdown{Radius: 3.5, Tech: "Microwave"},
	}
}

func testSample(score int, sos bool) *model.ResilienceSample {
	s := &model.ResilienceSample{
		SectorID:        "kalpa",
		Condition:       "Blizzard",
		SeverityScore:   100 - score,
		ResilienceScore: score,
		SOS:             sos,
		Policy: model.NetworkPolicy{
			Status:       "THROTTLED",
			BandwidthCap: 10,
			AllowedApps:  []string{"sms", "voice"},
			BlockedApps:  []string{"video"},
		},
	}
	if sos {
		s.AlertMessage = "Avalanche warning"
	}
	return s
}

// taskQueue is a Dispatcher that holds requests until the test releases
// them, so responses can be delivered after arbitrary transitions.
type taskQueue struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *taskQueue) dispatch(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// runNext delivers the oldest held request.
func (q *taskQueue) runNext(t *testing.T) {
	t.Helper()
	q.runAt(t, 0)
}

// runAt delivers the i-th held request out of order.
func (q *taskQueue) runAt(t *testing.T, i int) {
	t.Helper()
	q.mu.Lock()
	if i >= len(q.tasks) {
		q.mu.Unlock()
		t.Fatalf("no dispatched task at index %d (have %d)", i, len(q.tasks))
	}
	task := q.tasks[i]
	q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
	q.mu.Unlock()
	task()
}

// fakeMetrics counts recorder calls.
type fakeMetrics struct {
	mu          sync.Mutex
	plans       map[string]int
	polls       map[string]int
	failures    map[string]int
	activations int
	deactivated int
	lastSOS     bool
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{plans: map[string]int{}, polls: map[string]int{}, failures: map[string]int{}}
}

func (m *fakeMetrics) ObservePlan(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[outcome]++
}

func (m *fakeMetrics) ObservePoll(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls[outcome]++
}

func (m *fakeMetrics) SetLatestSample(_, _ int, sos bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSOS = sos
}

func (m *fakeMetrics) SetPollerActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if active {
		m.activations++
	} else {
		m.deactivated++
	}
}

func (m *fakeMetrics) ObserveFailure(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[outcome]++
}

func newInlineSession(t *testing.T, svc *fakeServices, opts ...Option) (*Session, *schedule.FakeEventScheduler) {
	t.Helper()
	sched := schedule.NewFakeEventScheduler(t0)
	opts = append([]Option{WithDispatcher(Inline)}, opts...)
	s := New(kalpa, svc.services(), sched, opts...)
	t.Cleanup(s.Close)
	return s, sched
}

// drawTriangle draws and closes one three-vertex boundary.
func drawTriangle(t *testing.T, s *Session) {
	t.Helper()
	if err := s.SetMode(core.ModeDrawing); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	for _, p := range []model.Point{
		{Lat: 31.50, Lng: 78.20},
		{Lat: 31.50, Lng: 78.21},
		{Lat: 31.51, Lng: 78.21},
	} {
		if got := s.Click(p); got != core.OutcomeVertexAdded {
			t.Fatalf("Click(%v) = %v, want vertex_added", p, got)
		}
	}
	if got := s.Click(model.Point{Lat: 31.5001, Lng: 78.2001}); got != core.OutcomeBoundaryClosed {
		t.Fatalf("closing click = %v, want boundary_closed", got)
	}
}

// planned returns an inline session with one applied plan.
func planned(t *testing.T, svc *fakeServices, opts ...Option) (*Session, *schedule.FakeEventScheduler) {
	t.Helper()
	s, sched := newInlineSession(t, svc, opts...)
	drawTriangle(t, s)
	if err := s.ComputePlan(context.Background()); err != nil {
		t.Fatalf("ComputePlan: %v", err)
	}
	if s.Snapshot().Plan == nil {
		t.Fatalf("plan not applied")
	}
	return s, sched
}
