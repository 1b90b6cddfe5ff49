package session

import (
	"github.com/signalsfoundry/gridplanner/core"
	"github.com/signalsfoundry/gridplanner/model"
)

// Snapshot is a consistent copy of the whole session, safe to retain and
// serialise.
type Snapshot struct {
	Sector             model.Sector         `json:"sector"`
	TerrainDescription string               `json:"terrain_description"`
	Mode               string               `json:"mode"`
	Finalized          []model.Boundary     `json:"finalized"`
	Current            model.Boundary       `json:"current"`
	CriticalNodes      []model.CriticalNode `json:"critical_nodes"`
	Ready              bool                 `json:"ready"`

	Loading   bool                `json:"loading"`
	Plan      *model.PlanResult   `json:"plan,omitempty"`
	PlanError string              `json:"plan_error,omitempty"`
	Analytics *core.CostAnalytics `json:"analytics,omitempty"`

	Telemetry TelemetrySnapshot `json:"telemetry"`

	Failure       *model.FailureEvent `json:"failure,omitempty"`
	HealingStatus model.HealingStatus `json:"healing_status"`
	HealingLog    []string            `json:"healing_log"`

	Epoch uint64 `json:"epoch"`
}

// TelemetrySnapshot is the poller's view within a Snapshot.
type TelemetrySnapshot struct {
	Active          bool                    `json:"active"`
	Simulate        bool                    `json:"simulate"`
	IntervalMillis  int64                   `json:"interval_ms"`
	Sample          *model.ResilienceSample `json:"sample,omitempty"`
	Log             []string                `json:"log"`
	Failures        int                     `json:"failures"`
	LastError       string                  `json:"last_error,omitempty"`
	DroneDispatched bool                    `json:"drone_dispatched"`
}

// Snapshot returns a deep copy of the session state. Analytics are derived
// on every call.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Sector:             s.sector,
		TerrainDescription: s.sector.Terrain.Description(),
		Mode:               s.mode.Mode().String(),
		Finalized:          s.geometry.Finalized(),
		Current:            s.geometry.Current(),
		CriticalNodes:      s.geometry.CriticalNodes(),
		Ready:              s.geometry.Ready(),
		Loading:            s.loading,
		Plan:               s.plan.Clone(),
		PlanError:          s.planErr,
		Failure:            s.injector.event.Clone(),
		HealingStatus:      s.injector.status(),
		HealingLog:         append([]string{}, s.injector.log...),
		Epoch:              s.epoch,
	}
	if s.plan != nil {
		a := core.DeriveCostAnalytics(s.plan.KPIs)
		snap.Analytics = &a
	}

	p := s.poller
	snap.Telemetry = TelemetrySnapshot{
		Active:          p.active(),
		Simulate:        p.simulate,
		Sample:          p.sample.Clone(),
		Log:             append([]string{}, p.log...),
		Failures:        p.failures,
		LastError:       p.lastError,
		DroneDispatched: p.drone,
	}
	if snap.Telemetry.Active {
		snap.Telemetry.IntervalMillis = p.interval().Milliseconds()
	}
	return snap
}
