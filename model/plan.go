package model

import "math"

// PlanRequest is rebuilt for every computation and never stored.
type PlanRequest struct {
	Polygons      [][]Point `json:"polygons"`
	CriticalNodes []Point   `json:"critical_nodes"`
	TerrainType   Terrain   `json:"terrain_type"`
}

// Tower is a placed site in a computed plan.
type Tower struct {
	ID   string  `json:"id" validate:"required"`
	Lat  float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng  float64 `json:"lng" validate:"gte=-180,lte=180"`
	Type string  `json:"type"` // role label from the planning service, e.g. master_hub
	Tech string  `json:"tech,omitempty"`
}

// Position returns the tower location as a Point.
func (t Tower) Position() Point { return Point{Lat: t.Lat, Lng: t.Lng} }

// Link is one edge of the planned mesh.
type Link struct {
	From Point `json:"from"`
	To   Point `json:"to"`
}

// KPIs are the headline numbers of a plan. LegacyCapex is the service's
// conventional-deployment baseline and may be absent.
type KPIs struct {
	TotalTowers int      `json:"total_towers"`
	Area        float64  `json:"area"`
	Capex       float64  `json:"capex"`
	LegacyCapex *float64 `json:"legacy_capex,omitempty"`
}

// Normalize replaces non-finite or negative figures with zero so derived
// analytics never see garbage from the wire.
func (k *KPIs) Normalize() {
	if k.TotalTowers < 0 {
		k.TotalTowers = 0
	}
	k.Area = nonNegative(k.Area)
	k.Capex = nonNegative(k.Capex)
	if k.LegacyCapex != nil {
		v := nonNegative(*k.LegacyCapex)
		k.LegacyCapex = &v
	}
}

// TerrainBreakdown is the service's technology choice for the terrain.
type TerrainBreakdown struct {
	Radius float64 `json:"radius"`
	Tech   string  `json:"tech"`
}

// PlanResult is the authoritative topology for the current geometry. It is
// replaced wholesale by every successful computation.
type PlanResult struct {
	Towers    []Tower          `json:"towers" validate:"dive"`
	Links     []Link           `json:"links"`
	KPIs      KPIs             `json:"kpis"`
	Breakdown TerrainBreakdown `json:"terrain_breakdown"`
	Logs      []string         `json:"logs,omitempty"`
}

// Technology is the selected technology label, empty when the service
// omitted the breakdown.
func (r *PlanResult) Technology() string {
	if r == nil {
		return ""
	}
	return r.Breakdown.Tech
}

// EffectiveRadius is the per-tower coverage radius in kilometres.
func (r *PlanResult) EffectiveRadius() float64 {
	if r == nil {
		return 0
	}
	return r.Breakdown.Radius
}

// Tower looks up a tower by ID.
func (r *PlanResult) Tower(id string) (Tower, bool) {
	if r == nil {
		return Tower{}, false
	}
	for _, t := range r.Towers {
		if t.ID == id {
			return t, true
		}
	}
	return Tower{}, false
}

// Clone returns a deep copy.
func (r *PlanResult) Clone() *PlanResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Towers = append([]Tower(nil), r.Towers...)
	out.Links = append([]Link(nil), r.Links...)
	out.Logs = append([]string(nil), r.Logs...)
	if r.KPIs.LegacyCapex != nil {
		v := *r.KPIs.LegacyCapex
		out.KPIs.LegacyCapex = &v
	}
	return &out
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
