package core

import (
	"math"

	"github.com/signalsfoundry/gridplanner/model"
)

// LegacyMarkup is the assumed industry markup over the planned capex when
// the planning service does not supply its own conventional baseline.
const LegacyMarkup = 1.65

// CostAnalytics compares a plan's capex against a conventional rollout.
type CostAnalytics struct {
	Capex        float64 `json:"capex"`
	StandardCost float64 `json:"standard_cost"`
	Savings      float64 `json:"savings"`
	SavingsRatio float64 `json:"savings_ratio"`
	// BarHeight is capex as a percentage of the standard cost, clamped to
	// [0,100] for side-by-side display.
	BarHeight float64 `json:"bar_height"`
	// ServiceBaseline is true when StandardCost came from the service
	// rather than the markup fallback.
	ServiceBaseline bool `json:"service_baseline"`
}

// DeriveCostAnalytics computes the cost comparison from KPIs. It is pure
// and cheap; callers recompute it on every read.
func DeriveCostAnalytics(k model.KPIs) CostAnalytics {
	capex := finiteOrZero(k.Capex)

	out := CostAnalytics{Capex: capex}
	if k.LegacyCapex != nil && finiteOrZero(*k.LegacyCapex) != 0 {
		out.StandardCost = *k.LegacyCapex
		out.ServiceBaseline = true
	} else {
		out.StandardCost = capex * LegacyMarkup
	}

	out.Savings = out.StandardCost - capex
	if out.StandardCost != 0 {
		out.SavingsRatio = out.Savings / out.StandardCost
		out.BarHeight = clamp(capex/out.StandardCost*100, 0, 100)
	}
	return out
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
