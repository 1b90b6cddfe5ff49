package model

import (
	"encoding/json"
	"math"
)

// NetworkPolicy is the traffic policy the resilience service applies for
// the current weather severity.
type NetworkPolicy struct {
	Status          string   `json:"status"`
	BandwidthCap    int      `json:"bandwidth_cap"`
	AllowedApps     []string `json:"allowed_apps"`
	BlockedApps     []string `json:"blocked_apps"`
	PriorityMessage string   `json:"priority_msg,omitempty"`
}

// TelemetryRequest asks for one resilience sample.
type TelemetryRequest struct {
	SectorID   string
	Technology string
	Simulate   bool
}

// ResilienceSample is one telemetry snapshot of weather impact on the
// deployed network. Scores are 0-100.
type ResilienceSample struct {
	SectorID        string        `json:"village_id"`
	Condition       string        `json:"condition" validate:"required"`
	Temperature     string        `json:"temp,omitempty"`
	SeverityScore   int           `json:"severity_score"`
	ResilienceScore int           `json:"resilience_score"`
	SOS             bool          `json:"is_sos_triggered"`
	AlertMessage    string        `json:"alert_message"`
	Policy          NetworkPolicy `json:"network_policy"`
	Timestamp       string        `json:"timestamp"`
}

// UnmarshalJSON tolerates fractional scores and the older
// connectivity_score key some service builds still emit.
func (s *ResilienceSample) UnmarshalJSON(data []byte) error {
	type plain ResilienceSample
	var wire struct {
		plain
		SeverityScore     *float64 `json:"severity_score"`
		ResilienceScore   *float64 `json:"resilience_score"`
		ConnectivityScore *float64 `json:"connectivity_score"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*s = ResilienceSample(wire.plain)
	if wire.SeverityScore != nil {
		s.SeverityScore = roundScore(*wire.SeverityScore)
	}
	switch {
	case wire.ResilienceScore != nil:
		s.ResilienceScore = roundScore(*wire.ResilienceScore)
	case wire.ConnectivityScore != nil:
		s.ResilienceScore = roundScore(*wire.ConnectivityScore)
	}
	return nil
}

// Normalize clamps scores into [0,100].
func (s *ResilienceSample) Normalize() {
	s.SeverityScore = clampScore(s.SeverityScore)
	s.ResilienceScore = clampScore(s.ResilienceScore)
	if s.Policy.BandwidthCap < 0 {
		s.Policy.BandwidthCap = 0
	}
}

// Clone returns a deep copy.
func (s *ResilienceSample) Clone() *ResilienceSample {
	if s == nil {
		return nil
	}
	out := *s
	out.Policy.AllowedApps = append([]string(nil), s.Policy.AllowedApps...)
	out.Policy.BlockedApps = append([]string(nil), s.Policy.BlockedApps...)
	return &out
}

func roundScore(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(math.Round(v))
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
