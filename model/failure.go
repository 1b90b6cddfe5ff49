package model

import "time"

// HealingStatus tracks a simulated node failure through mesh recovery.
type HealingStatus string

const (
	HealingIdle   HealingStatus = "idle"
	HealingActive HealingStatus = "healing"
	HealingHealed HealingStatus = "healed"
	HealingFailed HealingStatus = "error"
)

// Terminal reports whether the status no longer changes on its own.
func (s HealingStatus) Terminal() bool {
	return s == HealingHealed || s == HealingFailed
}

// FailureEvent is the lifecycle of one killed tower. Only one is active
// per session.
type FailureEvent struct {
	ID               string        `json:"id"`
	DeadTowerID      string        `json:"dead_tower_id"`
	Status           HealingStatus `json:"status"`
	ReplacementLinks []Link        `json:"replacement_links,omitempty"`
	Error            string        `json:"error,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// Clone returns a deep copy.
func (e *FailureEvent) Clone() *FailureEvent {
	if e == nil {
		return nil
	}
	out := *e
	out.ReplacementLinks = append([]Link(nil), e.ReplacementLinks...)
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// RerouteRequest carries the full tower set and the tower that died.
type RerouteRequest struct {
	Towers     []Tower `json:"towers"`
	DeadNodeID string  `json:"dead_node_id"`
}

// RerouteResult is the replacement mesh computed around the dead tower.
type RerouteResult struct {
	NewLinks []Link `json:"new_links"`
}
