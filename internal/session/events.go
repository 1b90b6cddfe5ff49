package session

import "time"

// EventKind names a session transition.
type EventKind string

const (
	EventModeChanged      EventKind = "mode_changed"
	EventGeometryChanged  EventKind = "geometry_changed"
	EventSectorChanged    EventKind = "sector_changed"
	EventSessionReset     EventKind = "session_reset"
	EventPlanRequested    EventKind = "plan_requested"
	EventPlanApplied      EventKind = "plan_applied"
	EventPlanFailed       EventKind = "plan_failed"
	EventSimulateChanged  EventKind = "simulate_changed"
	EventTelemetrySample  EventKind = "telemetry_sample"
	EventTelemetryFailed  EventKind = "telemetry_failed"
	EventDroneDispatched  EventKind = "drone_dispatched"
	EventNodeKilled       EventKind = "node_killed"
	EventHealingCompleted EventKind = "healing_completed"
	EventHealingFailed    EventKind = "healing_failed"
)

// Event is emitted to subscribers after the transition it describes has
// been applied. Payload is a copy and safe to retain.
type Event struct {
	Kind     EventKind `json:"kind"`
	SectorID string    `json:"sector_id"`
	Epoch    uint64    `json:"epoch"`
	At       time.Time `json:"at"`
	Payload  any       `json:"payload,omitempty"`
}

type subscriber struct {
	id int
	fn func(Event)
}

// Subscribe registers fn for session events. Callbacks run on the goroutine
// that caused the transition, outside the session lock. It returns an
// unsubscribe function.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// emitLocked queues an event for delivery by unlockAndFlush. Caller must
// hold s.mu.
func (s *Session) emitLocked(kind EventKind, payload any) {
	s.pending = append(s.pending, Event{
		Kind:     kind,
		SectorID: s.sector.ID,
		Epoch:    s.epoch,
		At:       s.sched.Now(),
		Payload:  payload,
	})
}

// unlockAndFlush releases s.mu and then delivers queued events.
func (s *Session) unlockAndFlush() {
	events := s.pending
	s.pending = nil
	var subs []subscriber
	if len(events) > 0 {
		subs = append(subs, s.subs...)
	}
	s.mu.Unlock()

	for _, ev := range events {
		for _, sub := range subs {
			sub.fn(ev)
		}
	}
}
