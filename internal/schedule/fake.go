package schedule

import (
	"fmt"
	"sync"
	"time"
)

// FakeEventScheduler keeps its own clock that only moves when a test calls
// Advance or AdvanceTo, so timer-driven behaviour runs deterministically.
type FakeEventScheduler struct {
	mu      sync.Mutex
	now     time.Time
	counter uint64

	events []*scheduledEvent // earliest first
	index  map[string]*scheduledEvent
}

// NewFakeEventScheduler creates a fake scheduler starting at start.
func NewFakeEventScheduler(start time.Time) *FakeEventScheduler {
	return &FakeEventScheduler{
		now:   start,
		index: make(map[string]*scheduledEvent),
	}
}

// Now returns the fake current time.
func (s *FakeEventScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule registers a callback at the given fake time.
func (s *FakeEventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("fake-ev-%d", s.counter)
	ev := &scheduledEvent{id: id, when: at, f: f}
	s.events = insertOrdered(s.events, ev)
	s.index[id] = ev
	return id
}

// Cancel drops a scheduled event.
func (s *FakeEventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev, ok := s.index[id]; ok {
		ev.cancelled = true
		delete(s.index, id)
	}
}

// Pending returns the number of scheduled, uncancelled events.
func (s *FakeEventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// NextAt returns the time of the earliest pending event.
func (s *FakeEventScheduler) NextAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if !ev.cancelled {
			return ev.when, true
		}
	}
	return time.Time{}, false
}

// RunDue executes all events scheduled at or before the fake now.
func (s *FakeEventScheduler) RunDue() {
	for {
		s.mu.Lock()
		var next *scheduledEvent
		for len(s.events) > 0 {
			ev := s.events[0]
			if ev.when.After(s.now) {
				break
			}
			s.events = s.events[1:]
			if ev.cancelled {
				continue
			}
			delete(s.index, ev.id)
			next = ev
			break
		}
		s.mu.Unlock()

		if next == nil {
			return
		}
		if next.f != nil {
			next.f()
		}
	}
}

// AdvanceTo moves fake time to t and runs everything that became due.
// Time never moves backwards.
func (s *FakeEventScheduler) AdvanceTo(t time.Time) {
	s.mu.Lock()
	if t.After(s.now) {
		s.now = t
	}
	s.mu.Unlock()
	s.RunDue()
}

// Advance moves fake time forward by d.
func (s *FakeEventScheduler) Advance(d time.Duration) {
	s.AdvanceTo(s.Now().Add(d))
}
