package schedule

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/gridplanner/timectrl"
)

// EventScheduler runs callbacks at specific clock times. Every timer in the
// console (poll cadence, healing delay) lives here so it can be cancelled
// explicitly and fast-forwarded in tests.
//
// The owner pumps it by calling RunDue after each clock advance; in the
// daemon that is a timectrl.TimeController listener.
type EventScheduler interface {
	// Schedule registers f to run at time 'at' and returns an opaque ID
	// that can be passed to Cancel.
	Schedule(at time.Time, f func()) (id string)

	// Cancel drops a scheduled event. Unknown or already-run IDs are a no-op.
	Cancel(id string)

	// Now returns the scheduler's notion of current time.
	Now() time.Time

	// RunDue executes every event scheduled at or before Now(). Callbacks
	// run outside the scheduler lock and may schedule or cancel events.
	RunDue()

	// Pending returns the number of scheduled, uncancelled events.
	Pending() int
}

type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

type eventScheduler struct {
	clock timectrl.SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // earliest first
	index   map[string]*scheduledEvent
}

// NewEventScheduler creates a scheduler reading time from clock.
func NewEventScheduler(clock timectrl.SimClock) EventScheduler {
	return &eventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

func (s *eventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)

	ev := &scheduledEvent{id: id, when: at, f: f}
	s.events = insertOrdered(s.events, ev)
	s.index[id] = ev
	return id
}

// insertOrdered keeps events sorted by time; events at the same instant
// keep their scheduling order.
func insertOrdered(events []*scheduledEvent, ev *scheduledEvent) []*scheduledEvent {
	idx := sort.Search(len(events), func(i int) bool {
		return events[i].when.After(ev.when)
	})
	events = append(events, nil)
	copy(events[idx+1:], events[idx:])
	events[idx] = ev
	return events
}

func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	// Removal from the slice is lazy; RunDue skips cancelled events.
	ev.cancelled = true
	delete(s.index, id)
}

func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

func (s *eventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// popDueLocked removes and returns the earliest due, uncancelled event.
// Caller must hold s.mu.
func (s *eventScheduler) popDueLocked(now time.Time) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(now) {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

func (s *eventScheduler) RunDue() {
	for {
		now := s.clock.Now()
		s.mu.Lock()
		ev := s.popDueLocked(now)
		s.mu.Unlock()
		if ev == nil {
			return
		}
		if ev.f != nil {
			ev.f()
		}
	}
}
