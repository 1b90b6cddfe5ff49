package schedule

import (
	"sync"
	"time"
)

// PeriodicTask runs a function on a fixed interval on top of an
// EventScheduler. Start fires the first run at the current time rather
// than one interval later. Stop tears the pending run down; Restart is
// Stop followed by Start with a new interval.
//
// Missed runs are dropped: the next run is always scheduled one interval
// after the run that just fired.
type PeriodicTask struct {
	sched EventScheduler
	fn    func()

	mu       sync.Mutex
	running  bool
	interval time.Duration
	eventID  string
	gen      uint64

	starts uint64
	stops  uint64
}

// NewPeriodicTask binds fn to sched. The task is idle until Start.
func NewPeriodicTask(sched EventScheduler, fn func()) *PeriodicTask {
	return &PeriodicTask{sched: sched, fn: fn}
}

// Start begins running fn every interval, first run due immediately. A
// running task is restarted.
func (t *PeriodicTask) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.running = true
	t.interval = interval
	t.gen++
	t.starts++
	t.scheduleLocked(t.sched.Now())
}

// Stop cancels the pending run. It reports whether the task was running.
func (t *PeriodicTask) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopLocked()
}

// Restart switches a task to a new cadence with an immediate run.
func (t *PeriodicTask) Restart(interval time.Duration) { t.Start(interval) }

// Running reports whether the task is active.
func (t *PeriodicTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Interval returns the current cadence, zero when stopped.
func (t *PeriodicTask) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	return t.interval
}

// Counts returns how many times the task was started and stopped.
func (t *PeriodicTask) Counts() (starts, stops uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.starts, t.stops
}

func (t *PeriodicTask) stopLocked() bool {
	if !t.running {
		return false
	}
	if t.eventID != "" {
		t.sched.Cancel(t.eventID)
		t.eventID = ""
	}
	t.running = false
	t.gen++
	t.stops++
	return true
}

func (t *PeriodicTask) scheduleLocked(at time.Time) {
	gen := t.gen
	t.eventID = t.sched.Schedule(at, func() { t.fire(gen) })
}

// fire runs one tick. The generation check drops a run whose event was
// already popped by RunDue when a concurrent Stop/Start happened.
func (t *PeriodicTask) fire(gen uint64) {
	t.mu.Lock()
	if !t.running || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.scheduleLocked(t.sched.Now().Add(t.interval))
	t.mu.Unlock()

	if t.fn != nil {
		t.fn()
	}
}
