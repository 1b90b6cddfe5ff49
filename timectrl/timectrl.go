package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is the time source schedulers read from, so tests can swap in
// a controllable clock.
type SimClock interface {
	// Now returns the current clock time.
	Now() time.Time
}

// Mode describes how the TimeController advances time.
type Mode int

const (
	// RealTime follows the wall clock on every tick.
	RealTime Mode = iota
	// Accelerated steps by Tick as fast as the loop can run.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// TimeController drives console time and notifies registered listeners on
// every tick. The daemon hangs the event scheduler's RunDue off it.
type TimeController struct {
	mu   sync.RWMutex
	Tick time.Duration
	Mode Mode

	currentTime time.Time
	wall        func() time.Time

	listeners []func(time.Time)
}

// NewTimeController constructs a controller starting at start.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	return &TimeController{
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
		wall:        time.Now,
	}
}

// Now returns the controller's current time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime forces the current time.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// AddListener registers a callback invoked after every tick with the new
// time. Listeners run on the controller goroutine.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Run advances time until ctx is cancelled or, when duration > 0, until
// that much time has elapsed. It blocks; callers usually run it in a
// goroutine.
func (tc *TimeController) Run(ctx context.Context, duration time.Duration) {
	ticker := time.NewTicker(tc.Tick)
	defer ticker.Stop()

	var elapsed time.Duration
	for {
		if duration > 0 && elapsed >= duration {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tc.mu.Lock()
		if tc.Mode == RealTime {
			tc.currentTime = tc.wall()
		} else {
			tc.currentTime = tc.currentTime.Add(tc.Tick)
		}
		now := tc.currentTime
		listeners := append([]func(time.Time){}, tc.listeners...)
		tc.mu.Unlock()
		elapsed += tc.Tick

		for _, fn := range listeners {
			fn(now)
		}
	}
}

// Start runs the controller in its own goroutine and returns a channel
// closed when it finishes.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		tc.Run(ctx, duration)
	}()
	return done
}
