// Package timer provides named, cancellable one-shot timers. Expiry
// callbacks are expected to post an event onto the client event loop, never
// to mutate state directly.
package timer

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
)

// Scheduler manages named one-shot timers. Scheduling a name that is
// already armed replaces the previous timer. Cancellation is racy: a
// callback that already fired may still run after Cancel returns, so
// callbacks must tolerate their target being gone.
type Scheduler struct {
	clk clock.Clock

	mu     sync.Mutex
	timers map[string]*clock.Timer
}

// New creates a Scheduler.
func New(clk clock.Clock) *Scheduler {
	return &Scheduler{
		clk:    clk,
		timers: make(map[string]*clock.Timer),
	}
}

// Schedule arms a one-shot timer under name, firing f after d.
func (s *Scheduler) Schedule(name string, d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[name]; ok {
		t.Stop()
	}
	var t *clock.Timer
	t = s.clk.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timers[name] == t {
			delete(s.timers, name)
		}
		s.mu.Unlock()
		f()
	})
	s.timers[name] = t
}

// Cancel stops the timer under name. Returns false if no timer is armed.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[name]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, name)
	return true
}

// CancelAll stops every armed timer.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
}

// Armed returns whether a timer is armed under name.
func (s *Scheduler) Armed(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.timers[name]
	return ok
}
