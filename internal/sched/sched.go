// Package sched runs tasks one at a time on a single goroutine and schedules
// delayed tasks against an injectable clock, so timing-dependent behaviour
// can be driven by a fake clock in tests.
package sched

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler is a single-threaded task loop.
type Scheduler struct {
	clock clockwork.Clock

	mu      sync.Mutex
	pending []func()
	timers  map[*delayed]struct{}
	closed  bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New starts a Scheduler. A nil clock uses the real clock.
func New(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Scheduler{
		clock:  clock,
		timers: make(map[*delayed]struct{}),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

// Clock returns the clock the scheduler measures delays with.
func (s *Scheduler) Clock() clockwork.Clock {
	return s.clock
}

// Post queues fn to run on the scheduler goroutine. It reports false once
// the scheduler is closed.
func (s *Scheduler) Post(fn func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.pending = append(s.pending, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

type delayed struct {
	timer clockwork.Timer
}

// After runs fn on the scheduler goroutine once d has elapsed. The returned
// function cancels the task if it has not been queued yet.
func (s *Scheduler) After(d time.Duration, fn func()) (cancel func()) {
	e := &delayed{}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	s.timers[e] = struct{}{}
	s.mu.Unlock()

	t := s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, e)
		s.mu.Unlock()
		s.Post(fn)
	})

	s.mu.Lock()
	e.timer = t
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.timers, e)
		s.mu.Unlock()
		t.Stop()
	}
}

// Pending returns the number of delayed tasks that have not fired yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops all timers, discards queued tasks and waits for the running
// task, if any, to finish. It must not be called from a scheduled task.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	for e := range s.timers {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	s.timers = nil
	s.pending = nil
	s.mu.Unlock()

	close(s.quit)
	<-s.done
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if s.closed || len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			fn := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			fn()
		}
	}
}
