// Package mainloop provides the single event-processing goroutine that all
// alarmd components run on.
package mainloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler is the part of the loop that components depend on.
type Scheduler interface {
	// Post queues fn to run on the loop. Safe to call from any goroutine.
	Post(fn func())

	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Canceler
}

// Canceler cancels a delayed callback.
type Canceler interface {
	// Cancel prevents the callback from running if it has not started yet.
	// It reports whether the callback was still pending.
	Cancel() bool
}

const queueSize = 64

// Loop is a run loop that executes posted functions one at a time.
type Loop struct {
	queue chan func()

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a loop. Nothing runs until Run is called.
func New() *Loop {
	return &Loop{
		queue: make(chan func(), queueSize),
		stop:  make(chan struct{}),
	}
}

var _ Scheduler = (*Loop)(nil)

// Post queues fn to run on the loop.
// Functions posted after the loop has stopped are dropped.
func (l *Loop) Post(fn func()) {
	select {
	case l.queue <- fn:
	case <-l.stop:
	}
}

// AfterFunc schedules fn to run on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Canceler {
	src := &Source{}
	src.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if src.cancelled.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return src
}

// Run executes posted functions until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case fn := <-l.queue:
			fn()
		case <-l.stop:
			return nil
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		}
	}
}

// Stop makes Run return. Pending functions are discarded.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Source is a delayed callback created by AfterFunc.
type Source struct {
	timer *time.Timer
	// cancelled is set either by Cancel or when the callback starts, so only
	// one of the two wins.
	cancelled atomic.Bool
}

// Cancel prevents the callback from running. It reports whether the callback
// was still pending.
func (s *Source) Cancel() bool {
	if !s.cancelled.CompareAndSwap(false, true) {
		return false
	}
	s.timer.Stop()
	return true
}
