package wakeup

import (
	"time"

	"github.com/cpuguy83/alarmd/internal/event"
	"github.com/cpuguy83/alarmd/internal/mainloop"
)

// LoopTimer is a Timer backed by a main loop delayed callback. It does not
// wake a suspended machine.
type LoopTimer struct {
	sched mainloop.Scheduler
	now   func() time.Time

	src     mainloop.Canceler
	gen     uint64
	closed  bool
	timeout event.Notify
}

var _ Timer = (*LoopTimer)(nil)

// NewLoopTimer returns a timer that schedules on sched.
func NewLoopTimer(sched mainloop.Scheduler, now func() time.Time) *LoopTimer {
	if now == nil {
		now = time.Now
	}
	return &LoopTimer{sched: sched, now: now}
}

// SetWakeupTime arms the timer for t.
func (l *LoopTimer) SetWakeupTime(t time.Time) {
	if l.closed {
		return
	}
	l.Cancel()

	gen := l.gen
	d := max(0, t.Sub(l.now()))
	l.src = l.sched.AfterFunc(d, func() {
		if l.closed || gen != l.gen {
			return
		}
		l.src = nil
		l.timeout.Emit()
	})
}

// Cancel disarms the timer.
func (l *LoopTimer) Cancel() {
	l.gen++
	if l.src != nil {
		l.src.Cancel()
		l.src = nil
	}
}

// OnTimeout registers fn for expiry.
func (l *LoopTimer) OnTimeout(fn func()) *event.Connection {
	return l.timeout.Connect(fn)
}

// Close cancels the pending wakeup.
func (l *LoopTimer) Close() error {
	l.Cancel()
	l.closed = true
	return nil
}
