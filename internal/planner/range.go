package planner

import (
	"time"

	"github.com/cpuguy83/alarmd/internal/calendar"
	"github.com/cpuguy83/alarmd/internal/event"
	"github.com/cpuguy83/alarmd/internal/mainloop"
)

// DefaultDebounce is how long a range change waits before rebuilding.
const DefaultDebounce = 500 * time.Millisecond

// RangePlanner is a planner bounded by a date range. Range changes schedule
// a debounced call to the rebuild hook of the concrete planner.
type RangePlanner struct {
	Base

	sched    mainloop.Scheduler
	debounce time.Duration
	rebuild  func()

	rng          calendar.DateRange
	rangeChanged event.Signal[calendar.DateRange]
	pending      mainloop.Canceler
	closed       bool
}

// NewRangePlanner returns a range planner that calls rebuild on sched.
func NewRangePlanner(sched mainloop.Scheduler, debounce time.Duration, rebuild func()) *RangePlanner {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &RangePlanner{
		sched:    sched,
		debounce: debounce,
		rebuild:  rebuild,
	}
}

// Range returns the current range.
func (p *RangePlanner) Range() calendar.DateRange {
	return p.rng
}

// SetRange changes the range and schedules a rebuild.
func (p *RangePlanner) SetRange(r calendar.DateRange) {
	if r.Equal(p.rng) {
		return
	}
	p.rng = r
	p.rangeChanged.Emit(r)
	p.RebuildSoon()
}

// OnRangeChanged registers fn for range changes.
func (p *RangePlanner) OnRangeChanged(fn func(calendar.DateRange)) *event.Connection {
	return p.rangeChanged.Connect(fn)
}

// RebuildSoon schedules a rebuild after the debounce interval. While one is
// pending further calls are coalesced into it.
func (p *RangePlanner) RebuildSoon() {
	if p.closed || p.pending != nil {
		return
	}
	p.pending = p.sched.AfterFunc(p.debounce, func() {
		p.pending = nil
		p.RebuildNow()
	})
}

// RebuildNow cancels any pending rebuild and runs the rebuild hook.
func (p *RangePlanner) RebuildNow() {
	if p.closed {
		return
	}
	if p.pending != nil {
		p.pending.Cancel()
		p.pending = nil
	}
	p.rebuild()
}

// Close cancels the pending rebuild.
func (p *RangePlanner) Close() {
	p.closed = true
	if p.pending != nil {
		p.pending.Cancel()
		p.pending = nil
	}
}
