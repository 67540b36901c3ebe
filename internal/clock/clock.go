// Package clock provides the wall clock that alarmd schedules against, with
// detection of time skew from suspend, manual changes and timezone changes.
package clock

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cpuguy83/alarmd/internal/event"
	"github.com/cpuguy83/alarmd/internal/mainloop"
	"github.com/cpuguy83/alarmd/internal/timezone"
)

// Clock supplies the current local time and reports discontinuities.
type Clock interface {
	// Localtime returns the current time in the configured zone.
	Localtime() time.Time

	// OnSkew is called when time may have jumped arbitrarily.
	OnSkew(fn func()) *event.Connection

	// OnMinuteChanged is called once per wall-clock minute boundary.
	OnMinuteChanged(fn func()) *event.Connection
}

// StartOfMinute truncates t to the beginning of its minute in t's location.
func StartOfMinute(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, t.Hour(), t.Minute(), 0, 0, t.Location())
}

// SameMinute reports whether a and b fall in the same wall-clock minute of
// a's location.
func SameMinute(a, b time.Time) bool {
	return StartOfMinute(a).Equal(StartOfMinute(b.In(a.Location())))
}

// StartOfDay truncates t to local midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}

// everyMinute yields the next wall-clock minute boundary. Unlike
// cron.Every, a parsed expression aligns to real minute boundaries.
var everyMinute, _ = cron.ParseStandard("* * * * *")

// Options configures a Live clock.
type Options struct {
	// Poll is how often the clock checks for skew.
	Poll time.Duration

	// Fuzz is the tolerated deviation of an observed poll interval.
	Fuzz time.Duration

	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
}

// Live is the production clock. All signals are delivered on its scheduler.
type Live struct {
	sched mainloop.Scheduler
	tz    timezone.Provider
	now   func() time.Time
	poll  time.Duration
	fuzz  time.Duration

	loc       *time.Location
	last      time.Time
	minuteAt  time.Time
	pollSrc   mainloop.Canceler
	minuteSrc mainloop.Canceler
	tzConn    *event.Connection
	closed    bool

	skew   event.Notify
	minute event.Notify
}

var _ Clock = (*Live)(nil)

// NewLive creates a clock following tz. Call Start to begin polling.
func NewLive(sched mainloop.Scheduler, tz timezone.Provider, opts Options) *Live {
	if opts.Poll <= 0 {
		opts.Poll = 10 * time.Second
	}
	if opts.Fuzz <= 0 {
		opts.Fuzz = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Live{
		sched: sched,
		tz:    tz,
		now:   opts.Now,
		poll:  opts.Poll,
		fuzz:  opts.Fuzz,
		loc:   timezone.Load(tz),
	}
}

// Start begins skew polling and minute tracking.
func (c *Live) Start() {
	c.tzConn = c.tz.OnChanged(func(string) {
		c.loc = timezone.Load(c.tz)
		c.NotifySkew("timezone changed")
	})
	c.last = c.now()
	c.minuteAt = StartOfMinute(c.Localtime())
	c.schedulePoll()
	c.scheduleMinute()
}

// Close cancels the clock's timers. No signal is emitted afterwards.
func (c *Live) Close() {
	c.closed = true
	c.tzConn.Disconnect()
	if c.pollSrc != nil {
		c.pollSrc.Cancel()
	}
	if c.minuteSrc != nil {
		c.minuteSrc.Cancel()
	}
}

// Localtime returns the current time in the current zone.
func (c *Live) Localtime() time.Time {
	return c.now().In(c.loc)
}

// OnSkew registers fn for skew notifications.
func (c *Live) OnSkew(fn func()) *event.Connection {
	return c.skew.Connect(fn)
}

// OnMinuteChanged registers fn for minute boundaries.
func (c *Live) OnMinuteChanged(fn func()) *event.Connection {
	return c.minute.Connect(fn)
}

// NotifySkew reports a discontinuity detected elsewhere, such as resume from
// sleep. It must be called on the clock's scheduler.
func (c *Live) NotifySkew(reason string) {
	if c.closed {
		return
	}
	slog.Debug("clock skew", "reason", reason, "localtime", c.Localtime())
	c.last = c.now()
	c.minuteAt = StartOfMinute(c.Localtime())
	c.scheduleMinute()
	c.skew.Emit()
}

func (c *Live) schedulePoll() {
	c.pollSrc = c.sched.AfterFunc(c.poll, func() {
		if c.closed {
			return
		}
		now := c.now()
		// Round(0) strips the monotonic reading so the wall clocks are compared.
		observed := now.Round(0).Sub(c.last.Round(0))
		c.last = now
		c.schedulePoll()

		if d := observed - c.poll; d > c.fuzz || d < -c.fuzz {
			c.NotifySkew("poll interval " + observed.Round(time.Second).String())
		}
	})
}

func (c *Live) scheduleMinute() {
	if c.minuteSrc != nil {
		c.minuteSrc.Cancel()
	}
	now := c.Localtime()
	next := everyMinute.Next(now)
	c.minuteSrc = c.sched.AfterFunc(next.Sub(now), func() {
		if c.closed {
			return
		}
		c.scheduleMinute()
		if m := StartOfMinute(c.Localtime()); !m.Equal(c.minuteAt) {
			c.minuteAt = m
			c.minute.Emit()
		}
	})
}
