// Package alarm decides when calendar alarms are due and keeps the wakeup
// timer armed for the next one.
package alarm

import (
	"context"
	"log/slog"
	"time"

	"github.com/cpuguy83/alarmd/internal/calendar"
	"github.com/cpuguy83/alarmd/internal/clock"
	"github.com/cpuguy83/alarmd/internal/event"
	"github.com/cpuguy83/alarmd/internal/planner"
	"github.com/cpuguy83/alarmd/internal/wakeup"
)

// Defaults for Options.
const (
	DefaultSkewThreshold = 90 * time.Second
	DefaultRetention     = 24 * time.Hour
)

// Trigger identifies one firing of an alarm.
type Trigger struct {
	UID  string
	Time time.Time
}

type triggerKey struct {
	uid string
	ms  int64
}

func (t Trigger) key() triggerKey {
	return triggerKey{uid: t.UID, ms: t.Time.UnixMilli()}
}

// Journal persists triggers so alarms do not fire again after a restart.
type Journal interface {
	Load(ctx context.Context) ([]Trigger, error)
	Record(ctx context.Context, t Trigger) error
	Forget(ctx context.Context, ts []Trigger) error
}

// Reached is emitted when an alarm is due.
type Reached struct {
	Appointment calendar.Appointment
	Alarm       calendar.Alarm
}

// Options configures a Queue.
type Options struct {
	// SkewThreshold is the jump between minute ticks treated as skew.
	SkewThreshold time.Duration

	// Retention is how long a trigger is kept once its appointment left the
	// planner, counted back from the earliest time observed since Start.
	// Negative keeps triggers forever.
	Retention time.Duration

	// Journal, if set, persists the triggered set.
	Journal Journal
}

// Queue fires alarms from a planner's appointments as they come due.
// It runs on the main loop.
type Queue struct {
	clock   clock.Clock
	planner planner.Planner
	timer   wakeup.Timer
	opts    Options

	ctx       context.Context
	now       time.Time
	earliest  time.Time // lowest wall time seen since Start
	triggered map[triggerKey]time.Time
	armed     time.Time
	isArmed   bool

	running bool
	again   bool

	reached event.Signal[Reached]
	conns   []*event.Connection
}

// NewQueue creates a queue. Call Start to begin.
func NewQueue(c clock.Clock, p planner.Planner, t wakeup.Timer, opts Options) *Queue {
	if opts.SkewThreshold <= 0 {
		opts.SkewThreshold = DefaultSkewThreshold
	}
	if opts.Retention == 0 {
		opts.Retention = DefaultRetention
	}
	return &Queue{
		clock:     c,
		planner:   p,
		timer:     t,
		opts:      opts,
		ctx:       context.Background(),
		triggered: make(map[triggerKey]time.Time),
	}
}

// OnAlarmReached registers fn for due alarms.
func (q *Queue) OnAlarmReached(fn func(Reached)) *event.Connection {
	return q.reached.Connect(fn)
}

// Start loads the journal, subscribes to the clock, planner and timer, and
// runs the first requeue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx = ctx
	if q.opts.Journal != nil {
		ts, err := q.opts.Journal.Load(ctx)
		if err != nil {
			slog.Warn("load alarm journal", "error", err)
		}
		for _, t := range ts {
			q.triggered[t.key()] = t.Time
		}
		slog.Debug("loaded alarm journal", "triggers", len(ts))
	}

	q.now = q.clock.Localtime()
	q.earliest = q.now
	q.conns = append(q.conns,
		q.planner.OnChanged(func([]calendar.Appointment) { q.Requeue() }),
		q.clock.OnSkew(func() {
			// A relative timer is off after a jump; force a re-arm.
			q.isArmed = false
			q.Requeue()
		}),
		q.clock.OnMinuteChanged(q.minuteChanged),
		q.timer.OnTimeout(func() {
			q.isArmed = false
			q.Requeue()
		}),
	)
	q.Requeue()
}

// Close disconnects the queue and cancels the timer.
func (q *Queue) Close() {
	for _, c := range q.conns {
		c.Disconnect()
	}
	q.conns = nil
	q.timer.Cancel()
	q.isArmed = false
}

// Armed returns the time the timer is armed for.
func (q *Queue) Armed() (time.Time, bool) {
	return q.armed, q.isArmed
}

// Triggered reports whether the alarm has fired.
func (q *Queue) Triggered(uid string, at time.Time) bool {
	_, ok := q.triggered[Trigger{UID: uid, Time: at}.key()]
	return ok
}

func (q *Queue) minuteChanged() {
	now := q.clock.Localtime()
	d := now.Sub(q.now)
	q.now = now
	if d > q.opts.SkewThreshold || d < -q.opts.SkewThreshold {
		slog.Debug("clock jumped between minutes", "delta", d)
		q.isArmed = false
		q.Requeue()
	}
}

// Requeue fires the alarms due in the current minute and arms the timer for
// the next pending one. A Requeue from an alarm handler runs once the
// current pass is complete.
func (q *Queue) Requeue() {
	if q.running {
		q.again = true
		return
	}
	q.running = true
	defer func() { q.running = false }()

	for {
		q.again = false
		q.requeue()
		if !q.again {
			return
		}
	}
}

func (q *Queue) requeue() {
	now := q.clock.Localtime()
	q.now = now
	if now.Before(q.earliest) {
		q.earliest = now
	}
	minute := clock.StartOfMinute(now)
	appts := q.planner.Appointments()

	for _, a := range appts {
		for _, al := range a.Alarms {
			t := Trigger{UID: a.UID, Time: al.Time}
			if q.isTriggered(t) || !clock.SameMinute(minute, al.Time) {
				continue
			}
			q.trigger(t)
			slog.Info("alarm reached", "uid", a.UID, "summary", a.Summary, "time", al.Time)
			q.reached.Emit(Reached{Appointment: a, Alarm: al})
		}
	}

	// Handlers may have changed the planner; the rerun picks that up.
	var (
		next  time.Time
		found bool
	)
	for _, a := range appts {
		for _, al := range a.Alarms {
			if al.Time.Before(minute) || q.isTriggered(Trigger{UID: a.UID, Time: al.Time}) {
				continue
			}
			if !found || al.Time.Before(next) {
				next = al.Time
				found = true
			}
		}
	}

	switch {
	case found && (!q.isArmed || !q.armed.Equal(next)):
		slog.Debug("arming wakeup", "time", next)
		q.timer.SetWakeupTime(next)
		q.armed = next
		q.isArmed = true
	case !found && q.isArmed:
		slog.Debug("no pending alarms, cancelling wakeup")
		q.timer.Cancel()
		q.isArmed = false
	}

	q.prune(appts)
}

func (q *Queue) isTriggered(t Trigger) bool {
	_, ok := q.triggered[t.key()]
	return ok
}

func (q *Queue) trigger(t Trigger) {
	q.triggered[t.key()] = t.Time
	if q.opts.Journal == nil {
		return
	}
	if err := q.opts.Journal.Record(q.ctx, t); err != nil {
		slog.Warn("record alarm trigger", "uid", t.UID, "time", t.Time, "error", err)
	}
}

// prune drops triggers whose alarm is no longer offered by the planner and
// lies more than the retention before any time observed since Start. The
// clock can jump back at most to an observed time before it is corrected,
// so a forward jump never makes a pruned alarm reachable again.
func (q *Queue) prune(appts []calendar.Appointment) {
	if q.opts.Retention < 0 {
		return
	}
	horizon := q.earliest.Add(-q.opts.Retention)

	var present map[triggerKey]bool
	var forget []Trigger
	for k, at := range q.triggered {
		if !at.Before(horizon) {
			continue
		}
		if present == nil {
			present = make(map[triggerKey]bool)
			for _, a := range appts {
				for _, al := range a.Alarms {
					present[Trigger{UID: a.UID, Time: al.Time}.key()] = true
				}
			}
		}
		if present[k] {
			continue
		}
		delete(q.triggered, k)
		forget = append(forget, Trigger{UID: k.uid, Time: at})
	}

	if len(forget) == 0 {
		return
	}
	slog.Debug("pruned alarm triggers", "count", len(forget))
	if q.opts.Journal == nil {
		return
	}
	if err := q.opts.Journal.Forget(q.ctx, forget); err != nil {
		slog.Warn("forget alarm triggers", "error", err)
	}
}
