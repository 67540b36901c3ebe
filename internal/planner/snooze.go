package planner

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/cpuguy83/alarmd/internal/calendar"
	"github.com/cpuguy83/alarmd/internal/clock"
)

// SnoozeSettings supplies the snooze duration.
type SnoozeSettings interface {
	SnoozeDuration() time.Duration
}

// SnoozePlanner holds snoozed copies of appointments.
type SnoozePlanner struct {
	Base
	clock    clock.Clock
	settings SnoozeSettings
	newUID   func() string
}

// NewSnoozePlanner returns an empty snooze planner.
func NewSnoozePlanner(c clock.Clock, settings SnoozeSettings) *SnoozePlanner {
	return &SnoozePlanner{
		clock:    c,
		settings: settings,
		newUID:   uuid.NewString,
	}
}

// Add snoozes appt, ringing again with its first alarm.
func (p *SnoozePlanner) Add(appt calendar.Appointment) calendar.Appointment {
	alarm := calendar.Alarm{Text: appt.Summary}
	if len(appt.Alarms) > 0 {
		alarm = appt.Alarms[0]
	}
	return p.AddAlarm(appt, alarm)
}

// AddAlarm snoozes the given alarm of appt. The copy gets a new UID and begins
// one snooze duration after the current minute, keeping the original length.
func (p *SnoozePlanner) AddAlarm(appt calendar.Appointment, alarm calendar.Alarm) calendar.Appointment {
	minute := clock.StartOfMinute(p.clock.Localtime())
	begin := minute.Add(p.settings.SnoozeDuration())

	snoozed := appt
	snoozed.UID = p.newUID()
	snoozed.Begin = begin
	snoozed.End = begin.Add(appt.Duration())
	if alarm.Text == "" {
		alarm.Text = appt.Summary
	}
	alarm.Time = begin
	snoozed.Alarms = []calendar.Alarm{alarm}

	// Drop snoozes that ended before the current minute.
	appts := slices.DeleteFunc(slices.Clone(p.appts), func(a calendar.Appointment) bool {
		return a.End.Before(minute)
	})
	p.Publish(calendar.Merge(appts, []calendar.Appointment{snoozed}))
	return snoozed
}
