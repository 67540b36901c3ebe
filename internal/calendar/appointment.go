// Package calendar provides the appointment model and calendar sources.
package calendar

import (
	"context"
	"slices"
	"time"
)

// Type distinguishes calendar events from clock alarms.
type Type int

const (
	// TypeEvent is a regular calendar event (VEVENT).
	TypeEvent Type = iota
	// TypeAlarm is a clock alarm (VTODO with an alarm).
	TypeAlarm
)

func (t Type) String() string {
	switch t {
	case TypeAlarm:
		return "alarm"
	default:
		return "event"
	}
}

// Alarm is a single trigger instant belonging to an appointment.
type Alarm struct {
	// Text is shown when the alarm fires.
	Text string

	// AudioURL is the sound to play, if any.
	AudioURL string

	// Time is when the alarm fires.
	Time time.Time
}

// Equal reports whether two alarms are the same. Times are compared as
// instants.
func (a Alarm) Equal(b Alarm) bool {
	return a.Text == b.Text && a.AudioURL == b.AudioURL && a.Time.Equal(b.Time)
}

// Appointment is an immutable snapshot of a calendar event or alarm.
// A changed appointment is a new value with the same UID.
type Appointment struct {
	Type Type

	// UID is the unique identifier for this appointment occurrence.
	UID string

	// Color is the calendar color, e.g. "#5294e2".
	Color string

	// Summary is the appointment title.
	Summary string

	// ActivationURL is opened when the user activates the appointment.
	ActivationURL string

	// Begin and End define the active interval.
	Begin time.Time
	End   time.Time

	// AllDay indicates this is an all-day appointment.
	AllDay bool

	// Alarms are the trigger instants of this appointment.
	Alarms []Alarm

	// Description is the full description/body.
	Description string

	// Location is the appointment location (may contain meeting URLs).
	Location string

	// Source is the name of the calendar source this appointment came from.
	Source string
}

// Duration returns the duration of the appointment.
func (a *Appointment) Duration() time.Duration {
	return a.End.Sub(a.Begin)
}

// IsOngoing returns true if the appointment is currently happening.
func (a *Appointment) IsOngoing(now time.Time) bool {
	return now.After(a.Begin) && now.Before(a.End)
}

// Equal reports whether two appointments are structurally equal.
func (a Appointment) Equal(b Appointment) bool {
	return a.Type == b.Type &&
		a.UID == b.UID &&
		a.Color == b.Color &&
		a.Summary == b.Summary &&
		a.ActivationURL == b.ActivationURL &&
		a.Begin.Equal(b.Begin) &&
		a.End.Equal(b.End) &&
		a.AllDay == b.AllDay &&
		a.Description == b.Description &&
		a.Location == b.Location &&
		a.Source == b.Source &&
		slices.EqualFunc(a.Alarms, b.Alarms, Alarm.Equal)
}

// EqualSets reports whether two appointment lists are equal element by element.
func EqualSets(a, b []Appointment) bool {
	return slices.EqualFunc(a, b, Appointment.Equal)
}

// DateRange is a window of time.
type DateRange struct {
	Begin time.Time
	End   time.Time
}

// Contains reports whether t lies in [Begin, End], inclusive on both ends.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Begin) && !t.After(r.End)
}

// Equal reports whether both ranges describe the same instants.
func (r DateRange) Equal(o DateRange) bool {
	return r.Begin.Equal(o.Begin) && r.End.Equal(o.End)
}

// Source is the interface that calendar sources must implement.
type Source interface {
	// Name returns the display name of this calendar source.
	Name() string

	// Fetch retrieves appointments overlapping [begin, end]. Floating times
	// are interpreted in loc.
	Fetch(ctx context.Context, begin, end time.Time, loc *time.Location) ([]Appointment, error)
}

// isEffectivelyAllDay reports whether start and end are both local midnights
// at least a day apart.
func isEffectivelyAllDay(start, end time.Time) bool {
	if !end.After(start) {
		return false
	}
	isMidnight := func(t time.Time) bool {
		return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
	}
	return isMidnight(start) && isMidnight(end) && end.Sub(start) >= 23*time.Hour
}
