// Package planner produces ordered sets of appointments for a time window
// and republishes them when the window or the underlying data changes.
package planner

import (
	"github.com/cpuguy83/alarmd/internal/calendar"
	"github.com/cpuguy83/alarmd/internal/event"
)

// Planner publishes a set of appointments sorted by begin time.
type Planner interface {
	// Appointments returns the current set. Callers must not modify it.
	Appointments() []calendar.Appointment

	// OnChanged is called with the full set whenever it changes.
	OnChanged(fn func([]calendar.Appointment)) *event.Connection
}

// Base holds a published appointment set. Concrete planners embed it.
type Base struct {
	appts   []calendar.Appointment
	changed event.Signal[[]calendar.Appointment]
}

// Appointments returns the published set.
func (b *Base) Appointments() []calendar.Appointment {
	return b.appts
}

// OnChanged registers fn for changes.
func (b *Base) OnChanged(fn func([]calendar.Appointment)) *event.Connection {
	return b.changed.Connect(fn)
}

// Publish replaces the set and notifies subscribers, unless appts equals the
// current set.
func (b *Base) Publish(appts []calendar.Appointment) {
	if calendar.EqualSets(b.appts, appts) {
		return
	}
	b.appts = appts
	b.changed.Emit(appts)
}
