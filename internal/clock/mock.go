package clock

import (
	"time"

	"github.com/cpuguy83/alarmd/internal/event"
)

// Mock is a Clock whose time is set by hand, for tests.
type Mock struct {
	now    time.Time
	skew   event.Notify
	minute event.Notify
}

var _ Clock = (*Mock)(nil)

// NewMock returns a clock reading t.
func NewMock(t time.Time) *Mock {
	return &Mock{now: t}
}

// Localtime returns the mock time.
func (m *Mock) Localtime() time.Time {
	return m.now
}

// Set changes the time, emitting minute-changed if the minute differs.
func (m *Mock) Set(t time.Time) {
	changed := !SameMinute(m.now, t)
	m.now = t
	if changed {
		m.minute.Emit()
	}
}

// Skew emits the skew signal.
func (m *Mock) Skew() {
	m.skew.Emit()
}

// OnSkew registers fn for skew notifications.
func (m *Mock) OnSkew(fn func()) *event.Connection {
	return m.skew.Connect(fn)
}

// OnMinuteChanged registers fn for minute boundaries.
func (m *Mock) OnMinuteChanged(fn func()) *event.Connection {
	return m.minute.Connect(fn)
}
