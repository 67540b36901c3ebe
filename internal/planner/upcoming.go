package planner

import (
	"time"

	"github.com/cpuguy83/alarmd/internal/calendar"
	"github.com/cpuguy83/alarmd/internal/clock"
	"github.com/cpuguy83/alarmd/internal/mainloop"
	"github.com/cpuguy83/alarmd/internal/timezone"
)

// DefaultWindow is how far ahead the upcoming planner looks.
const DefaultWindow = 30 * 24 * time.Hour

// UpcomingPlanner covers the window starting at the beginning of a date.
type UpcomingPlanner struct {
	*BackendPlanner
	window time.Duration
}

// NewUpcomingPlanner returns a planner over [startOfDay(date), +window).
// Zero window and debounce select the defaults.
func NewUpcomingPlanner(sched mainloop.Scheduler, backend Backend, tz timezone.Provider, date time.Time, window, debounce time.Duration) *UpcomingPlanner {
	if window <= 0 {
		window = DefaultWindow
	}
	p := &UpcomingPlanner{
		BackendPlanner: NewBackendPlanner(sched, backend, tz, debounce),
		window:         window,
	}
	p.SetDate(date)
	return p
}

// SetDate moves the window to start at the day of date.
func (p *UpcomingPlanner) SetDate(date time.Time) {
	begin := clock.StartOfDay(date)
	p.SetRange(calendar.DateRange{Begin: begin, End: begin.Add(p.window)})
}
