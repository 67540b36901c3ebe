package main

import (
	"context"
	"testing"
	"time"

	"github.com/cpuguy83/alarmd/internal/calendar"
	"github.com/cpuguy83/alarmd/internal/config"
	"github.com/cpuguy83/alarmd/internal/event"
	"github.com/cpuguy83/alarmd/internal/mainloop"
	"github.com/cpuguy83/alarmd/internal/timezone"
)

type countingBackend struct {
	fetched chan calendar.DateRange
	changed event.Notify
}

func (b *countingBackend) Fetch(_ context.Context, begin, end time.Time, _ *time.Location) ([]calendar.Appointment, error) {
	b.fetched <- calendar.DateRange{Begin: begin, End: end}
	return nil, nil
}

func (b *countingBackend) OnChanged(fn func()) *event.Connection {
	return b.changed.Connect(fn)
}

func TestUpcomingPlannerUsesConfig(t *testing.T) {
	cfg, err := config.Parse([]byte("planner:\n  window: 1w\n  debounce: 3s\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	sched := mainloop.NewManual()
	backend := &countingBackend{fetched: make(chan calendar.DateRange, 1)}
	now := time.Date(2026, 10, 5, 9, 30, 0, 0, time.UTC)
	p := newUpcomingPlanner(sched, backend, timezone.NewFixed("UTC"), now, cfg.Planner)
	t.Cleanup(p.Close)

	sched.Advance(2 * time.Second)
	select {
	case r := <-backend.fetched:
		t.Fatalf("fetched %v before the configured debounce", r)
	default:
	}

	sched.Advance(time.Second)
	select {
	case r := <-backend.fetched:
		want := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
		if !r.End.Equal(want) {
			t.Errorf("fetch end = %v, want %v", r.End, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fetch after the configured debounce")
	}
}
