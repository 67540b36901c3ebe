package planner

import (
	"context"
	"log/slog"
	"time"

	"github.com/cpuguy83/alarmd/internal/calendar"
	"github.com/cpuguy83/alarmd/internal/event"
	"github.com/cpuguy83/alarmd/internal/mainloop"
	"github.com/cpuguy83/alarmd/internal/timezone"
)

// Backend supplies appointments from a calendar store.
type Backend interface {
	// Fetch returns the appointments in [begin, end]. Floating times are
	// interpreted in loc. It may block.
	Fetch(ctx context.Context, begin, end time.Time, loc *time.Location) ([]calendar.Appointment, error)

	// OnChanged is called when the backend's data may have changed. It must
	// be delivered on the main loop.
	OnChanged(fn func()) *event.Connection
}

// BackendPlanner fetches its range from a Backend.
type BackendPlanner struct {
	*RangePlanner

	sched   mainloop.Scheduler
	backend Backend
	tz      timezone.Provider

	ctx    context.Context
	cancel context.CancelFunc
	// inflight cancels the most recent fetch.
	inflight context.CancelFunc
	gen      uint64
	conns    []*event.Connection
}

// NewBackendPlanner returns a planner that rebuilds from backend whenever its
// range, the backend data or the timezone changes.
func NewBackendPlanner(sched mainloop.Scheduler, backend Backend, tz timezone.Provider, debounce time.Duration) *BackendPlanner {
	ctx, cancel := context.WithCancel(context.Background())
	p := &BackendPlanner{
		sched:   sched,
		backend: backend,
		tz:      tz,
		ctx:     ctx,
		cancel:  cancel,
	}
	p.RangePlanner = NewRangePlanner(sched, debounce, p.fetch)
	p.conns = append(p.conns,
		backend.OnChanged(p.RebuildSoon),
		tz.OnChanged(func(string) { p.RebuildSoon() }),
	)
	return p
}

// Close cancels in-flight fetches. Nothing is published afterwards.
func (p *BackendPlanner) Close() {
	p.RangePlanner.Close()
	p.cancel()
	for _, c := range p.conns {
		c.Disconnect()
	}
}

func (p *BackendPlanner) fetch() {
	if p.inflight != nil {
		p.inflight()
	}
	p.gen++
	gen := p.gen
	rng := p.Range()
	loc := timezone.Load(p.tz)

	ctx, cancel := context.WithCancel(p.ctx)
	p.inflight = cancel

	go func() {
		appts, err := p.backend.Fetch(ctx, rng.Begin, rng.End, loc)
		p.sched.Post(func() {
			cancel()
			p.finish(gen, rng, appts, err)
		})
	}()
}

func (p *BackendPlanner) finish(gen uint64, rng calendar.DateRange, appts []calendar.Appointment, err error) {
	if p.ctx.Err() != nil || gen != p.gen {
		return
	}
	if err != nil {
		slog.Warn("fetch appointments failed, keeping previous set", "begin", rng.Begin, "end", rng.End, "error", err)
		return
	}
	p.Publish(calendar.Trim(calendar.Merge(appts), rng))
}
