// Package sync fetches appointments from the configured calendar sources.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cpuguy83/alarmd/internal/calendar"
	"github.com/cpuguy83/alarmd/internal/config"
	"github.com/cpuguy83/alarmd/internal/event"
	"github.com/cpuguy83/alarmd/internal/filter"
	"github.com/cpuguy83/alarmd/internal/mainloop"
)

// sourceWithFilter pairs a calendar source with its optional filter.
type sourceWithFilter struct {
	source calendar.Source
	filter *filter.Filter
}

// Syncer fetches from multiple sources. It is the planner backend.
type Syncer struct {
	sources  []sourceWithFilter
	global   *filter.Filter
	schedule string
	cache    string

	cron    *cron.Cron
	changed event.Notify
}

// NewSyncer creates a Syncer from configuration.
func NewSyncer(cfg *config.Config) (*Syncer, error) {
	sources, err := createSources(cfg.Sources)
	if err != nil {
		return nil, err
	}
	global, err := filter.New(cfg.Filters)
	if err != nil {
		return nil, fmt.Errorf("global filter: %w", err)
	}

	schedule := cfg.Sync.Schedule
	if schedule == "" {
		schedule = "@every " + cfg.Sync.Interval.String()
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse sync schedule %q: %w", schedule, err)
	}

	return &Syncer{
		sources:  sources,
		global:   global,
		schedule: schedule,
		cache:    cfg.Sync.Cache,
	}, nil
}

// SourceCount returns the number of configured sources.
func (s *Syncer) SourceCount() int {
	return len(s.sources)
}

// Fetch fetches all sources in parallel, applies filters, and returns merged
// appointments. Partial failures are logged. If every source fails, the
// appointments from the last successful fetch are read from the cache.
func (s *Syncer) Fetch(ctx context.Context, begin, end time.Time, loc *time.Location) ([]calendar.Appointment, error) {
	slog.Info("starting sync", "sources", len(s.sources), "begin", begin, "end", end)

	type result struct {
		appts    []calendar.Appointment
		name     string
		fetched  int // count before filtering
		filtered int // count after filtering
		err      error
	}

	results := make(chan result, len(s.sources))
	var wg sync.WaitGroup

	for _, swf := range s.sources {
		wg.Go(func() {
			name := swf.source.Name()
			slog.Debug("fetching source", "name", name)

			appts, err := swf.source.Fetch(ctx, begin, end, loc)
			if err != nil {
				results <- result{name: name, err: err}
				return
			}

			fetched := len(appts)
			if swf.filter != nil {
				appts = swf.filter.Apply(appts)
			}

			results <- result{
				appts:    appts,
				name:     name,
				fetched:  fetched,
				filtered: len(appts),
			}
		})
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		sets      [][]calendar.Appointment
		errs      []error
		succeeded int
	)
	for r := range results {
		if r.err != nil {
			slog.Warn("failed to fetch source", "name", r.name, "error", r.err)
			errs = append(errs, fmt.Errorf("%s: %w", r.name, r.err))
			continue
		}
		slog.Info("fetched source", "name", r.name, "fetched", r.fetched, "after_filter", r.filtered)
		sets = append(sets, r.appts)
		succeeded++
	}

	if succeeded == 0 && len(errs) > 0 {
		return s.fromCache(begin, end, loc, errors.Join(errs...))
	}

	merged := s.global.Apply(calendar.Merge(sets...))
	slog.Info("sync complete", "appointments", len(merged))

	if s.cache != "" {
		if err := calendar.WriteICS(s.cache, merged); err != nil {
			slog.Warn("write calendar cache", "path", s.cache, "error", err)
		}
	}

	return merged, nil
}

func (s *Syncer) fromCache(begin, end time.Time, loc *time.Location, fetchErr error) ([]calendar.Appointment, error) {
	if s.cache == "" {
		return nil, fetchErr
	}
	appts, err := calendar.ReadICS(s.cache, calendar.DateRange{Begin: begin, End: end}, loc)
	if err != nil {
		return nil, errors.Join(fetchErr, fmt.Errorf("read cache: %w", err))
	}
	slog.Warn("all sources failed, using cached appointments", "path", s.cache, "appointments", len(appts))
	return appts, nil
}

// OnChanged is called on each scheduled refresh.
func (s *Syncer) OnChanged(fn func()) *event.Connection {
	return s.changed.Connect(fn)
}

// Start begins scheduled refreshes, delivered on sched.
func (s *Syncer) Start(sched mainloop.Scheduler) {
	s.cron = cron.New()
	// The schedule was validated in NewSyncer.
	s.cron.AddFunc(s.schedule, func() {
		sched.Post(s.changed.Emit)
	})
	s.cron.Start()
}

// Stop ends scheduled refreshes and waits for a running one to return.
func (s *Syncer) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// createSources creates calendar sources with their per-source filters from configuration.
func createSources(cfgs []config.SourceConfig) ([]sourceWithFilter, error) {
	var sources []sourceWithFilter

	for _, cfg := range cfgs {
		var src calendar.Source

		switch cfg.Type {
		case "ics":
			password, err := cfg.GetPassword()
			if err != nil {
				return nil, err
			}
			src = calendar.NewICSSource(cfg.Name, cfg.URL, cfg.Username, password)

		case "caldav":
			password, err := cfg.GetPassword()
			if err != nil {
				return nil, err
			}
			src = calendar.NewCalDAVSource(cfg.Name, cfg.URL, cfg.Username, password, cfg.Calendars)

		case "icloud":
			password, err := cfg.GetPassword()
			if err != nil {
				return nil, err
			}
			src = calendar.NewICloudSource(cfg.Name, cfg.Username, password, cfg.Calendars)

		case "file":
			src = calendar.NewFileSource(cfg.Name, cfg.Path)

		default:
			slog.Warn("unknown source type", "type", cfg.Type, "name", cfg.Name)
			continue
		}

		f, err := filter.New(cfg.Filters)
		if err != nil {
			return nil, fmt.Errorf("source %q filter: %w", cfg.Name, err)
		}

		sources = append(sources, sourceWithFilter{
			source: src,
			filter: f,
		})
	}

	return sources, nil
}
