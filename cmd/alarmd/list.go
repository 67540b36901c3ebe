package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/cpuguy83/alarmd/internal/calendar"
	"github.com/cpuguy83/alarmd/internal/clock"
	"github.com/cpuguy83/alarmd/internal/config"
	"github.com/cpuguy83/alarmd/internal/sync"
	"github.com/cpuguy83/alarmd/internal/timezone"
)

// listAlarms fetches the planner window once and prints every future alarm.
func listAlarms(cfg *config.Config, w io.Writer) error {
	syncer, err := sync.NewSyncer(cfg)
	if err != nil {
		return fmt.Errorf("create syncer: %w", err)
	}

	tz := timezone.NewFixed(timezone.LocalZone())
	loc := timezone.Load(tz)
	now := time.Now().In(loc)
	begin := clock.StartOfDay(now)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	appts, err := syncer.Fetch(ctx, begin, begin.Add(cfg.Planner.Window), loc)
	if err != nil {
		return err
	}

	locs, errs := timezone.Locations(tz.Current(), cfg.Locations, now)
	for _, err := range errs {
		slog.Warn("skipping location", "error", err)
	}
	if len(locs) > 1 {
		if err := printLocations(w, locs, now); err != nil {
			return err
		}
	}

	return printAlarms(w, appts, clock.StartOfMinute(now))
}

// printLocations prints the current time at each known location, followed by
// a blank line.
func printLocations(w io.Writer, locs []timezone.Location, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, l := range locs {
		t := now.In(time.FixedZone(l.Name, int(l.Offset/time.Second)))
		fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Name, t.Format("Mon 15:04"), t.Format("-07:00"))
	}
	fmt.Fprintln(tw)
	return tw.Flush()
}

func printAlarms(w io.Writer, appts []calendar.Appointment, from time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DAY\tTIME\tTYPE\tSUMMARY\tSOURCE")
	for _, a := range appts {
		for _, al := range a.Alarms {
			if al.Time.Before(from) {
				continue
			}
			summary := a.Summary
			if al.Text != "" && al.Text != a.Summary {
				summary += " (" + al.Text + ")"
			}
			t := al.Time.In(from.Location())
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", dayLabel(t, from), t.Format("15:04"), a.Type, truncate(summary, 60), a.Source)
		}
	}
	return tw.Flush()
}

// dayLabel returns a human-readable day label.
func dayLabel(t, now time.Time) string {
	today := clock.StartOfDay(now)
	switch day := clock.StartOfDay(t); {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, 1)):
		return "Tomorrow"
	default:
		return t.Format("Mon, Jan 2")
	}
}

// truncate truncates s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
