package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-webdav/caldav"
)

// CalDAVSource fetches appointments from a CalDAV server.
type CalDAVSource struct {
	name      string
	url       string
	calendars []string // empty syncs every calendar
	http      *http.Client
}

// NewCalDAVSource creates a CalDAV source authenticating with basic auth.
func NewCalDAVSource(name, url, username, password string, calendars []string) *CalDAVSource {
	return &CalDAVSource{
		name:      name,
		url:       url,
		calendars: calendars,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &basicAuthTransport{
				username: username,
				password: password,
				base:     http.DefaultTransport,
			},
		},
	}
}

// iCloudCalDAVURL is the base URL for iCloud CalDAV.
const iCloudCalDAVURL = "https://caldav.icloud.com"

// NewICloudSource creates a new iCloud calendar source.
// iCloud uses CalDAV with a specific server URL.
func NewICloudSource(name, username, password string, calendars []string) *CalDAVSource {
	return NewCalDAVSource(name, iCloudCalDAVURL, username, password, calendars)
}

// Name returns the display name of this calendar source.
func (s *CalDAVSource) Name() string {
	return s.name
}

// Fetch retrieves appointments overlapping [begin, end] from the CalDAV server.
func (s *CalDAVSource) Fetch(ctx context.Context, begin, end time.Time, loc *time.Location) ([]Appointment, error) {
	client, err := caldav.NewClient(s.http, s.url)
	if err != nil {
		return nil, fmt.Errorf("create caldav client: %w", err)
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find calendar home: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	rng := DateRange{Begin: begin, End: end}
	var all []Appointment
	for _, cal := range cals {
		if !s.wanted(cal.Name) {
			continue
		}
		for _, comp := range []string{"VEVENT", "VTODO"} {
			appts, err := s.fetchCalendar(ctx, client, cal, comp, rng, loc)
			if err != nil {
				slog.Warn("failed to query calendar", "source", s.name, "calendar", cal.Name, "component", comp, "error", err)
				continue
			}
			all = append(all, appts...)
		}
	}

	return Merge(all), nil
}

// wanted reports whether the named calendar is configured for syncing.
func (s *CalDAVSource) wanted(name string) bool {
	return len(s.calendars) == 0 || slices.ContainsFunc(s.calendars, func(c string) bool {
		return strings.EqualFold(c, name)
	})
}

// queryProps are the component properties requested from the server.
var queryProps = []string{
	"UID", "SUMMARY", "DESCRIPTION", "LOCATION", "URL", "COLOR", "STATUS",
	"DTSTART", "DTEND", "DUE", "DURATION", "RRULE", "RDATE", "EXDATE",
}

// fetchCalendar queries one calendar for components of the given type
// overlapping rng, including their VALARMs.
func (s *CalDAVSource) fetchCalendar(ctx context.Context, client *caldav.Client, cal caldav.Calendar, comp string, rng DateRange, loc *time.Location) ([]Appointment, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{{
				Name:  comp,
				Props: queryProps,
				Comps: []caldav.CalendarCompRequest{{
					Name:     "VALARM",
					AllProps: true,
				}},
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  comp,
				Start: rng.Begin,
				End:   rng.End,
			}},
		},
	}

	objects, err := client.QueryCalendar(ctx, cal.Path, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar %s: %w", cal.Name, err)
	}

	source := fmt.Sprintf("%s/%s", s.name, cal.Name)
	var appts []Appointment
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		appts = append(appts, parseCalendar(obj.Data, source, rng, loc)...)
	}

	return appts, nil
}

// basicAuthTransport adds basic auth to HTTP requests.
type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(req)
}

var _ Source = (*CalDAVSource)(nil)
