package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ics "github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

const (
	propColor    = "COLOR"
	paramRelated = "RELATED"

	// sourceProp records the source name in the ICS cache.
	sourceProp = "X-ALARMD-SOURCE"
)

// ICSSource fetches appointments from an ICS/iCal URL.
type ICSSource struct {
	name     string
	url      string
	username string
	password string
	client   *http.Client
}

// NewICSSource creates a new ICS calendar source.
func NewICSSource(name, url, username, password string) *ICSSource {
	return &ICSSource{
		name:     name,
		url:      url,
		username: username,
		password: password,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the display name of this calendar source.
func (s *ICSSource) Name() string {
	return s.name
}

// Fetch retrieves appointments from the ICS feed.
func (s *ICSSource) Fetch(ctx context.Context, begin, end time.Time, loc *time.Location) ([]Appointment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Add basic auth if credentials provided
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ICS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch ICS: status %d", resp.StatusCode)
	}

	return ParseICS(resp.Body, s.name, DateRange{Begin: begin, End: end}, loc)
}

var _ Source = (*ICSSource)(nil)

// ParseICS parses appointments overlapping r from an ICS stream.
// Recurring components are expanded within r.
func ParseICS(r io.Reader, source string, rng DateRange, loc *time.Location) ([]Appointment, error) {
	if loc == nil {
		loc = time.Local
	}
	dec := ics.NewDecoder(r)

	var appts []Appointment
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode ICS: %w", err)
		}
		appts = append(appts, parseCalendar(cal, source, rng, loc)...)
	}

	return Merge(appts), nil
}

// parseCalendar converts the VEVENT and VTODO children of cal.
// Components that can't be parsed are skipped.
func parseCalendar(cal *ics.Calendar, source string, rng DateRange, loc *time.Location) []Appointment {
	var appts []Appointment
	for _, comp := range cal.Children {
		if comp.Name != ics.CompEvent && comp.Name != ics.CompToDo {
			continue
		}
		parsed, err := parseComponent(comp, source, rng, loc)
		if err != nil {
			continue
		}
		for _, a := range parsed {
			// Include appointments that end after the range begins and start before it ends
			if !a.End.Before(rng.Begin) && !a.Begin.After(rng.End) {
				appts = append(appts, a)
			}
		}
	}
	return appts
}

// alarmTrigger is a parsed VALARM before it is bound to an occurrence.
type alarmTrigger struct {
	text     string
	audioURL string

	// Exactly one of relative or absolute is used.
	absolute   time.Time
	relative   time.Duration
	fromEnd    bool
	isAbsolute bool
}

func (t alarmTrigger) at(begin, end time.Time) time.Time {
	switch {
	case t.isAbsolute:
		return t.absolute
	case t.fromEnd:
		return end.Add(t.relative)
	default:
		return begin.Add(t.relative)
	}
}

// parseComponent converts a VEVENT or VTODO component. Recurring components
// yield one appointment per occurrence overlapping rng, each with a distinct
// UID.
func parseComponent(comp *ics.Component, source string, rng DateRange, loc *time.Location) ([]Appointment, error) {
	base := Appointment{
		Type:   TypeEvent,
		Source: source,
	}
	if comp.Name == ics.CompToDo {
		base.Type = TypeAlarm
	}

	if prop := comp.Props.Get(ics.PropStatus); prop != nil {
		switch strings.ToUpper(prop.Value) {
		case "CANCELLED", "COMPLETED":
			return nil, nil
		}
	}

	base.UID = propText(comp, ics.PropUID)
	base.Summary = propText(comp, ics.PropSummary)
	base.Description = propText(comp, ics.PropDescription)
	base.Location = propText(comp, ics.PropLocation)
	base.ActivationURL = propText(comp, ics.PropURL)
	base.Color = propText(comp, propColor)
	if src := propText(comp, sourceProp); src != "" {
		base.Source = src
	}

	// Start time
	startProp := comp.Props.Get(ics.PropDateTimeStart)
	if startProp == nil && base.Type == TypeAlarm {
		startProp = comp.Props.Get(ics.PropDue)
	}
	if startProp == nil {
		return nil, fmt.Errorf("missing start time")
	}
	begin, allDay, err := propTime(startProp, loc)
	if err != nil {
		return nil, fmt.Errorf("parse start time: %w", err)
	}

	// End time / duration
	var duration time.Duration
	endProp := comp.Props.Get(ics.PropDateTimeEnd)
	if endProp == nil && base.Type == TypeAlarm {
		endProp = comp.Props.Get(ics.PropDue)
	}
	if endProp != nil {
		t, _, err := propTime(endProp, loc)
		if err != nil {
			return nil, fmt.Errorf("parse end time: %w", err)
		}
		duration = t.Sub(begin)
	} else if prop := comp.Props.Get(ics.PropDuration); prop != nil {
		d, err := prop.Duration()
		if err != nil {
			return nil, fmt.Errorf("parse duration: %w", err)
		}
		duration = d
	} else if base.Type == TypeEvent && !allDay {
		// Default to 1 hour duration
		duration = time.Hour
	} else if allDay {
		duration = 24 * time.Hour
	}

	triggers := parseAlarms(comp, base)
	if len(triggers) == 0 && base.Type == TypeAlarm {
		// A clock alarm without VALARM rings at its own time.
		triggers = []alarmTrigger{{text: base.Summary}}
	}

	build := func(occ time.Time, uid string, recurring bool) Appointment {
		a := base
		a.UID = uid
		a.Begin = occ
		a.End = occ.Add(duration)
		a.AllDay = allDay || isEffectivelyAllDay(a.Begin, a.End)
		a.Alarms = nil
		for _, trig := range triggers {
			// An absolute trigger belongs to the first occurrence only.
			if trig.isAbsolute && recurring && !occ.Equal(begin) {
				continue
			}
			a.Alarms = append(a.Alarms, Alarm{
				Text:     trig.text,
				AudioURL: trig.audioURL,
				Time:     trig.at(a.Begin, a.End),
			})
		}
		return a
	}

	rset, err := comp.RecurrenceSet(loc)
	if err != nil {
		return nil, fmt.Errorf("parse recurrence: %w", err)
	}
	if rset == nil {
		return []Appointment{build(begin, base.UID, false)}, nil
	}

	var appts []Appointment
	for _, occ := range occurrences(rset, rng, duration) {
		// Make UID unique per occurrence
		uid := fmt.Sprintf("%s_%d", base.UID, occ.Unix())
		appts = append(appts, build(occ, uid, true))
	}
	return appts, nil
}

// maxOccurrences caps recurrence expansion per component.
const maxOccurrences = 5000

// occurrences expands rset within rng. It looks back by duration to catch
// occurrences that have started but not ended yet.
func occurrences(rset *rrule.Set, rng DateRange, duration time.Duration) []time.Time {
	occ := rset.Between(rng.Begin.Add(-duration), rng.End, true)
	if len(occ) > maxOccurrences {
		occ = occ[:maxOccurrences]
	}
	return occ
}

// parseAlarms reads the DISPLAY and AUDIO VALARM children of comp.
func parseAlarms(comp *ics.Component, base Appointment) []alarmTrigger {
	var triggers []alarmTrigger
	for _, child := range comp.Children {
		if child.Name != ics.CompAlarm {
			continue
		}

		action := strings.ToUpper(propText(child, ics.PropAction))
		if action != "" && action != "DISPLAY" && action != "AUDIO" {
			continue
		}

		prop := child.Props.Get(ics.PropTrigger)
		if prop == nil {
			continue
		}

		trig := alarmTrigger{text: propText(child, ics.PropDescription)}
		if trig.text == "" {
			trig.text = base.Summary
		}
		if action == "AUDIO" {
			trig.audioURL = propText(child, ics.PropAttach)
		}

		if strings.EqualFold(prop.Params.Get(ics.ParamValue), "DATE-TIME") {
			t, err := prop.DateTime(time.UTC)
			if err != nil {
				continue
			}
			trig.absolute = t
			trig.isAbsolute = true
		} else {
			d, err := prop.Duration()
			if err != nil {
				continue
			}
			trig.relative = d
			trig.fromEnd = strings.EqualFold(prop.Params.Get(paramRelated), "END")
		}
		triggers = append(triggers, trig)
	}
	return triggers
}

func propText(comp *ics.Component, name string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}
	if name == ics.PropOrganizer {
		return strings.TrimPrefix(prop.Value, "mailto:")
	}
	return prop.Value
}

// propTime parses a DATE or DATE-TIME property. Floating times and dates are
// interpreted in loc. The second result reports a date-only value.
func propTime(prop *ics.Prop, loc *time.Location) (time.Time, bool, error) {
	if strings.EqualFold(prop.Params.Get(ics.ParamValue), "DATE") || len(prop.Value) == len("20060102") {
		t, err := parseDateOnly(prop.Value, loc)
		return t, true, err
	}

	t, err := prop.DateTime(loc)
	if err == nil {
		return t, false, nil
	}
	// Try parsing as local datetime without timezone (floating time)
	t, err = parseDateTime(prop.Value, loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, false, nil
}

// parseDateOnly parses a date-only value (YYYYMMDD format).
func parseDateOnly(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("20060102", s, loc)
}

// parseDateTime parses a datetime value without timezone (YYYYMMDDTHHmmss format).
// This handles "floating time" values that are neither UTC nor have a TZID.
func parseDateTime(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("20060102T150405", s, loc)
}
