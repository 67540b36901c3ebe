package calendar

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	ics "github.com/emersion/go-ical"
)

// Merge combines appointments from multiple sets into a single slice,
// sorted by begin time. Ties keep their input order.
func Merge(sets ...[]Appointment) []Appointment {
	var all []Appointment
	for _, appts := range sets {
		all = append(all, appts...)
	}

	slices.SortStableFunc(all, func(a, b Appointment) int {
		return a.Begin.Compare(b.Begin)
	})

	return all
}

// Trim returns the appointments whose begin time lies in r, inclusive.
func Trim(appts []Appointment, r DateRange) []Appointment {
	var trimmed []Appointment
	for _, a := range appts {
		if r.Contains(a.Begin) {
			trimmed = append(trimmed, a)
		}
	}
	return trimmed
}

// icsTime is the UTC DATE-TIME format used for absolute VALARM triggers.
const icsTime = "20060102T150405Z"

// WriteICS writes appointments to an ICS file atomically.
// It writes to a temp file first, then renames to the final path.
func WriteICS(path string, appts []Appointment) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	cal := ics.NewCalendar()
	cal.Props.SetText(ics.PropVersion, "2.0")
	cal.Props.SetText(ics.PropProductID, "-//alarmd//alarmd//EN")

	for _, a := range appts {
		name := ics.CompEvent
		if a.Type == TypeAlarm {
			name = ics.CompToDo
		}
		comp := ics.NewComponent(name)

		comp.Props.SetText(ics.PropUID, a.UID)
		comp.Props.SetText(ics.PropSummary, a.Summary)

		// DTSTAMP is required by RFC 5545
		comp.Props.SetDateTime(ics.PropDateTimeStamp, time.Now().UTC())

		if a.Description != "" {
			comp.Props.SetText(ics.PropDescription, a.Description)
		}
		if a.Location != "" {
			comp.Props.SetText(ics.PropLocation, a.Location)
		}
		if a.ActivationURL != "" {
			comp.Props.SetText(ics.PropURL, a.ActivationURL)
		}
		if a.Color != "" {
			comp.Props.SetText(propColor, a.Color)
		}

		endProp := ics.PropDateTimeEnd
		if a.Type == TypeAlarm {
			endProp = ics.PropDue
		}
		if a.AllDay {
			comp.Props.SetDate(ics.PropDateTimeStart, a.Begin)
			comp.Props.SetDate(endProp, a.End)
		} else {
			comp.Props.SetDateTime(ics.PropDateTimeStart, a.Begin.UTC())
			comp.Props.SetDateTime(endProp, a.End.UTC())
		}

		for _, alarm := range a.Alarms {
			comp.Children = append(comp.Children, alarmComponent(alarm))
		}

		comp.Props.SetText(sourceProp, a.Source)

		cal.Children = append(cal.Children, comp)
	}

	var buf bytes.Buffer
	enc := ics.NewEncoder(&buf)
	if err := enc.Encode(cal); err != nil {
		return fmt.Errorf("encode ICS: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Clean up temp file on error
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// alarmComponent encodes an alarm as a VALARM with an absolute trigger.
func alarmComponent(alarm Alarm) *ics.Component {
	comp := ics.NewComponent(ics.CompAlarm)

	action := "DISPLAY"
	if alarm.AudioURL != "" {
		action = "AUDIO"
		comp.Props.SetText(ics.PropAttach, alarm.AudioURL)
	}
	comp.Props.SetText(ics.PropAction, action)
	comp.Props.SetText(ics.PropDescription, alarm.Text)

	trigger := ics.NewProp(ics.PropTrigger)
	trigger.Params.Set(ics.ParamValue, "DATE-TIME")
	trigger.Value = alarm.Time.UTC().Format(icsTime)
	comp.Props.Set(trigger)

	return comp
}

// ReadICS reads appointments overlapping r from an ICS file.
func ReadICS(path string, r DateRange, loc *time.Location) ([]Appointment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ICS file: %w", err)
	}
	defer f.Close()

	return ParseICS(f, "", r, loc)
}
