// Package timezone tracks the current timezone and the user's known
// locations.
package timezone

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cpuguy83/alarmd/internal/event"
)

// Location is a named timezone. It is immutable; the offset is computed when
// the Location is constructed.
type Location struct {
	// Zone is the IANA zone identifier, e.g. "Europe/Berlin".
	Zone string

	// Name is the human-readable name, e.g. "Berlin".
	Name string

	// Offset is the UTC offset at construction time.
	Offset time.Duration
}

// NewLocation creates a Location for zone. If name is empty it is derived
// from the city part of the zone identifier.
func NewLocation(zone, name string, now time.Time) (Location, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Location{}, fmt.Errorf("load zone %q: %w", zone, err)
	}
	if name == "" {
		name = CityName(zone)
	}
	_, offset := now.In(loc).Zone()
	return Location{
		Zone:   zone,
		Name:   name,
		Offset: time.Duration(offset) * time.Second,
	}, nil
}

// CityName returns the city part of a zone identifier, with underscores
// replaced by spaces.
func CityName(zone string) string {
	if i := strings.LastIndex(zone, "/"); i >= 0 {
		zone = zone[i+1:]
	}
	return strings.ReplaceAll(zone, "_", " ")
}

// Provider reports the current timezone.
type Provider interface {
	// Current returns the current IANA zone identifier.
	Current() string

	// OnChanged is called with the new zone whenever it changes.
	OnChanged(fn func(zone string)) *event.Connection
}

// Load returns the time.Location for the provider's current zone, falling
// back to time.Local if the zone is empty or unknown.
func Load(p Provider) *time.Location {
	zone := p.Current()
	if zone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Fixed is a Provider with a zone that only changes when Set is called.
type Fixed struct {
	zone    string
	changed event.Signal[string]
}

// NewFixed returns a provider for zone.
func NewFixed(zone string) *Fixed {
	return &Fixed{zone: zone}
}

// Current returns the zone.
func (f *Fixed) Current() string {
	return f.zone
}

// Set changes the zone and notifies subscribers if it differs.
func (f *Fixed) Set(zone string) {
	if zone == f.zone {
		return
	}
	f.zone = zone
	f.changed.Emit(zone)
}

// OnChanged registers fn for zone changes.
func (f *Fixed) OnChanged(fn func(string)) *event.Connection {
	return f.changed.Connect(fn)
}

// LocalZone guesses the local zone identifier from $TZ and /etc/localtime.
func LocalZone() string {
	if tz := strings.TrimPrefix(os.Getenv("TZ"), ":"); tz != "" {
		return tz
	}
	if target, err := os.Readlink("/etc/localtime"); err == nil {
		if i := strings.Index(target, "zoneinfo/"); i >= 0 {
			return target[i+len("zoneinfo/"):]
		}
	}
	return ""
}

// Locations builds the list of known locations from zone identifiers,
// skipping unknown zones and duplicates. The current zone is listed first.
func Locations(current string, zones []string, now time.Time) ([]Location, []error) {
	var (
		locs []Location
		errs []error
		seen = make(map[string]bool)
	)
	for _, zone := range append([]string{current}, zones...) {
		if zone == "" || seen[zone] {
			continue
		}
		seen[zone] = true
		loc, err := NewLocation(zone, "", now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		locs = append(locs, loc)
	}
	return locs, errs
}
