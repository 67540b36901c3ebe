// Package links finds the URL to open when an appointment is activated.
package links

import (
	"os/exec"
	"regexp"

	"github.com/cpuguy83/alarmd/internal/calendar"
)

type service struct {
	name    string
	pattern *regexp.Regexp
}

// Known meeting services, checked before any generic URL.
var services = []service{
	{"Zoom", regexp.MustCompile(`https?://[\w.-]*zoom\.us/j/[\w?=&-]+`)},
	{"Teams", regexp.MustCompile(`https?://teams\.microsoft\.com/l/meetup-join/[\w%/-]+`)},
	{"Meet", regexp.MustCompile(`https?://meet\.google\.com/[\w-]+`)},
	{"Webex", regexp.MustCompile(`https?://[\w.-]*\.webex\.com/[\w./-]+`)},
}

var genericURL = regexp.MustCompile(`https?://[^\s<>"]+`)

// Activation returns the URL for appt: its own activation URL, else the
// first meeting link in its location or description, else any URL found
// there.
func Activation(appt calendar.Appointment) string {
	if appt.ActivationURL != "" {
		return appt.ActivationURL
	}
	for _, text := range []string{appt.Location, appt.Description} {
		for _, s := range services {
			if m := s.pattern.FindString(text); m != "" {
				return m
			}
		}
	}
	for _, text := range []string{appt.Location, appt.Description} {
		if m := genericURL.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

// Service returns the name of the meeting service for a URL.
func Service(url string) string {
	for _, s := range services {
		if s.pattern.MatchString(url) {
			return s.name
		}
	}
	return "Link"
}

// Opener opens URLs.
type Opener interface {
	Open(url string) error
}

// XDGOpener opens URLs with xdg-open.
type XDGOpener struct{}

// Open starts xdg-open for url without waiting for it.
func (XDGOpener) Open(url string) error {
	return exec.Command("xdg-open", url).Start()
}
