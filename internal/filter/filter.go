// Package filter provides include filtering for appointments.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cpuguy83/alarmd/internal/calendar"
	"github.com/cpuguy83/alarmd/internal/config"
)

// MatchType specifies how a filter rule matches.
type MatchType int

const (
	MatchContains MatchType = iota // Substring match (default)
	MatchExact                     // Exact string match
	MatchPrefix                    // Starts with
	MatchSuffix                    // Ends with
	MatchRegex                     // Regular expression
)

// Filter applies include rules to appointments.
type Filter struct {
	mode  string // "or" or "and"
	rules []rule
}

type rule struct {
	field           string
	matchType       MatchType
	pattern         string         // For non-regex matches
	regex           *regexp.Regexp // For regex matches
	caseInsensitive bool
}

// New creates a new filter from configuration.
func New(cfg config.FilterConfig) (*Filter, error) {
	f := &Filter{
		mode: cfg.Mode,
	}

	if f.mode == "" {
		f.mode = "or"
	}

	for i, r := range cfg.Rules {
		compiled, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		f.rules = append(f.rules, compiled)
	}

	return f, nil
}

var fields = map[string]bool{
	"title": true, "summary": true,
	"source": true, "calendar": true,
	"description": true, "location": true, "type": true,
}

// compileRule converts a config FilterRule to an internal rule.
func compileRule(r config.FilterRule) (rule, error) {
	compiled := rule{
		field:           r.Field,
		caseInsensitive: r.CaseInsensitive,
	}
	if !fields[r.Field] {
		return compiled, fmt.Errorf("unknown field %q", r.Field)
	}

	if r.Regex != "" {
		pattern := r.Regex
		if r.CaseInsensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return compiled, fmt.Errorf("invalid regex %q: %w", r.Regex, err)
		}
		compiled.matchType = MatchRegex
		compiled.regex = re
		return compiled, nil
	}

	for _, m := range []struct {
		typ     MatchType
		pattern string
	}{
		{MatchExact, r.Exact},
		{MatchPrefix, r.Prefix},
		{MatchSuffix, r.Suffix},
		{MatchContains, r.Contains},
	} {
		if m.pattern == "" {
			continue
		}
		compiled.matchType = m.typ
		compiled.pattern = m.pattern
		if r.CaseInsensitive {
			compiled.pattern = strings.ToLower(m.pattern)
		}
		return compiled, nil
	}

	return compiled, fmt.Errorf("no match pattern specified (use contains, exact, prefix, suffix, or regex)")
}

// Apply returns the appointments that match the include rules.
// If no rules are defined, all appointments are returned.
func (f *Filter) Apply(appts []calendar.Appointment) []calendar.Appointment {
	if len(f.rules) == 0 {
		return appts
	}

	var filtered []calendar.Appointment
	for _, a := range appts {
		if f.matches(a) {
			filtered = append(filtered, a)
		}
	}
	return filtered
}

func (f *Filter) matches(a calendar.Appointment) bool {
	if f.mode == "and" {
		for _, r := range f.rules {
			if !r.matches(a) {
				return false
			}
		}
		return true
	}

	for _, r := range f.rules {
		if r.matches(a) {
			return true
		}
	}
	return false
}

func (r *rule) matches(a calendar.Appointment) bool {
	value := r.fieldValue(a)

	if r.caseInsensitive && r.matchType != MatchRegex {
		value = strings.ToLower(value)
	}

	switch r.matchType {
	case MatchRegex:
		return r.regex.MatchString(value)
	case MatchExact:
		return value == r.pattern
	case MatchPrefix:
		return strings.HasPrefix(value, r.pattern)
	case MatchSuffix:
		return strings.HasSuffix(value, r.pattern)
	default:
		return strings.Contains(value, r.pattern)
	}
}

func (r *rule) fieldValue(a calendar.Appointment) string {
	switch r.field {
	case "title", "summary":
		return a.Summary
	case "source", "calendar":
		return a.Source
	case "description":
		return a.Description
	case "location":
		return a.Location
	case "type":
		return a.Type.String()
	default:
		return ""
	}
}
