package config

import (
	"time"

	"github.com/cpuguy83/alarmd/internal/event"
)

// Settings holds the alarm preferences that may change at runtime.
// It is used from the main loop only.
type Settings struct {
	cur     AlarmConfig
	changed event.Signal[AlarmConfig]
}

// NewSettings returns settings starting at cfg.
func NewSettings(cfg AlarmConfig) *Settings {
	return &Settings{cur: cfg}
}

// Alarm returns the current preferences.
func (s *Settings) Alarm() AlarmConfig {
	return s.cur
}

// SnoozeDuration returns the current snooze duration.
func (s *Settings) SnoozeDuration() time.Duration {
	return s.cur.Snooze
}

// Set replaces the preferences and notifies subscribers if they changed.
func (s *Settings) Set(cfg AlarmConfig) {
	if cfg == s.cur {
		return
	}
	s.cur = cfg
	s.changed.Emit(cfg)
}

// OnChanged registers fn for changes.
func (s *Settings) OnChanged(fn func(AlarmConfig)) *event.Connection {
	return s.changed.Connect(fn)
}
