package config

import (
	"errors"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		// Days
		{"1d", 24 * time.Hour, false},
		{"14d", 14 * 24 * time.Hour, false},
		{"30d", 30 * 24 * time.Hour, false},

		// Weeks
		{"1w", 7 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"4w", 28 * 24 * time.Hour, false},

		// Standard Go durations
		{"5m", 5 * time.Minute, false},
		{"1h", time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"336h", 14 * 24 * time.Hour, false},
		{"1h30m", time.Hour + 30*time.Minute, false},

		// Edge cases
		{"0d", 0, false},
		{"0w", 0, false},
		{"", 0, false},
		{"  14d  ", 14 * 24 * time.Hour, false},

		// Errors
		{"invalid", 0, true},
		{"d", 0, true},
		{"w", 0, true},
		{"14x", 0, true},
		{"-1d", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")

	cfg, err := Parse([]byte(`
sources:
  - name: home
    type: ics
    url: https://example.com/home.ics
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Alarm.Snooze != 5*time.Minute {
		t.Errorf("Snooze = %v, want 5m", cfg.Alarm.Snooze)
	}
	if cfg.Alarm.Duration != 10*time.Minute {
		t.Errorf("Duration = %v, want 10m", cfg.Alarm.Duration)
	}
	if cfg.Wakeup.Backend != "auto" {
		t.Errorf("Backend = %q, want auto", cfg.Wakeup.Backend)
	}
	if cfg.Planner.Window != 30*24*time.Hour || cfg.Planner.Debounce != 500*time.Millisecond {
		t.Errorf("Planner = %+v, want 30d window and 500ms debounce", cfg.Planner)
	}
	if cfg.Queue.SkewThreshold != 90*time.Second || cfg.Queue.Retention != 24*time.Hour {
		t.Errorf("Queue = %+v", cfg.Queue)
	}
	if cfg.Queue.Journal != "/data/alarmd/alarmd.db" {
		t.Errorf("Journal = %q", cfg.Queue.Journal)
	}
	if !cfg.Notifications.Enabled {
		t.Error("notifications should be enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
sync:
  schedule: "*/10 * * * *"
alarm:
  snooze: 9m
  duration: 1h
  volume: 80
planner:
  window: 2w
  debounce: 2s
queue:
  retention: forever
  journal: "-"
wakeup:
  backend: powerd
notifications:
  enabled: false
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Sync.Schedule != "*/10 * * * *" {
		t.Errorf("Schedule = %q", cfg.Sync.Schedule)
	}
	if cfg.Alarm.Snooze != 9*time.Minute || cfg.Alarm.Duration != time.Hour || cfg.Alarm.Volume != 80 {
		t.Errorf("Alarm = %+v", cfg.Alarm)
	}
	if cfg.Planner.Window != 14*24*time.Hour || cfg.Planner.Debounce != 2*time.Second {
		t.Errorf("Planner = %+v, want 2w window and 2s debounce", cfg.Planner)
	}
	if cfg.Queue.Retention >= 0 {
		t.Errorf("Retention = %v, want negative", cfg.Queue.Retention)
	}
	if cfg.Queue.Journal != "-" {
		t.Errorf("Journal = %q, want -", cfg.Queue.Journal)
	}
	if cfg.Wakeup.Backend != "powerd" || cfg.Notifications.Enabled {
		t.Errorf("Wakeup = %+v, Notifications = %+v", cfg.Wakeup, cfg.Notifications)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrNoSources) {
		t.Errorf("Validate = %v, want ErrNoSources", err)
	}
}

func TestParseInvalidDuration(t *testing.T) {
	if _, err := Parse([]byte("alarm:\n  snooze: soon\n")); err == nil {
		t.Error("expected error for invalid snooze")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg: Config{
				Wakeup:  WakeupConfig{Backend: "auto"},
				Sources: []SourceConfig{{Name: "a", Type: "file", Path: "/tmp/a.ics"}},
			},
		},
		{
			name: "unknown backend",
			cfg: Config{
				Wakeup:  WakeupConfig{Backend: "sundial"},
				Sources: []SourceConfig{{Name: "a", Type: "icloud"}},
			},
			wantErr: true,
		},
		{
			name: "duplicate source",
			cfg: Config{
				Wakeup: WakeupConfig{Backend: "auto"},
				Sources: []SourceConfig{
					{Name: "a", Type: "ics", URL: "https://example.com/a.ics"},
					{Name: "a", Type: "ics", URL: "https://example.com/b.ics"},
				},
			},
			wantErr: true,
		},
		{
			name: "missing url",
			cfg: Config{
				Wakeup:  WakeupConfig{Backend: "auto"},
				Sources: []SourceConfig{{Name: "a", Type: "caldav"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettingsNotifiesOnChange(t *testing.T) {
	s := NewSettings(AlarmConfig{Snooze: 5 * time.Minute})
	changes := 0
	s.OnChanged(func(AlarmConfig) { changes++ })

	s.Set(AlarmConfig{Snooze: 5 * time.Minute})
	s.Set(AlarmConfig{Snooze: 7 * time.Minute})

	if changes != 1 {
		t.Errorf("changes = %d, want 1", changes)
	}
	if s.SnoozeDuration() != 7*time.Minute {
		t.Errorf("SnoozeDuration() = %v", s.SnoozeDuration())
	}
}
