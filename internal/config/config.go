// Package config provides configuration loading for alarmd.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoSources is returned by Validate when no calendar source is configured.
var ErrNoSources = errors.New("no calendar sources configured")

// Config is the root configuration structure.
type Config struct {
	Sync          SyncConfig         `yaml:"sync"`
	Sources       []SourceConfig     `yaml:"sources"`
	Filters       FilterConfig       `yaml:"filters"`
	Alarm         AlarmConfig        `yaml:"alarm"`
	Wakeup        WakeupConfig       `yaml:"wakeup"`
	Planner       PlannerConfig      `yaml:"planner"`
	Queue         QueueConfig        `yaml:"queue"`
	Notifications NotificationConfig `yaml:"notifications"`

	// Locations are extra IANA zones the user cares about.
	Locations []string `yaml:"locations"`
}

// SyncConfig configures calendar fetching.
type SyncConfig struct {
	// Interval between refreshes. Ignored if Schedule is set.
	Interval time.Duration `yaml:"interval"`

	// Schedule is a cron expression for refreshes, e.g. "*/10 * * * *".
	Schedule string `yaml:"schedule"`

	// Cache is the ICS file the fetched appointments are written to and
	// read back from when every source fails.
	Cache string `yaml:"cache"`
}

// SourceConfig configures a calendar source.
type SourceConfig struct {
	Name        string       `yaml:"name"`
	Type        string       `yaml:"type"` // "ics", "caldav", "icloud", "file"
	URL         string       `yaml:"url"`
	Path        string       `yaml:"path,omitempty"` // For file sources
	Username    string       `yaml:"username,omitempty"`
	Password    string       `yaml:"password,omitempty"`
	PasswordCmd string       `yaml:"password_cmd,omitempty"`
	Calendars   []string     `yaml:"calendars,omitempty"` // For CalDAV: which calendars to sync
	Filters     FilterConfig `yaml:"filters,omitempty"`   // Per-source filters (include)
}

// FilterConfig configures appointment filtering.
type FilterConfig struct {
	Mode  string       `yaml:"mode"` // "or" or "and"
	Rules []FilterRule `yaml:"rules"`
}

// FilterRule defines a single filter rule.
// Use exactly one of: Contains, Exact, Prefix, Suffix, or Regex.
type FilterRule struct {
	Field           string `yaml:"field"`              // "title", "source", "description", "location", "type"
	Contains        string `yaml:"contains,omitempty"` // Substring match
	Exact           string `yaml:"exact,omitempty"`    // Exact string match
	Prefix          string `yaml:"prefix,omitempty"`   // Starts with
	Suffix          string `yaml:"suffix,omitempty"`   // Ends with
	Regex           string `yaml:"regex,omitempty"`    // Regular expression
	CaseInsensitive bool   `yaml:"case_insensitive"`
}

// AlarmConfig holds the user's alarm preferences.
type AlarmConfig struct {
	Volume     int           `yaml:"volume"`   // 0-100
	Duration   time.Duration `yaml:"duration"` // How long an alarm rings
	Snooze     time.Duration `yaml:"snooze"`
	Sound      string        `yaml:"sound"`       // For clock alarms without their own sound
	EventSound string        `yaml:"event_sound"` // For calendar events without their own sound
	Haptic     bool          `yaml:"haptic"`
}

// SnoozeDuration returns the snooze duration.
func (c AlarmConfig) SnoozeDuration() time.Duration {
	return c.Snooze
}

// WakeupConfig selects the wakeup timer.
type WakeupConfig struct {
	Backend string `yaml:"backend"` // "auto", "mainloop", "hardware", "powerd"
}

// PlannerConfig configures the appointment window.
type PlannerConfig struct {
	Window   time.Duration `yaml:"window"`
	Debounce time.Duration `yaml:"debounce"`
}

// QueueConfig configures the alarm queue.
type QueueConfig struct {
	SkewThreshold time.Duration `yaml:"skew_threshold"`

	// Retention is how long fired alarms are remembered once they leave
	// the planner. Negative means forever.
	Retention time.Duration `yaml:"retention"`

	// Journal is the SQLite file fired alarms are recorded in. "-" disables
	// the journal.
	Journal string `yaml:"journal"`
}

// NotificationConfig configures desktop notifications.
type NotificationConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultPath returns the default config file location
// (~/.config/alarmd/config.yaml).
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config dir: %w", err)
	}
	return filepath.Join(configDir, "alarmd", "config.yaml"), nil
}

// Load reads configuration from the default location.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads configuration from a specific path.
func LoadFrom(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Notifications: NotificationConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()

	cfg.Sync.Cache = expandPath(cfg.Sync.Cache)
	if cfg.Queue.Journal != "-" {
		cfg.Queue.Journal = expandPath(cfg.Queue.Journal)
	}
	for i := range cfg.Sources {
		cfg.Sources[i].Path = expandPath(cfg.Sources[i].Path)
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified config options.
func (c *Config) applyDefaults() {
	dataDir := dataHome()

	if c.Sync.Interval == 0 {
		c.Sync.Interval = 5 * time.Minute
	}
	if c.Sync.Cache == "" {
		c.Sync.Cache = filepath.Join(dataDir, "alarmd", "calendar.ics")
	}
	if c.Filters.Mode == "" {
		c.Filters.Mode = "or"
	}
	if c.Alarm.Volume == 0 {
		c.Alarm.Volume = 50
	}
	if c.Alarm.Duration == 0 {
		c.Alarm.Duration = 10 * time.Minute
	}
	if c.Alarm.Snooze == 0 {
		c.Alarm.Snooze = 5 * time.Minute
	}
	if c.Alarm.Sound == "" {
		c.Alarm.Sound = "/usr/share/sounds/freedesktop/stereo/alarm-clock-elapsed.oga"
	}
	if c.Alarm.EventSound == "" {
		c.Alarm.EventSound = "/usr/share/sounds/freedesktop/stereo/message-new-instant.oga"
	}
	if c.Wakeup.Backend == "" {
		c.Wakeup.Backend = "auto"
	}
	if c.Planner.Window == 0 {
		c.Planner.Window = 30 * 24 * time.Hour
	}
	if c.Planner.Debounce == 0 {
		c.Planner.Debounce = 500 * time.Millisecond
	}
	if c.Queue.SkewThreshold == 0 {
		c.Queue.SkewThreshold = 90 * time.Second
	}
	if c.Queue.Retention == 0 {
		c.Queue.Retention = 24 * time.Hour
	}
	if c.Queue.Journal == "" {
		c.Queue.Journal = filepath.Join(dataDir, "alarmd", "alarmd.db")
	}
}

// Validate checks the configuration for errors. A configuration without
// sources is usable, but Validate reports it with ErrNoSources.
func (c *Config) Validate() error {
	var errs []error

	switch c.Wakeup.Backend {
	case "auto", "mainloop", "hardware", "powerd":
	default:
		errs = append(errs, fmt.Errorf("unknown wakeup backend %q", c.Wakeup.Backend))
	}
	if c.Alarm.Volume < 0 || c.Alarm.Volume > 100 {
		errs = append(errs, fmt.Errorf("alarm volume %d out of range 0-100", c.Alarm.Volume))
	}

	seen := make(map[string]bool)
	for i, s := range c.Sources {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("source %d: missing name", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("source %q: duplicate name", s.Name))
		}
		seen[s.Name] = true

		switch s.Type {
		case "ics", "caldav":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("source %q: missing url", s.Name))
			}
		case "file":
			if s.Path == "" {
				errs = append(errs, fmt.Errorf("source %q: missing path", s.Name))
			}
		case "icloud":
		default:
			errs = append(errs, fmt.Errorf("source %q: unknown type %q", s.Name, s.Type))
		}
	}

	if len(errs) == 0 && len(c.Sources) == 0 {
		return ErrNoSources
	}
	return errors.Join(errs...)
}

// GetPassword returns the password for a source, executing password_cmd if needed.
func (s *SourceConfig) GetPassword() (string, error) {
	if s.Password != "" {
		return s.Password, nil
	}
	if s.PasswordCmd == "" {
		return "", nil
	}

	cmd := exec.Command("sh", "-c", s.PasswordCmd)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("execute password_cmd: %w", err)
	}

	return strings.TrimSpace(string(out)), nil
}

func dataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// parseDuration extends time.ParseDuration with whole days ("14d") and
// weeks ("2w"). An empty string is zero.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	unit := time.Duration(0)
	switch {
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(s, "w"):
		unit = 7 * 24 * time.Hour
	}
	if unit == 0 {
		return time.ParseDuration(s)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(n) * unit, nil
}

// UnmarshalYAML implements custom unmarshaling for duration fields.
func (c *SyncConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Interval string `yaml:"interval"`
		Schedule string `yaml:"schedule"`
		Cache    string `yaml:"cache"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	d, err := parseDuration(raw.Interval)
	if err != nil {
		return fmt.Errorf("parse interval: %w", err)
	}
	c.Interval = d
	c.Schedule = raw.Schedule
	c.Cache = raw.Cache
	return nil
}

// UnmarshalYAML implements custom unmarshaling for alarm config.
func (c *AlarmConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Volume     int    `yaml:"volume"`
		Duration   string `yaml:"duration"`
		Snooze     string `yaml:"snooze"`
		Sound      string `yaml:"sound"`
		EventSound string `yaml:"event_sound"`
		Haptic     bool   `yaml:"haptic"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	var err error
	if c.Duration, err = parseDuration(raw.Duration); err != nil {
		return fmt.Errorf("parse alarm duration: %w", err)
	}
	if c.Snooze, err = parseDuration(raw.Snooze); err != nil {
		return fmt.Errorf("parse snooze: %w", err)
	}
	c.Volume = raw.Volume
	c.Sound = expandPath(raw.Sound)
	c.EventSound = expandPath(raw.EventSound)
	c.Haptic = raw.Haptic
	return nil
}

// UnmarshalYAML implements custom unmarshaling for planner config.
func (c *PlannerConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Window   string `yaml:"window"`
		Debounce string `yaml:"debounce"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	var err error
	if c.Window, err = parseDuration(raw.Window); err != nil {
		return fmt.Errorf("parse window: %w", err)
	}
	if c.Debounce, err = parseDuration(raw.Debounce); err != nil {
		return fmt.Errorf("parse debounce: %w", err)
	}
	return nil
}

// UnmarshalYAML implements custom unmarshaling for queue config.
// A retention of "forever" keeps fired alarms indefinitely.
func (c *QueueConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		SkewThreshold string `yaml:"skew_threshold"`
		Retention     string `yaml:"retention"`
		Journal       string `yaml:"journal"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	var err error
	if c.SkewThreshold, err = parseDuration(raw.SkewThreshold); err != nil {
		return fmt.Errorf("parse skew_threshold: %w", err)
	}
	if raw.Retention == "forever" {
		c.Retention = -1
	} else if c.Retention, err = parseDuration(raw.Retention); err != nil {
		return fmt.Errorf("parse retention: %w", err)
	}
	c.Journal = raw.Journal
	return nil
}
