// alarmd fires calendar and clock alarms at the right time, waking the
// system from suspend when it can.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/cpuguy83/alarmd/internal/alarm"
	"github.com/cpuguy83/alarmd/internal/calendar"
	"github.com/cpuguy83/alarmd/internal/clock"
	"github.com/cpuguy83/alarmd/internal/config"
	"github.com/cpuguy83/alarmd/internal/links"
	"github.com/cpuguy83/alarmd/internal/mainloop"
	"github.com/cpuguy83/alarmd/internal/notify"
	"github.com/cpuguy83/alarmd/internal/planner"
	"github.com/cpuguy83/alarmd/internal/store"
	"github.com/cpuguy83/alarmd/internal/sync"
	"github.com/cpuguy83/alarmd/internal/timezone"
	"github.com/cpuguy83/alarmd/internal/wakeup"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (default: ~/.config/alarmd/config.yaml)")
		verbose    = flag.Bool("v", false, "verbose logging")
		list       = flag.Bool("list", false, "print upcoming alarms and exit")
	)
	flag.Parse()

	// Setup logging
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		if !errors.Is(err, config.ErrNoSources) {
			slog.Error("invalid config", "error", err)
			os.Exit(1)
		}
		slog.Warn("no calendar sources configured, only snoozed alarms will ring")
	}

	if *list {
		if err := listAlarms(cfg, os.Stdout); err != nil {
			slog.Error("list alarms", "error", err)
			os.Exit(1)
		}
		return
	}

	app := &App{cfg: cfg, configPath: *configPath}
	if err := app.Run(); err != nil {
		slog.Error("alarmd failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// App wires the alarm components together. Everything except Run's signal
// handling runs on the main loop.
type App struct {
	cfg        *config.Config
	configPath string

	loop       *mainloop.Loop
	sessionBus *dbus.Conn
	systemBus  *dbus.Conn

	settings *config.Settings
	tz       timezone.Provider
	timedate *timezone.Timedated
	clock    *clock.Live
	syncer   *sync.Syncer
	upcoming *planner.UpcomingPlanner
	snooze   *planner.SnoozePlanner
	planner  *planner.AggregatePlanner
	timer    wakeup.Timer
	journal  *store.Journal
	queue    *alarm.Queue
	notifier *notify.AlarmNotifier

	closers []func()
}

// Run starts alarmd and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.loop = mainloop.New()

	errCh := make(chan error, 1)
	a.loop.Post(func() {
		if err := a.start(ctx); err != nil {
			errCh <- err
			a.loop.Stop()
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				a.reload()
				continue
			}
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
			return
		}
	}()

	runErr := a.loop.Run(ctx)
	a.cleanup()

	select {
	case err := <-errCh:
		return err
	default:
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func (a *App) start(ctx context.Context) error {
	var err error

	a.connectBuses()
	a.settings = config.NewSettings(a.cfg.Alarm)
	a.settings.OnChanged(func(c config.AlarmConfig) {
		slog.Info("alarm settings changed", "snooze", c.Snooze, "duration", c.Duration, "sound", c.Sound)
	})

	a.tz = a.timezoneProvider()
	now := time.Now()
	locs, errs := timezone.Locations(a.tz.Current(), a.cfg.Locations, now)
	for _, err := range errs {
		slog.Warn("skipping location", "error", err)
	}
	for _, l := range locs {
		slog.Debug("location", "zone", l.Zone, "name", l.Name, "offset", l.Offset)
	}

	a.clock = clock.NewLive(a.loop, a.tz, clock.Options{})
	a.clock.Start()
	a.closers = append(a.closers, a.clock.Close)
	if a.systemBus != nil {
		stop, err := a.clock.WatchSleep(a.systemBus)
		if err != nil {
			slog.Warn("not watching for resume from sleep", "error", err)
		} else {
			a.closers = append(a.closers, stop)
		}
	}

	a.syncer, err = sync.NewSyncer(a.cfg)
	if err != nil {
		return fmt.Errorf("create syncer: %w", err)
	}
	a.syncer.Start(a.loop)
	a.closers = append(a.closers, a.syncer.Stop)

	a.upcoming = newUpcomingPlanner(a.loop, a.syncer, a.tz, a.clock.Localtime(), a.cfg.Planner)
	a.snooze = planner.NewSnoozePlanner(a.clock, a.settings)
	a.planner = planner.NewAggregatePlanner(a.upcoming, a.snooze)
	a.closers = append(a.closers, a.upcoming.Close, a.planner.Close)
	a.upcoming.OnRangeChanged(func(r calendar.DateRange) {
		slog.Debug("planner window moved", "begin", r.Begin, "end", r.End)
	})

	followToday := func() { a.upcoming.SetDate(a.clock.Localtime()) }
	a.clock.OnMinuteChanged(followToday)
	a.clock.OnSkew(followToday)

	a.timer, err = wakeup.New(a.loop, wakeup.Options{
		Backend:   a.cfg.Wakeup.Backend,
		SystemBus: a.systemBus,
	})
	if err != nil {
		return fmt.Errorf("create wakeup timer: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := a.timer.Close(); err != nil {
			slog.Warn("close wakeup timer", "error", err)
		}
	})

	opts := alarm.Options{
		SkewThreshold: a.cfg.Queue.SkewThreshold,
		Retention:     a.cfg.Queue.Retention,
	}
	if a.cfg.Queue.Journal != "-" {
		db, err := store.Open(a.cfg.Queue.Journal)
		if err != nil {
			slog.Warn("alarm journal unavailable, alarms may ring again after a restart", "error", err)
		} else {
			a.journal = store.NewJournal(db)
			opts.Journal = a.journal
			a.closers = append(a.closers, func() { db.Close() })
		}
	}

	a.queue = alarm.NewQueue(a.clock, a.planner, a.timer, opts)
	a.closers = append(a.closers, a.queue.Close)

	if a.cfg.Notifications.Enabled && a.sessionBus != nil {
		n := notify.New(a.sessionBus, "alarmd")
		a.notifier = notify.NewAlarmNotifier(n, a.settings, a.snooze, links.XDGOpener{})
		stop, err := n.WatchActions(a.loop, a.notifier.HandleAction, a.notifier.HandleClosed)
		if err != nil {
			slog.Warn("notification actions unavailable", "error", err)
		} else {
			a.closers = append(a.closers, stop)
		}
		a.queue.OnAlarmReached(a.notifier.AlarmReached)
	} else {
		a.queue.OnAlarmReached(func(r alarm.Reached) {
			slog.Info("alarm", "summary", r.Appointment.Summary, "text", r.Alarm.Text, "time", r.Alarm.Time)
		})
	}

	a.queue.Start(ctx)
	a.queue.OnAlarmReached(func(alarm.Reached) { a.logArmed() })
	a.planner.OnChanged(func([]calendar.Appointment) { a.logArmed() })
	a.logArmed()

	slog.Info("alarmd running",
		"sources", a.syncer.SourceCount(),
		"timezone", a.tz.Current(),
		"wakeup", fmt.Sprintf("%T", a.timer),
	)
	return nil
}

// newUpcomingPlanner builds the calendar planner from the planner config.
func newUpcomingPlanner(sched mainloop.Scheduler, backend planner.Backend, tz timezone.Provider, now time.Time, cfg config.PlannerConfig) *planner.UpcomingPlanner {
	return planner.NewUpcomingPlanner(sched, backend, tz, now, cfg.Window, cfg.Debounce)
}

func (a *App) connectBuses() {
	var err error
	if a.sessionBus, err = dbus.ConnectSessionBus(); err != nil {
		slog.Warn("no session bus, notifications disabled", "error", err)
		a.sessionBus = nil
	}
	if a.systemBus, err = dbus.ConnectSystemBus(); err != nil {
		slog.Warn("no system bus, resume and timezone changes will be detected late", "error", err)
		a.systemBus = nil
	}
}

func (a *App) timezoneProvider() timezone.Provider {
	if a.systemBus != nil {
		td, err := timezone.NewTimedated(a.systemBus, a.loop)
		if err == nil {
			a.timedate = td
			a.closers = append(a.closers, td.Close)
			return td
		}
		slog.Warn("timedated unavailable, using local zone", "error", err)
	}
	return timezone.NewFixed(timezone.LocalZone())
}

// reload re-reads the config file and applies the alarm preferences.
// Other settings take effect on restart.
func (a *App) reload() {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		slog.Error("reload config", "error", err)
		return
	}
	a.loop.Post(func() {
		if a.settings == nil {
			return
		}
		a.settings.Set(cfg.Alarm)
	})
}

func (a *App) logArmed() {
	if t, ok := a.queue.Armed(); ok {
		slog.Debug("next alarm", "time", t)
	}
}

// cleanup releases resources in reverse order of creation.
func (a *App) cleanup() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.sessionBus != nil {
		a.sessionBus.Close()
	}
	if a.systemBus != nil {
		a.systemBus.Close()
	}
}
