package timezone

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/cpuguy83/alarmd/internal/event"
	"github.com/cpuguy83/alarmd/internal/mainloop"
)

const (
	timedatedService   = "org.freedesktop.timedate1"
	timedatedPath      = "/org/freedesktop/timedate1"
	timedatedInterface = "org.freedesktop.timedate1"
	propsInterface     = "org.freedesktop.DBus.Properties"
)

// Timedated follows the system timezone through systemd-timedated.
type Timedated struct {
	conn  *dbus.Conn
	sched mainloop.Scheduler

	zone    string
	changed event.Signal[string]

	sigCh  chan *dbus.Signal
	stopCh chan struct{}
}

// NewTimedated reads the current zone from timedated and subscribes to its
// changes. Change notifications are delivered on sched.
func NewTimedated(conn *dbus.Conn, sched mainloop.Scheduler) (*Timedated, error) {
	obj := conn.Object(timedatedService, timedatedPath)
	v, err := obj.GetProperty(timedatedInterface + ".Timezone")
	if err != nil {
		return nil, fmt.Errorf("get timezone: %w", err)
	}
	zone, ok := v.Value().(string)
	if !ok {
		return nil, fmt.Errorf("get timezone: unexpected type %T", v.Value())
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(timedatedPath),
		dbus.WithMatchInterface(propsInterface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return nil, fmt.Errorf("add match signal: %w", err)
	}

	t := &Timedated{
		conn:   conn,
		sched:  sched,
		zone:   zone,
		sigCh:  make(chan *dbus.Signal, 10),
		stopCh: make(chan struct{}),
	}
	conn.Signal(t.sigCh)
	go t.watch()

	return t, nil
}

// Current returns the last known zone.
func (t *Timedated) Current() string {
	return t.zone
}

// OnChanged registers fn for zone changes.
func (t *Timedated) OnChanged(fn func(string)) *event.Connection {
	return t.changed.Connect(fn)
}

// Close stops watching for changes.
func (t *Timedated) Close() {
	close(t.stopCh)
	t.conn.RemoveSignal(t.sigCh)
}

func (t *Timedated) watch() {
	for {
		select {
		case <-t.stopCh:
			return
		case sig, ok := <-t.sigCh:
			if !ok {
				return
			}
			zone, ok := timezoneFromSignal(sig)
			if !ok {
				continue
			}
			t.sched.Post(func() { t.set(zone) })
		}
	}
}

func (t *Timedated) set(zone string) {
	if zone == t.zone {
		return
	}
	slog.Info("timezone changed", "from", t.zone, "to", zone)
	t.zone = zone
	t.changed.Emit(zone)
}

// timezoneFromSignal extracts the Timezone property from a timedated
// PropertiesChanged signal.
func timezoneFromSignal(sig *dbus.Signal) (string, bool) {
	if sig.Path != timedatedPath || sig.Name != propsInterface+".PropertiesChanged" {
		return "", false
	}
	// PropertiesChanged has args: (interface string, changed map[string]variant, invalidated []string)
	if len(sig.Body) < 2 {
		return "", false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != timedatedInterface {
		return "", false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", false
	}
	v, ok := changed["Timezone"]
	if !ok {
		return "", false
	}
	zone, ok := v.Value().(string)
	return zone, ok
}
