// Package notify shows due alarms as desktop notifications via D-Bus.
package notify

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/cpuguy83/alarmd/internal/mainloop"
)

const (
	notifyInterface = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
)

// caller is the subset of dbus.BusObject used to talk to the server.
type caller interface {
	Call(method string, flags dbus.Flags, args ...any) *dbus.Call
}

// Notifier sends desktop notifications via D-Bus.
type Notifier struct {
	conn    *dbus.Conn
	obj     caller
	appName string
}

// New creates a notifier on the session bus connection conn.
func New(conn *dbus.Conn, appName string) *Notifier {
	return &Notifier{
		conn:    conn,
		obj:     conn.Object(notifyInterface, notifyPath),
		appName: appName,
	}
}

// Notification represents a desktop notification.
type Notification struct {
	Summary string
	Body    string
	Icon    string
	Timeout time.Duration // 0 = default, -1 = persistent
	Actions []Action
	Urgency Urgency

	// Sound is a file played by the server when the notification is shown.
	Sound string

	// Category is the notification type hint, e.g. "x-alarmd.alarm".
	Category string
}

// Action represents a notification action button.
type Action struct {
	Key   string
	Label string
}

// Urgency levels for notifications.
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

// Send sends a notification and returns the notification ID.
func (n *Notifier) Send(notif Notification) (uint32, error) {
	// Actions are flattened: [key1, label1, key2, label2, ...]
	var actions []string
	for _, a := range notif.Actions {
		actions = append(actions, a.Key, a.Label)
	}

	call := n.obj.Call(
		notifyInterface+".Notify",
		0,
		n.appName,
		uint32(0), // replaces_id (0 = new notification)
		iconFor(notif),
		notif.Summary,
		notif.Body,
		actions,
		hintsFor(notif),
		expireTimeout(notif.Timeout),
	)
	if call.Err != nil {
		return 0, fmt.Errorf("send notification: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("get notification id: %w", err)
	}

	slog.Debug("sent notification", "id", id, "summary", notif.Summary)
	return id, nil
}

// CloseNotification withdraws a notification.
func (n *Notifier) CloseNotification(id uint32) error {
	if err := n.obj.Call(notifyInterface+".CloseNotification", 0, id).Err; err != nil {
		return fmt.Errorf("close notification %d: %w", id, err)
	}
	return nil
}

func iconFor(notif Notification) string {
	if notif.Icon != "" {
		return notif.Icon
	}
	if notif.Urgency == UrgencyCritical {
		return "alarm-symbolic"
	}
	return "x-office-calendar"
}

func hintsFor(notif Notification) map[string]dbus.Variant {
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(byte(notif.Urgency)),
	}
	if notif.Sound != "" {
		hints["sound-file"] = dbus.MakeVariant(notif.Sound)
	}
	if notif.Category != "" {
		hints["category"] = dbus.MakeVariant(notif.Category)
	}
	if notif.Timeout < 0 {
		hints["resident"] = dbus.MakeVariant(true)
	}
	return hints
}

// expireTimeout converts a timeout to the milliseconds Notify expects.
func expireTimeout(d time.Duration) int32 {
	switch {
	case d > 0:
		return int32(d.Milliseconds())
	case d < 0:
		return 0 // Persistent
	default:
		return -1 // Server default
	}
}

// WatchActions listens for action invocations and closed notifications,
// delivering both on sched. The returned function stops watching.
func (n *Notifier) WatchActions(sched mainloop.Scheduler, onAction func(id uint32, key string), onClosed func(id uint32)) (func(), error) {
	for _, member := range []string{"ActionInvoked", "NotificationClosed"} {
		if err := n.conn.AddMatchSignal(
			dbus.WithMatchInterface(notifyInterface),
			dbus.WithMatchMember(member),
		); err != nil {
			return nil, fmt.Errorf("add match signal: %w", err)
		}
	}

	ch := make(chan *dbus.Signal, 10)
	stop := make(chan struct{})
	n.conn.Signal(ch)

	go func() {
		for {
			select {
			case <-stop:
				return
			case sig, ok := <-ch:
				if !ok {
					return
				}
				dispatch(sched, sig, onAction, onClosed)
			}
		}
	}()

	return func() {
		close(stop)
		n.conn.RemoveSignal(ch)
	}, nil
}

func dispatch(sched mainloop.Scheduler, sig *dbus.Signal, onAction func(uint32, string), onClosed func(uint32)) {
	if len(sig.Body) < 2 {
		return
	}
	id, ok := sig.Body[0].(uint32)
	if !ok {
		return
	}

	switch sig.Name {
	case notifyInterface + ".ActionInvoked":
		if key, ok := sig.Body[1].(string); ok {
			sched.Post(func() { onAction(id, key) })
		}
	case notifyInterface + ".NotificationClosed":
		sched.Post(func() { onClosed(id) })
	}
}
