package notify

import (
	"log/slog"
	"strings"

	"github.com/cpuguy83/alarmd/internal/alarm"
	"github.com/cpuguy83/alarmd/internal/calendar"
	"github.com/cpuguy83/alarmd/internal/config"
	"github.com/cpuguy83/alarmd/internal/links"
)

// Action keys.
const (
	ActionSnooze  = "snooze"
	ActionDismiss = "dismiss"
	ActionOpen    = "open"
)

// Sender shows and withdraws notifications.
type Sender interface {
	Send(Notification) (uint32, error)
	CloseNotification(id uint32) error
}

// Snoozer re-schedules an alarm.
type Snoozer interface {
	AddAlarm(appt calendar.Appointment, a calendar.Alarm) calendar.Appointment
}

// Preferences supplies the current alarm preferences.
type Preferences interface {
	Alarm() config.AlarmConfig
}

// AlarmNotifier presents due alarms and handles the user's response.
// It runs on the main loop.
type AlarmNotifier struct {
	sender  Sender
	prefs   Preferences
	snoozer Snoozer
	opener  links.Opener

	active map[uint32]alarm.Reached
}

// NewAlarmNotifier returns a notifier that snoozes through snoozer and opens
// links with opener.
func NewAlarmNotifier(sender Sender, prefs Preferences, snoozer Snoozer, opener links.Opener) *AlarmNotifier {
	return &AlarmNotifier{
		sender:  sender,
		prefs:   prefs,
		snoozer: snoozer,
		opener:  opener,
		active:  make(map[uint32]alarm.Reached),
	}
}

// AlarmReached shows a notification for r.
func (n *AlarmNotifier) AlarmReached(r alarm.Reached) {
	id, err := n.sender.Send(notificationFor(r, n.prefs.Alarm()))
	if err != nil {
		slog.Error("show alarm", "uid", r.Appointment.UID, "error", err)
		return
	}
	n.active[id] = r
}

// HandleAction responds to an action on notification id.
func (n *AlarmNotifier) HandleAction(id uint32, key string) {
	r, ok := n.active[id]
	if !ok {
		return
	}
	delete(n.active, id)

	switch key {
	case ActionSnooze:
		s := n.snoozer.AddAlarm(r.Appointment, r.Alarm)
		slog.Info("snoozed alarm", "uid", r.Appointment.UID, "until", s.Begin)
	case ActionOpen, "default":
		if url := links.Activation(r.Appointment); url != "" {
			if err := n.opener.Open(url); err != nil {
				slog.Error("open link", "url", url, "error", err)
			}
		}
	case ActionDismiss:
	default:
		slog.Debug("unknown notification action", "key", key)
	}

	if err := n.sender.CloseNotification(id); err != nil {
		slog.Debug("close notification", "id", id, "error", err)
	}
}

// HandleClosed forgets a notification the server closed.
func (n *AlarmNotifier) HandleClosed(id uint32) {
	delete(n.active, id)
}

// Active returns the number of alarms being shown.
func (n *AlarmNotifier) Active() int {
	return len(n.active)
}

func notificationFor(r alarm.Reached, prefs config.AlarmConfig) Notification {
	a := r.Appointment

	notif := Notification{
		Summary: a.Summary,
		Timeout: prefs.Duration,
		Sound:   r.Alarm.AudioURL,
		Actions: []Action{
			{Key: ActionSnooze, Label: "Snooze"},
			{Key: ActionDismiss, Label: "Dismiss"},
		},
	}
	if notif.Summary == "" {
		notif.Summary = r.Alarm.Text
	}

	if a.Type == calendar.TypeAlarm {
		notif.Urgency = UrgencyCritical
		notif.Category = "x-alarmd.alarm"
		if notif.Sound == "" {
			notif.Sound = prefs.Sound
		}
	} else {
		notif.Urgency = UrgencyNormal
		notif.Category = "x-alarmd.event"
		if notif.Sound == "" {
			notif.Sound = prefs.EventSound
		}
	}
	notif.Sound = strings.TrimPrefix(notif.Sound, "file://")

	var body []string
	if a.AllDay {
		body = append(body, "All day")
	} else if !a.Begin.IsZero() {
		body = append(body, a.Begin.Format("15:04"))
	}
	if r.Alarm.Text != "" && r.Alarm.Text != a.Summary {
		body = append(body, r.Alarm.Text)
	}
	if a.Location != "" {
		body = append(body, a.Location)
	}
	notif.Body = strings.Join(body, "\n")

	if url := links.Activation(a); url != "" {
		notif.Actions = append(notif.Actions, Action{Key: ActionOpen, Label: "Open " + links.Service(url)})
	}

	return notif
}
