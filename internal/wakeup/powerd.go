package wakeup

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/cpuguy83/alarmd/internal/event"
	"github.com/cpuguy83/alarmd/internal/mainloop"
)

const (
	powerdService   = "com.canonical.powerd"
	powerdPath      = "/com/canonical/powerd"
	powerdInterface = "com.canonical.powerd"

	// wakeupName identifies our requests to powerd.
	wakeupName = "alarmd"
)

// caller is the subset of dbus.BusObject used to talk to powerd.
type caller interface {
	Call(method string, flags dbus.Flags, args ...any) *dbus.Call
}

// Powerd is a Timer that asks powerd to wake the system. A main loop
// deadline runs alongside so an awake machine fires without the daemon.
type Powerd struct {
	obj   caller
	sched mainloop.Scheduler
	now   func() time.Time

	cookie   string
	pending  time.Time
	armed    bool
	deadline *LoopTimer
	timeout  event.Notify

	conn   *dbus.Conn
	sigCh  chan *dbus.Signal
	stopCh chan struct{}
}

var _ Timer = (*Powerd)(nil)

// NewPowerd connects to powerd on the system bus and subscribes to its
// Wakeup signal.
func NewPowerd(conn *dbus.Conn, sched mainloop.Scheduler, now func() time.Time) (*Powerd, error) {
	obj := conn.Object(powerdService, powerdPath)
	if err := obj.Call("org.freedesktop.DBus.Peer.Ping", 0).Err; err != nil {
		return nil, fmt.Errorf("ping powerd: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(powerdPath),
		dbus.WithMatchInterface(powerdInterface),
		dbus.WithMatchMember("Wakeup"),
	); err != nil {
		return nil, fmt.Errorf("add match signal: %w", err)
	}

	p := newPowerd(obj, sched, now)
	p.conn = conn
	p.sigCh = make(chan *dbus.Signal, 10)
	p.stopCh = make(chan struct{})
	conn.Signal(p.sigCh)
	go p.watch(p.sigCh, p.stopCh)

	return p, nil
}

func newPowerd(obj caller, sched mainloop.Scheduler, now func() time.Time) *Powerd {
	if now == nil {
		now = time.Now
	}
	p := &Powerd{
		obj:      obj,
		sched:    sched,
		now:      now,
		deadline: NewLoopTimer(sched, now),
	}
	p.deadline.OnTimeout(p.fire)
	return p
}

// SetWakeupTime replaces the pending powerd request with one for t.
func (p *Powerd) SetWakeupTime(t time.Time) {
	p.clear()
	p.pending = t
	p.armed = true
	p.deadline.SetWakeupTime(t)

	secs := max(0, t.Unix())
	var cookie string
	if err := p.obj.Call(powerdInterface+".requestWakeup", 0, wakeupName, uint64(secs)).Store(&cookie); err != nil {
		slog.Warn("powerd requestWakeup failed", "time", t, "error", err)
		return
	}
	p.cookie = cookie
}

// Cancel clears the pending powerd request.
func (p *Powerd) Cancel() {
	p.clear()
	p.armed = false
	p.deadline.Cancel()
}

// OnTimeout registers fn for expiry.
func (p *Powerd) OnTimeout(fn func()) *event.Connection {
	return p.timeout.Connect(fn)
}

// Close clears the pending request and stops watching for signals.
func (p *Powerd) Close() error {
	p.Cancel()
	p.deadline.Close()
	if p.stopCh != nil {
		close(p.stopCh)
		p.conn.RemoveSignal(p.sigCh)
		p.stopCh = nil
	}
	return nil
}

func (p *Powerd) clear() {
	if p.cookie == "" {
		return
	}
	if err := p.obj.Call(powerdInterface+".clearWakeup", 0, p.cookie).Err; err != nil {
		slog.Warn("powerd clearWakeup failed", "cookie", p.cookie, "error", err)
	}
	p.cookie = ""
}

// onWakeup handles powerd's Wakeup signal. Powerd broadcasts it for every
// client, so only a signal at or after our pending time counts.
func (p *Powerd) onWakeup() {
	if !p.armed || p.now().Before(p.pending) {
		return
	}
	p.deadline.Cancel()
	p.fire()
}

func (p *Powerd) fire() {
	if !p.armed {
		return
	}
	p.armed = false
	p.cookie = ""
	p.timeout.Emit()
}

func (p *Powerd) watch(sigCh <-chan *dbus.Signal, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			if sig.Name == powerdInterface+".Wakeup" {
				p.sched.Post(p.onWakeup)
			}
		}
	}
}
