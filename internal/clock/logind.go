package clock

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	logindPath      = "/org/freedesktop/login1"
	logindInterface = "org.freedesktop.login1.Manager"
)

// WatchSleep reports a skew whenever logind announces that the system has
// resumed from sleep. The returned function stops watching.
func (c *Live) WatchSleep(conn *dbus.Conn) (func(), error) {
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(logindPath),
		dbus.WithMatchInterface(logindInterface),
		dbus.WithMatchMember("PrepareForSleep"),
	); err != nil {
		return nil, fmt.Errorf("add match signal: %w", err)
	}

	sigCh := make(chan *dbus.Signal, 10)
	conn.Signal(sigCh)
	stopCh := make(chan struct{})

	go func() {
		for {
			select {
			case <-stopCh:
				return
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				if isResume(sig) {
					c.sched.Post(func() { c.NotifySkew("resumed from sleep") })
				}
			}
		}
	}()

	return func() {
		close(stopCh)
		conn.RemoveSignal(sigCh)
	}, nil
}

// isResume reports whether sig is PrepareForSleep(false), sent after resume.
func isResume(sig *dbus.Signal) bool {
	if sig.Name != logindInterface+".PrepareForSleep" || len(sig.Body) < 1 {
		return false
	}
	sleeping, ok := sig.Body[0].(bool)
	return ok && !sleeping
}
