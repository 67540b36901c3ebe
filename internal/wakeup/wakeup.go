// Package wakeup arms one-shot timers that fire at an absolute wall-clock
// time, optionally waking the machine from suspend.
package wakeup

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/cpuguy83/alarmd/internal/event"
	"github.com/cpuguy83/alarmd/internal/mainloop"
)

// ErrUnsupported is returned when a backend is not available on this system.
var ErrUnsupported = errors.New("wakeup backend not supported")

// Timer holds at most one pending wakeup.
type Timer interface {
	// SetWakeupTime arms the timer for t, replacing any pending wakeup.
	// A time in the past fires as soon as possible.
	SetWakeupTime(t time.Time)

	// Cancel disarms the pending wakeup, if any.
	Cancel()

	// OnTimeout is called on the main loop at most once per SetWakeupTime.
	OnTimeout(fn func()) *event.Connection

	// Close releases the timer. No timeout is delivered after Close returns.
	Close() error
}

// Backend names.
const (
	BackendAuto     = "auto"
	BackendMainloop = "mainloop"
	BackendHardware = "hardware"
	BackendPowerd   = "powerd"
)

// Options configures New.
type Options struct {
	// Backend is one of the Backend* names. Empty means BackendAuto.
	Backend string

	// SystemBus is used by the powerd backend. May be nil.
	SystemBus *dbus.Conn

	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
}

// New creates a timer for the configured backend. With BackendAuto it tries
// the hardware timer, then powerd, then falls back to the main loop.
func New(sched mainloop.Scheduler, opts Options) (Timer, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	switch opts.Backend {
	case BackendMainloop:
		return NewLoopTimer(sched, opts.Now), nil
	case BackendHardware:
		return NewHardware(sched)
	case BackendPowerd:
		if opts.SystemBus == nil {
			return nil, fmt.Errorf("powerd: %w: no system bus", ErrUnsupported)
		}
		return NewPowerd(opts.SystemBus, sched, opts.Now)
	case "", BackendAuto:
	default:
		return nil, fmt.Errorf("unknown wakeup backend %q", opts.Backend)
	}

	hw, err := NewHardware(sched)
	if err == nil {
		slog.Debug("using hardware wakeup timer")
		return hw, nil
	}
	slog.Debug("hardware wakeup timer unavailable", "error", err)

	if opts.SystemBus != nil {
		pd, err := NewPowerd(opts.SystemBus, sched, opts.Now)
		if err == nil {
			slog.Debug("using powerd wakeup timer")
			return pd, nil
		}
		slog.Debug("powerd wakeup timer unavailable", "error", err)
	}

	slog.Info("wakeup timer will not wake the system from suspend", "backend", BackendMainloop)
	return NewLoopTimer(sched, opts.Now), nil
}
