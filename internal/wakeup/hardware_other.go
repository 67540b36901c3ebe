//go:build !linux

package wakeup

import (
	"time"

	"github.com/cpuguy83/alarmd/internal/event"
	"github.com/cpuguy83/alarmd/internal/mainloop"
)

// Hardware is only available on Linux.
type Hardware struct{}

var _ Timer = (*Hardware)(nil)

// NewHardware always fails with ErrUnsupported.
func NewHardware(mainloop.Scheduler) (*Hardware, error) {
	return nil, ErrUnsupported
}

func (*Hardware) SetWakeupTime(time.Time)            {}
func (*Hardware) Cancel()                            {}
func (*Hardware) OnTimeout(func()) *event.Connection { return nil }
func (*Hardware) Close() error                       { return nil }
