package wakeup

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cpuguy83/alarmd/internal/event"
	"github.com/cpuguy83/alarmd/internal/mainloop"
)

// Hardware is a Timer backed by a CLOCK_REALTIME_ALARM timerfd, which wakes
// the machine from suspend when it expires. Creating one requires
// CAP_WAKE_ALARM.
type Hardware struct {
	sched mainloop.Scheduler
	tfd   int
	efd   int

	// mu guards the fields below, shared with the worker.
	mu       sync.Mutex
	pending  time.Time
	armed    bool
	gen      uint64
	shutdown bool

	wg      sync.WaitGroup
	timeout event.Notify

	writeEventfd func(fd int, p []byte) (int, error)
}

var _ Timer = (*Hardware)(nil)

// NewHardware creates the timerfd and starts its worker.
func NewHardware(sched mainloop.Scheduler) (*Hardware, error) {
	tfd, err := unix.TimerfdCreate(unix.CLOCK_REALTIME_ALARM, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EINVAL) {
			err = fmt.Errorf("%w: %w", ErrUnsupported, err)
		}
		return nil, fmt.Errorf("create timerfd: %w", err)
	}
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(tfd)
		return nil, fmt.Errorf("create eventfd: %w", err)
	}

	h := &Hardware{sched: sched, tfd: tfd, efd: efd, writeEventfd: unix.Write}
	h.wg.Go(h.worker)
	return h, nil
}

// SetWakeupTime arms the timerfd for t.
func (h *Hardware) SetWakeupTime(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return
	}
	h.gen++
	h.pending = t
	h.armed = true

	ns := t.UnixNano()
	if ns <= 0 {
		// A zero it_value disarms; anything in the past fires immediately.
		ns = 1
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(ns)}
	if err := unix.TimerfdSettime(h.tfd, unix.TFD_TIMER_ABSTIME, &spec, nil); err != nil {
		slog.Error("arm timerfd", "time", t, "error", err)
	}
}

// Cancel disarms the timerfd.
func (h *Hardware) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gen++
	h.armed = false
	if h.shutdown {
		return
	}
	if err := unix.TimerfdSettime(h.tfd, 0, &unix.ItimerSpec{}, nil); err != nil {
		slog.Error("disarm timerfd", "error", err)
	}
}

// OnTimeout registers fn for expiry.
func (h *Hardware) OnTimeout(fn func()) *event.Connection {
	return h.timeout.Connect(fn)
}

// Close stops the worker and closes the file descriptors.
func (h *Hardware) Close() error {
	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		return nil
	}
	h.shutdown = true
	h.mu.Unlock()

	if err := h.wakeWorker(); err != nil {
		// Nothing left to end the poll; the fds stay with the worker.
		return fmt.Errorf("wake worker: %w", err)
	}
	h.wg.Wait()

	return errors.Join(unix.Close(h.tfd), unix.Close(h.efd))
}

// wakeWorker makes the worker's poll return so it observes shutdown. If the
// eventfd cannot be written the timerfd is expired instead.
func (h *Hardware) wakeWorker() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := h.writeEventfd(h.efd, buf[:])
	if err == nil {
		return nil
	}
	slog.Warn("write eventfd, expiring timerfd instead", "error", err)

	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(1)}
	if terr := unix.TimerfdSettime(h.tfd, 0, &spec, nil); terr != nil {
		return errors.Join(err, terr)
	}
	return nil
}

func (h *Hardware) worker() {
	fds := []unix.PollFd{
		{Fd: int32(h.tfd), Events: unix.POLLIN},
		{Fd: int32(h.efd), Events: unix.POLLIN},
	}
	var buf [8]byte

	for {
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			slog.Error("poll timerfd", "error", err)
			return
		}

		h.mu.Lock()
		if h.shutdown {
			h.mu.Unlock()
			return
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			unix.Read(h.efd, buf[:])
		}
		expired := false
		gen := h.gen
		if fds[0].Revents&unix.POLLIN != 0 {
			// The read returns the expiration count; EAGAIN means the timer
			// was re-armed after poll returned.
			if _, err := unix.Read(h.tfd, buf[:]); err == nil && h.armed {
				h.armed = false
				expired = true
			}
		}
		h.mu.Unlock()

		// Post outside the lock, the loop may be blocked in SetWakeupTime.
		if expired {
			h.sched.Post(func() { h.fire(gen) })
		}
	}
}

func (h *Hardware) fire(gen uint64) {
	h.mu.Lock()
	stale := h.shutdown || gen != h.gen
	h.mu.Unlock()
	if stale {
		return
	}
	h.timeout.Emit()
}
