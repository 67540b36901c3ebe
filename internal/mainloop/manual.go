package mainloop

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler driven by hand, for tests. Posted functions run on
// Drain; delayed callbacks run when Advance moves the virtual time past them.
type Manual struct {
	mu      sync.Mutex
	elapsed time.Duration
	posted  []func()
	timers  []*manualTimer
	seq     int
}

type manualTimer struct {
	due       time.Duration
	seq       int
	fn        func()
	cancelled bool
	m         *Manual
}

var _ Scheduler = (*Manual)(nil)

// NewManual returns a manual scheduler at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

// Post queues fn until the next Drain.
func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.posted = append(m.posted, fn)
	m.mu.Unlock()
}

// AfterFunc registers fn to run once the virtual time advanced by d.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Canceler {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{due: m.elapsed + d, seq: m.seq, fn: fn, m: m}
	m.timers = append(m.timers, t)
	return t
}

func (t *manualTimer) Cancel() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.cancelled {
		return false
	}
	t.cancelled = true
	return true
}

// Pending returns the number of delayed callbacks that have not run or been
// cancelled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// Drain runs posted functions until none are left, including ones posted
// while draining.
func (m *Manual) Drain() {
	for {
		m.mu.Lock()
		if len(m.posted) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.posted[0]
		m.posted = m.posted[1:]
		m.mu.Unlock()
		fn()
	}
}

// Advance moves the virtual time forward by d, running every delayed
// callback that becomes due in order, then drains posted functions.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.elapsed + d
	m.mu.Unlock()

	for {
		m.Drain()

		m.mu.Lock()
		var next *manualTimer
		live := m.timers[:0]
		for _, t := range m.timers {
			if t.cancelled {
				continue
			}
			live = append(live, t)
		}
		m.timers = live
		sort.SliceStable(m.timers, func(i, j int) bool {
			if m.timers[i].due != m.timers[j].due {
				return m.timers[i].due < m.timers[j].due
			}
			return m.timers[i].seq < m.timers[j].seq
		})
		if len(m.timers) > 0 && m.timers[0].due <= target {
			next = m.timers[0]
			next.cancelled = true
			if next.due > m.elapsed {
				m.elapsed = next.due
			}
		}
		if next == nil {
			m.elapsed = target
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		next.fn()
	}
}

// Elapsed returns the virtual time that has passed since NewManual.
func (m *Manual) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}
