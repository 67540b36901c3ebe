package planner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cpuguy83/alarmd/internal/calendar"
	"github.com/cpuguy83/alarmd/internal/clock"
	"github.com/cpuguy83/alarmd/internal/event"
	"github.com/cpuguy83/alarmd/internal/mainloop"
	"github.com/cpuguy83/alarmd/internal/timezone"
)

var day = time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)

func appt(uid string, begin time.Time) calendar.Appointment {
	return calendar.Appointment{
		UID:     uid,
		Summary: uid,
		Begin:   begin,
		End:     begin.Add(30 * time.Minute),
		Alarms:  []calendar.Alarm{{Text: uid, Time: begin}},
	}
}

func uids(appts []calendar.Appointment) []string {
	var out []string
	for _, a := range appts {
		out = append(out, a.UID)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// eventually drains sched until cond holds.
func eventually(t *testing.T, sched *mainloop.Manual, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		sched.Drain()
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

type fakeBackend struct {
	mu      sync.Mutex
	results [][]calendar.Appointment
	errs    []error
	gates   map[int]chan struct{}
	calls   []calendar.DateRange
	done    int

	changed event.Notify
}

func (f *fakeBackend) Fetch(_ context.Context, begin, end time.Time, _ *time.Location) ([]calendar.Appointment, error) {
	f.mu.Lock()
	i := len(f.calls)
	f.calls = append(f.calls, calendar.DateRange{Begin: begin, End: end})
	gate := f.gates[i]
	var (
		res []calendar.Appointment
		err error
	)
	if i < len(f.results) {
		res = f.results[i]
	} else if len(f.results) > 0 {
		res = f.results[len(f.results)-1]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	f.done++
	f.mu.Unlock()
	return res, err
}

func (f *fakeBackend) OnChanged(fn func()) *event.Connection {
	return f.changed.Connect(fn)
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBackend) doneCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func TestRangePlannerDebounceCoalesces(t *testing.T) {
	sched := mainloop.NewManual()
	var (
		rebuilds int
		p        *RangePlanner
		built    calendar.DateRange
	)
	p = NewRangePlanner(sched, 0, func() {
		rebuilds++
		built = p.Range()
	})

	var last calendar.DateRange
	for i := range 5 {
		last = calendar.DateRange{Begin: day.Add(time.Duration(i) * time.Hour), End: day.Add(48 * time.Hour)}
		p.SetRange(last)
		sched.Advance(50 * time.Millisecond)
	}
	sched.Advance(time.Second)

	if rebuilds != 1 {
		t.Fatalf("rebuilds = %d, want 1", rebuilds)
	}
	if !built.Equal(last) {
		t.Errorf("rebuilt with %v, want %v", built, last)
	}
}

func TestRangePlannerEqualRangeIsNoop(t *testing.T) {
	sched := mainloop.NewManual()
	rebuilds := 0
	p := NewRangePlanner(sched, 0, func() { rebuilds++ })
	changes := 0
	p.OnRangeChanged(func(calendar.DateRange) { changes++ })

	r := calendar.DateRange{Begin: day, End: day.Add(24 * time.Hour)}
	p.SetRange(r)
	sched.Advance(time.Second)
	p.SetRange(calendar.DateRange{Begin: day.In(time.FixedZone("X", 3600)), End: r.End})
	sched.Advance(time.Second)

	if changes != 1 || rebuilds != 1 {
		t.Errorf("changes = %d, rebuilds = %d; want 1, 1", changes, rebuilds)
	}
}

func TestRangePlannerCloseCancelsRebuild(t *testing.T) {
	sched := mainloop.NewManual()
	rebuilds := 0
	p := NewRangePlanner(sched, 0, func() { rebuilds++ })

	p.SetRange(calendar.DateRange{Begin: day, End: day.Add(time.Hour)})
	p.Close()
	sched.Advance(time.Second)
	p.RebuildNow()

	if rebuilds != 0 {
		t.Errorf("rebuilds = %d after Close, want 0", rebuilds)
	}
}

func TestBackendPlannerPublishesSortedAndTrimmed(t *testing.T) {
	sched := mainloop.NewManual()
	backend := &fakeBackend{results: [][]calendar.Appointment{{
		appt("late", day.Add(5*time.Hour)),
		appt("outside", day.Add(72*time.Hour)),
		appt("early", day.Add(time.Hour)),
	}}}
	p := NewBackendPlanner(sched, backend, timezone.NewFixed("UTC"), 0)
	t.Cleanup(p.Close)

	published := 0
	p.OnChanged(func([]calendar.Appointment) { published++ })

	p.SetRange(calendar.DateRange{Begin: day, End: day.Add(24 * time.Hour)})
	sched.Advance(DefaultDebounce)
	eventually(t, sched, func() bool { return published == 1 })

	if got, want := uids(p.Appointments()), []string{"early", "late"}; !equalStrings(got, want) {
		t.Errorf("appointments = %v, want %v", got, want)
	}

	// Same data again does not republish.
	backend.changed.Emit()
	sched.Advance(DefaultDebounce)
	eventually(t, sched, func() bool { return backend.doneCount() == 2 })
	time.Sleep(10 * time.Millisecond)
	sched.Drain()
	if published != 1 {
		t.Errorf("published = %d after identical refetch, want 1", published)
	}
}

func TestBackendPlannerKeepsStaleSetOnError(t *testing.T) {
	sched := mainloop.NewManual()
	backend := &fakeBackend{
		results: [][]calendar.Appointment{{appt("a", day.Add(time.Hour))}, nil},
		errs:    []error{nil, errors.New("connection refused")},
	}
	p := NewBackendPlanner(sched, backend, timezone.NewFixed("UTC"), 0)
	t.Cleanup(p.Close)

	p.SetRange(calendar.DateRange{Begin: day, End: day.Add(24 * time.Hour)})
	sched.Advance(DefaultDebounce)
	eventually(t, sched, func() bool { return len(p.Appointments()) == 1 })

	p.RebuildNow()
	eventually(t, sched, func() bool { return backend.doneCount() == 2 })
	time.Sleep(10 * time.Millisecond)
	sched.Drain()

	if got := uids(p.Appointments()); !equalStrings(got, []string{"a"}) {
		t.Errorf("appointments = %v after failed fetch, want [a]", got)
	}
}

func TestBackendPlannerDiscardsOutOfOrderResults(t *testing.T) {
	sched := mainloop.NewManual()
	first := make(chan struct{})
	backend := &fakeBackend{
		results: [][]calendar.Appointment{
			{appt("old", day.Add(time.Hour))},
			{appt("new", day.Add(2*time.Hour))},
		},
		gates: map[int]chan struct{}{0: first},
	}
	p := NewBackendPlanner(sched, backend, timezone.NewFixed("UTC"), 0)
	t.Cleanup(p.Close)

	p.SetRange(calendar.DateRange{Begin: day, End: day.Add(24 * time.Hour)})
	sched.Advance(DefaultDebounce)
	eventually(t, sched, func() bool { return backend.callCount() == 1 })

	p.RebuildNow()
	eventually(t, sched, func() bool { return len(p.Appointments()) == 1 })

	close(first)
	eventually(t, sched, func() bool { return backend.doneCount() == 2 })
	time.Sleep(10 * time.Millisecond)
	sched.Drain()

	if got := uids(p.Appointments()); !equalStrings(got, []string{"new"}) {
		t.Errorf("appointments = %v, want [new]", got)
	}
}

func TestBackendPlannerRebuildsOnTimezoneChange(t *testing.T) {
	sched := mainloop.NewManual()
	backend := &fakeBackend{}
	tz := timezone.NewFixed("UTC")
	p := NewBackendPlanner(sched, backend, tz, 0)
	t.Cleanup(p.Close)

	p.SetRange(calendar.DateRange{Begin: day, End: day.Add(24 * time.Hour)})
	sched.Advance(DefaultDebounce)
	eventually(t, sched, func() bool { return backend.doneCount() == 1 })

	tz.Set("Europe/Oslo")
	sched.Advance(DefaultDebounce)
	eventually(t, sched, func() bool { return backend.doneCount() == 2 })
}

func TestBackendPlannerNothingPublishedAfterClose(t *testing.T) {
	sched := mainloop.NewManual()
	gate := make(chan struct{})
	backend := &fakeBackend{
		results: [][]calendar.Appointment{{appt("a", day.Add(time.Hour))}},
		gates:   map[int]chan struct{}{0: gate},
	}
	p := NewBackendPlanner(sched, backend, timezone.NewFixed("UTC"), 0)

	p.SetRange(calendar.DateRange{Begin: day, End: day.Add(24 * time.Hour)})
	sched.Advance(DefaultDebounce)
	eventually(t, sched, func() bool { return backend.callCount() == 1 })

	p.Close()
	close(gate)
	eventually(t, sched, func() bool { return backend.doneCount() == 1 })
	time.Sleep(10 * time.Millisecond)
	sched.Drain()

	if n := len(p.Appointments()); n != 0 {
		t.Errorf("published %d appointments after Close", n)
	}
}

func TestUpcomingPlannerRange(t *testing.T) {
	sched := mainloop.NewManual()
	p := NewUpcomingPlanner(sched, &fakeBackend{}, timezone.NewFixed("UTC"), day.Add(15*time.Hour+20*time.Minute), 0, 0)
	t.Cleanup(p.Close)

	want := calendar.DateRange{Begin: day, End: day.Add(DefaultWindow)}
	if !p.Range().Equal(want) {
		t.Errorf("Range() = %v, want %v", p.Range(), want)
	}

	p.SetDate(day.Add(25 * time.Hour))
	if got := p.Range().Begin; !got.Equal(day.Add(24 * time.Hour)) {
		t.Errorf("Range().Begin = %v after SetDate", got)
	}
}

func TestUpcomingPlannerDebounce(t *testing.T) {
	sched := mainloop.NewManual()
	backend := &fakeBackend{}
	p := NewUpcomingPlanner(sched, backend, timezone.NewFixed("UTC"), day, 0, 2*time.Second)
	t.Cleanup(p.Close)

	sched.Advance(1500 * time.Millisecond)
	if n := backend.callCount(); n != 0 {
		t.Fatalf("fetched %d times before the debounce elapsed", n)
	}
	sched.Advance(500 * time.Millisecond)
	eventually(t, sched, func() bool { return backend.doneCount() == 1 })
}

type staticPlanner struct {
	Base
}

func TestAggregatePlannerMergesChildren(t *testing.T) {
	a := &staticPlanner{}
	b := &staticPlanner{}
	a.Publish([]calendar.Appointment{appt("a1", day.Add(time.Hour)), appt("a2", day.Add(3*time.Hour))})

	agg := NewAggregatePlanner(a, b)
	t.Cleanup(agg.Close)
	changes := 0
	agg.OnChanged(func([]calendar.Appointment) { changes++ })

	b.Publish([]calendar.Appointment{appt("b1", day.Add(2*time.Hour)), appt("b2", day.Add(time.Hour))})

	if got, want := uids(agg.Appointments()), []string{"a1", "b2", "b1", "a2"}; !equalStrings(got, want) {
		t.Errorf("appointments = %v, want %v", got, want)
	}
	if changes != 1 {
		t.Errorf("changes = %d, want 1", changes)
	}
}

type snoozeFor time.Duration

func (s snoozeFor) SnoozeDuration() time.Duration { return time.Duration(s) }

func TestSnoozePlannerAdd(t *testing.T) {
	now := time.Date(2026, 4, 10, 9, 0, 20, 0, time.UTC)
	c := clock.NewMock(now)
	p := NewSnoozePlanner(c, snoozeFor(10*time.Minute))

	orig := appt("meeting", now.Add(-time.Hour))
	orig.End = orig.Begin.Add(30 * time.Minute)
	orig.Alarms[0].AudioURL = "file:///ring.ogg"

	var published []calendar.Appointment
	p.OnChanged(func(appts []calendar.Appointment) { published = appts })

	snoozed := p.Add(orig)

	wantBegin := time.Date(2026, 4, 10, 9, 10, 0, 0, time.UTC)
	if !snoozed.Begin.Equal(wantBegin) {
		t.Errorf("Begin = %v, want %v", snoozed.Begin, wantBegin)
	}
	if !snoozed.End.Equal(wantBegin.Add(30 * time.Minute)) {
		t.Errorf("End = %v, want %v", snoozed.End, wantBegin.Add(30*time.Minute))
	}
	if snoozed.UID == orig.UID || snoozed.UID == "" {
		t.Errorf("UID = %q, want a fresh uid", snoozed.UID)
	}
	if len(snoozed.Alarms) != 1 || !snoozed.Alarms[0].Time.Equal(wantBegin) || snoozed.Alarms[0].AudioURL != orig.Alarms[0].AudioURL {
		t.Errorf("Alarms = %+v", snoozed.Alarms)
	}
	if len(published) != 1 || published[0].UID != snoozed.UID {
		t.Errorf("published = %v", uids(published))
	}
}

func TestSnoozePlannerDropsEndedEntries(t *testing.T) {
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	c := clock.NewMock(now)
	p := NewSnoozePlanner(c, snoozeFor(5*time.Minute))

	orig := appt("wake", now)
	orig.End = orig.Begin
	first := p.AddAlarm(orig, calendar.Alarm{})
	if first.Alarms[0].Text != "wake" {
		t.Errorf("alarm text = %q, want the summary", first.Alarms[0].Text)
	}

	c.Set(now.Add(time.Hour))
	second := p.Add(orig)

	if got := uids(p.Appointments()); !equalStrings(got, []string{second.UID}) {
		t.Errorf("appointments = %v, want only the latest snooze", got)
	}
}
