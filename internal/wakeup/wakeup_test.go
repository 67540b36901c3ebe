package wakeup

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/cpuguy83/alarmd/internal/mainloop"
)

type virtualNow struct {
	base  time.Time
	sched *mainloop.Manual
}

func (v virtualNow) now() time.Time {
	return v.base.Add(v.sched.Elapsed())
}

func newVirtual() virtualNow {
	return virtualNow{
		base:  time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC),
		sched: mainloop.NewManual(),
	}
}

func TestLoopTimer(t *testing.T) {
	v := newVirtual()
	timer := NewLoopTimer(v.sched, v.now)
	fired := 0
	timer.OnTimeout(func() { fired++ })

	timer.SetWakeupTime(v.base.Add(time.Minute))
	v.sched.Advance(59 * time.Second)
	if fired != 0 {
		t.Fatalf("fired %d times before the wakeup time", fired)
	}
	v.sched.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired %d times at the wakeup time, want 1", fired)
	}

	// No automatic re-arm.
	v.sched.Advance(time.Hour)
	if fired != 1 {
		t.Errorf("fired %d times, want 1", fired)
	}
}

func TestLoopTimerReplaceAndCancel(t *testing.T) {
	v := newVirtual()
	timer := NewLoopTimer(v.sched, v.now)
	fired := 0
	timer.OnTimeout(func() { fired++ })

	timer.SetWakeupTime(v.base.Add(time.Minute))
	timer.SetWakeupTime(v.base.Add(2 * time.Minute))
	v.sched.Advance(90 * time.Second)
	if fired != 0 {
		t.Fatalf("replaced wakeup fired")
	}
	v.sched.Advance(30 * time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	timer.SetWakeupTime(v.now().Add(time.Minute))
	timer.Cancel()
	v.sched.Advance(time.Hour)
	if fired != 1 {
		t.Errorf("cancelled wakeup fired")
	}
}

func TestLoopTimerPastTimeFiresImmediately(t *testing.T) {
	v := newVirtual()
	timer := NewLoopTimer(v.sched, v.now)
	fired := 0
	timer.OnTimeout(func() { fired++ })

	timer.SetWakeupTime(v.base.Add(-time.Hour))
	v.sched.Advance(0)
	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
}

func TestLoopTimerClose(t *testing.T) {
	v := newVirtual()
	timer := NewLoopTimer(v.sched, v.now)
	fired := 0
	timer.OnTimeout(func() { fired++ })

	timer.SetWakeupTime(v.base.Add(time.Second))
	if err := timer.Close(); err != nil {
		t.Fatal(err)
	}
	timer.SetWakeupTime(v.base.Add(time.Second))
	v.sched.Advance(time.Minute)
	if fired != 0 {
		t.Errorf("fired after Close")
	}
}

type fakePowerd struct {
	calls   []string
	args    [][]any
	failReq bool
	next    int
}

func (f *fakePowerd) Call(method string, _ dbus.Flags, args ...any) *dbus.Call {
	f.calls = append(f.calls, method)
	f.args = append(f.args, args)
	switch method {
	case powerdInterface + ".requestWakeup":
		if f.failReq {
			return &dbus.Call{Err: errors.New("service unknown")}
		}
		f.next++
		return &dbus.Call{Body: []any{fmt.Sprintf("cookie-%d", f.next)}}
	default:
		return &dbus.Call{}
	}
}

func TestPowerdRequestsAndClears(t *testing.T) {
	v := newVirtual()
	fake := &fakePowerd{}
	p := newPowerd(fake, v.sched, v.now)

	at := v.base.Add(10 * time.Minute)
	p.SetWakeupTime(at)
	if len(fake.calls) != 1 || fake.calls[0] != powerdInterface+".requestWakeup" {
		t.Fatalf("calls = %v", fake.calls)
	}
	if got := fake.args[0][1].(uint64); got != uint64(at.Unix()) {
		t.Errorf("requestWakeup time = %d, want %d", got, at.Unix())
	}

	p.SetWakeupTime(at.Add(time.Minute))
	if len(fake.calls) != 3 || fake.calls[1] != powerdInterface+".clearWakeup" {
		t.Fatalf("calls = %v", fake.calls)
	}
	if got := fake.args[1][0]; got != "cookie-1" {
		t.Errorf("cleared cookie %v, want cookie-1", got)
	}

	p.Cancel()
	if last := fake.calls[len(fake.calls)-1]; last != powerdInterface+".clearWakeup" {
		t.Errorf("last call = %q, want clearWakeup", last)
	}
}

func TestPowerdWakeupSignal(t *testing.T) {
	v := newVirtual()
	p := newPowerd(&fakePowerd{}, v.sched, v.now)
	fired := 0
	p.OnTimeout(func() { fired++ })

	p.SetWakeupTime(v.base.Add(time.Minute))

	// Another client's wakeup.
	p.onWakeup()
	if fired != 0 {
		t.Fatalf("early Wakeup signal fired the timer")
	}

	v.sched.Advance(time.Minute)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	p.onWakeup()
	if fired != 1 {
		t.Errorf("fired = %d after a second signal, want 1", fired)
	}
}

func TestPowerdFallbackDeadline(t *testing.T) {
	v := newVirtual()
	p := newPowerd(&fakePowerd{failReq: true}, v.sched, v.now)
	fired := 0
	p.OnTimeout(func() { fired++ })

	p.SetWakeupTime(v.base.Add(time.Minute))
	v.sched.Advance(time.Minute)
	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
}

func TestNew(t *testing.T) {
	sched := mainloop.NewManual()

	timer, err := New(sched, Options{Backend: BackendMainloop})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := timer.(*LoopTimer); !ok {
		t.Errorf("New(mainloop) = %T", timer)
	}

	if _, err := New(sched, Options{Backend: BackendPowerd}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("New(powerd) without a bus: err = %v, want ErrUnsupported", err)
	}
	if _, err := New(sched, Options{Backend: "sundial"}); err == nil {
		t.Error("expected error for unknown backend")
	}

	timer, err = New(sched, Options{})
	if err != nil {
		t.Fatalf("New(auto): %v", err)
	}
	t.Cleanup(func() { timer.Close() })
}

func TestHardware(t *testing.T) {
	loop := mainloop.New()
	hw, err := NewHardware(loop)
	if err != nil {
		t.Skipf("hardware timer unavailable: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fired := make(chan struct{}, 1)
	hw.OnTimeout(func() {
		fired <- struct{}{}
		loop.Stop()
	})
	hw.SetWakeupTime(time.Now().Add(50 * time.Millisecond))
	loop.Run(ctx)

	select {
	case <-fired:
	default:
		t.Error("hardware timer did not fire")
	}
	if err := hw.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
