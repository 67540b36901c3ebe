package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cpuguy83/alarmd/internal/alarm"
)

func setupJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewJournal(db)
}

func TestJournalRecordAndLoad(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()
	at := time.Date(2026, 7, 1, 6, 30, 0, 0, time.UTC)

	for _, tr := range []alarm.Trigger{
		{UID: "b", Time: at.Add(time.Hour)},
		{UID: "a", Time: at},
		{UID: "a", Time: at},
	} {
		if err := j.Record(ctx, tr); err != nil {
			t.Fatalf("record %v: %v", tr, err)
		}
	}

	got, err := j.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d triggers, want 2", len(got))
	}
	if got[0].UID != "a" || !got[0].Time.Equal(at) {
		t.Errorf("first trigger = %+v", got[0])
	}
	if got[1].UID != "b" || !got[1].Time.Equal(at.Add(time.Hour)) {
		t.Errorf("second trigger = %+v", got[1])
	}
}

func TestJournalForget(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()
	at := time.Date(2026, 7, 1, 6, 30, 0, 0, time.UTC)

	j.Record(ctx, alarm.Trigger{UID: "a", Time: at})
	j.Record(ctx, alarm.Trigger{UID: "b", Time: at})

	if err := j.Forget(ctx, []alarm.Trigger{{UID: "a", Time: at}, {UID: "missing", Time: at}}); err != nil {
		t.Fatalf("forget: %v", err)
	}

	got, err := j.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].UID != "b" {
		t.Errorf("remaining = %+v, want [b]", got)
	}
}

func TestJournalPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "alarmd.db")
	at := time.Date(2026, 7, 1, 6, 30, 0, 0, time.UTC)

	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := NewJournal(db).Record(context.Background(), alarm.Trigger{UID: "a", Time: at}); err != nil {
		t.Fatalf("record: %v", err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	got, err := NewJournal(db).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].UID != "a" {
		t.Errorf("got %+v after reopen", got)
	}
}
