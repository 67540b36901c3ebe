// Package store persists fired alarms in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/cpuguy83/alarmd/internal/alarm"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open opens a SQLite database at the given path and runs migrations.
func Open(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

// Journal records fired alarms.
type Journal struct {
	db *sql.DB
}

var _ alarm.Journal = (*Journal)(nil)

// NewJournal returns a journal backed by db.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Load returns all recorded triggers.
func (j *Journal) Load(ctx context.Context) ([]alarm.Trigger, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT uid, alarm_ms FROM triggered ORDER BY alarm_ms`)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	var ts []alarm.Trigger
	for rows.Next() {
		var (
			uid string
			ms  int64
		)
		if err := rows.Scan(&uid, &ms); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		ts = append(ts, alarm.Trigger{UID: uid, Time: time.UnixMilli(ms)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate triggers: %w", err)
	}
	return ts, nil
}

// Record stores a trigger. Recording the same trigger twice is not an error.
func (j *Journal) Record(ctx context.Context, t alarm.Trigger) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO triggered (uid, alarm_ms) VALUES (?, ?)`,
		t.UID, t.Time.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert trigger: %w", err)
	}
	return nil
}

// Forget removes triggers.
func (j *Journal) Forget(ctx context.Context, ts []alarm.Trigger) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM triggered WHERE uid = ? AND alarm_ms = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, t := range ts {
		if _, err := stmt.ExecContext(ctx, t.UID, t.Time.UnixMilli()); err != nil {
			return fmt.Errorf("delete trigger: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
