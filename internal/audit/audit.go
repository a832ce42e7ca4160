// Package audit persists a durable, queryable record of admission and
// rotation-lifecycle events using sqlx over sqlite, in the style of the
// masterserver's own migration-backed sqlite stores. This is pure
// observability: nothing in the protocol engine reads from it, so a slow
// or unavailable disk must never stall the application loop. Record
// pushes onto a buffered channel drained by one writer goroutine.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS ring_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	station_id TEXT NOT NULL,
	remote     TEXT NOT NULL,
	detail     TEXT NOT NULL
);
`

// Kind enumerates the admission/rotation events the monitor records.
type Kind string

const (
	JoinAccepted    Kind = "join_accepted"
	JoinDenied      Kind = "join_denied"
	Leave           Kind = "leave"
	StationTimedOut Kind = "station_timed_out"
	RoundCompleted  Kind = "round_completed"
)

// Event is one row of the audit log.
type Event struct {
	ID        int64     `db:"id"`
	Timestamp int64     `db:"ts"`
	Kind      string    `db:"kind"`
	StationID string    `db:"station_id"`
	Remote    string    `db:"remote"`
	Detail    string    `db:"detail"`
}

// Log is a buffered, asynchronous writer over a sqlite-backed event
// table.
type Log struct {
	db     *sqlx.DB
	events chan Event
	done   chan struct{}
}

// Open opens (creating if needed) the sqlite database at path, applies
// the schema, and starts the writer goroutine.
func Open(path string) (*Log, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	l := &Log{
		db:     db,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

func (l *Log) run() {
	defer close(l.done)
	for ev := range l.events {
		_, err := l.db.NamedExec(
			`INSERT INTO ring_events (ts, kind, station_id, remote, detail)
			 VALUES (:ts, :kind, :station_id, :remote, :detail)`, ev)
		_ = err // a dropped audit row is not a protocol-level failure
	}
}

// Record enqueues an event for asynchronous persistence. It never blocks
// on disk I/O; a full queue drops the event rather than stall the caller.
func (l *Log) Record(kind Kind, stationID, remote, detail string) {
	ev := Event{
		Timestamp: time.Now().Unix(),
		Kind:      string(kind),
		StationID: stationID,
		Remote:    remote,
		Detail:    detail,
	}
	select {
	case l.events <- ev:
	default:
	}
}

// Recent returns up to limit most recent events for stationID, newest
// first.
func (l *Log) Recent(ctx context.Context, stationID string, limit int) ([]Event, error) {
	var out []Event
	err := l.db.SelectContext(ctx, &out,
		`SELECT id, ts, kind, station_id, remote, detail FROM ring_events
		 WHERE station_id = ? ORDER BY id DESC LIMIT ?`, stationID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	return out, nil
}

// Close stops accepting new events, waits for the writer to drain, and
// closes the database.
func (l *Log) Close() error {
	close(l.events)
	<-l.done
	return l.db.Close()
}
