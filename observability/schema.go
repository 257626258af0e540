// Package observability records poll-cycle outcomes in a small SQLite
// database so the monitor's history can be inspected after the fact.
//
// The database is optional and separate from the capture history, which
// lives on disk as plain PNG files. A failing event store never blocks or
// fails a cycle: write errors are logged and dropped.
//
//	db, err := observability.Open("events.db")
//	ev := observability.NewEventLogger(db)
//	ev.LogCycle(ctx, observability.CycleEvent{Outcome: "no_change"})
package observability

import "database/sql"

// Schema contains the DDL for the observability tables.
const Schema = `
CREATE TABLE IF NOT EXISTS cycle_events (
    event_id TEXT PRIMARY KEY,
    capture_id TEXT,
    outcome TEXT NOT NULL,
    detail TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycle_events_time ON cycle_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_cycle_events_outcome ON cycle_events(outcome, created_at DESC);
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
