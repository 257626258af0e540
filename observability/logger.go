package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// CycleEvent is the recorded outcome of one poll cycle.
type CycleEvent struct {
	EventID   string        `json:"event_id"`
	CaptureID string        `json:"capture_id,omitempty"`
	Outcome   string        `json:"outcome"`
	Detail    string        `json:"detail,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// EventLogger writes cycle events and manages retention cleanup.
type EventLogger struct {
	db     *sql.DB
	newID  func() (string, error)
	now    func() time.Time
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen func() (string, error)) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithClock sets a custom clock.
func WithClock(now func() time.Time) EventLoggerOption {
	return func(l *EventLogger) { l.now = now }
}

// WithLogger sets the logger used to report write failures.
func WithLogger(lg *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = lg }
}

// NewEventLogger creates a logger backed by the given database. The schema
// must already be applied (Open does it).
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  newEventID,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogCycle records a cycle event. Non-blocking for the caller's control
// flow: errors are logged via slog but do not propagate.
func (l *EventLogger) LogCycle(ctx context.Context, ev CycleEvent) {
	if ev.EventID == "" {
		id, err := l.newID()
		if err != nil {
			l.logger.Error("observability: event id", "error", err, "outcome", ev.Outcome)
			return
		}
		ev.EventID = id
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO cycle_events (event_id, capture_id, outcome, detail, duration_ms, created_at)
		VALUES (?,?,?,?,?,?)`,
		ev.EventID, nullable(ev.CaptureID), ev.Outcome, nullable(ev.Detail),
		ev.Duration.Milliseconds(), ev.CreatedAt.UnixMilli())
	if err != nil {
		l.logger.Error("observability: cycle event log failed", "error", err, "outcome", ev.Outcome)
	}
}

// Recent returns the latest events, newest first.
func (l *EventLogger) Recent(ctx context.Context, limit int) ([]CycleEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, COALESCE(capture_id, ''), outcome, COALESCE(detail, ''), duration_ms, created_at
		FROM cycle_events ORDER BY created_at DESC, event_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: query events: %w", err)
	}
	defer rows.Close()

	var out []CycleEvent
	for rows.Next() {
		var ev CycleEvent
		var durMs, createdMs int64
		if err := rows.Scan(&ev.EventID, &ev.CaptureID, &ev.Outcome, &ev.Detail, &durMs, &createdMs); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		ev.Duration = time.Duration(durMs) * time.Millisecond
		ev.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountByOutcome returns the number of recorded events per outcome.
func (l *EventLogger) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM cycle_events GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("observability: count events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("observability: scan count: %w", err)
		}
		out[outcome] = n
	}
	return out, rows.Err()
}

// Cleanup deletes events older than maxAge. Zero or negative keeps everything.
func (l *EventLogger) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := l.now().Add(-maxAge).UnixMilli()
	res, err := l.db.ExecContext(ctx, `DELETE FROM cycle_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func newEventID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return "cyc_" + id.String(), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
