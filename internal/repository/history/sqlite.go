package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Registers the "sqlite" database/sql driver.

	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
)

// SQLiteRepository stores transitions in an embedded SQLite database.
// Timestamps are kept as Unix milliseconds.
type SQLiteRepository struct {
	// db is limited to a single connection, SQLite allows one writer.
	db *sql.DB
}

// OpenSQLite opens the database file at path and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	if err = migrate(ctx, db, goose.DialectSQLite3, "sqlite"); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &SQLiteRepository{db: db}, nil
}

// Append stores one transition.
func (r *SQLiteRepository) Append(ctx context.Context, event alarm.Transition) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alarm_events (station, alarm_name, state, timestamp) VALUES (?, ?, ?, ?)`,
		event.Station, event.AlarmName, string(event.State), event.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert alarm event: %w", err)
	}

	return nil
}

// Query returns up to limit events of a station, newest first.
func (r *SQLiteRepository) Query(ctx context.Context, station string, limit int) ([]alarm.Transition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT station, alarm_name, state, timestamp
		   FROM alarm_events
		  WHERE station = ?
		  ORDER BY timestamp DESC, id DESC
		  LIMIT ?`,
		station, ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query alarm events: %w", err)
	}
	defer rows.Close()

	events := make([]alarm.Transition, 0)

	for rows.Next() {
		var (
			event  alarm.Transition
			state  string
			millis int64
		)

		if err = rows.Scan(&event.Station, &event.AlarmName, &state, &millis); err != nil {
			return nil, fmt.Errorf("scan alarm event: %w", err)
		}

		if event.State, err = alarm.ParseEdgeState(state); err != nil {
			return nil, fmt.Errorf("scan alarm event: %w", err)
		}

		event.Timestamp = time.UnixMilli(millis).UTC()
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alarm events: %w", err)
	}

	return events, nil
}

// DeleteAll removes every event of a station.
func (r *SQLiteRepository) DeleteAll(ctx context.Context, station string) (int64, error) {
	return r.exec(ctx, `DELETE FROM alarm_events WHERE station = ?`, station)
}

// DeleteBefore removes events older than cutoff.
func (r *SQLiteRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM alarm_events WHERE timestamp < ?`, cutoff.UnixMilli())
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close sqlite database: %w", err)
	}

	return nil
}

func (r *SQLiteRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete alarm events: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted alarm events: %w", err)
	}

	return affected, nil
}
