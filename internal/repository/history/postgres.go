package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
)

// PostgresRepository stores transitions in the alarm_events table.
type PostgresRepository struct {
	// pool is the shared pgx connection pool.
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, verifies the connection and applies migrations.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err = migrate(ctx, db, goose.DialectPostgres, "postgres"); err != nil {
		pool.Close()

		return nil, err
	}

	return &PostgresRepository{pool: pool}, nil
}

// Append stores one transition.
func (r *PostgresRepository) Append(ctx context.Context, event alarm.Transition) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO alarm_events (station, alarm_name, state, timestamp) VALUES ($1, $2, $3, $4)`,
		event.Station, event.AlarmName, string(event.State), event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert alarm event: %w", err)
	}

	return nil
}

// Query returns up to limit events of a station, newest first.
func (r *PostgresRepository) Query(ctx context.Context, station string, limit int) ([]alarm.Transition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT station, alarm_name, state, timestamp
		   FROM alarm_events
		  WHERE station = $1
		  ORDER BY timestamp DESC, id DESC
		  LIMIT $2`,
		station, ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query alarm events: %w", err)
	}

	events, err := pgx.CollectRows(rows, scanPostgresEvent)
	if err != nil {
		return nil, fmt.Errorf("scan alarm events: %w", err)
	}

	return events, nil
}

// DeleteAll removes every event of a station.
func (r *PostgresRepository) DeleteAll(ctx context.Context, station string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM alarm_events WHERE station = $1`, station)
	if err != nil {
		return 0, fmt.Errorf("delete alarm events: %w", err)
	}

	return tag.RowsAffected(), nil
}

// DeleteBefore removes events older than cutoff.
func (r *PostgresRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM alarm_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired alarm events: %w", err)
	}

	return tag.RowsAffected(), nil
}

// Close closes the connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()

	return nil
}

func scanPostgresEvent(row pgx.CollectableRow) (alarm.Transition, error) {
	var (
		event alarm.Transition
		state string
	)

	if err := row.Scan(&event.Station, &event.AlarmName, &state, &event.Timestamp); err != nil {
		return alarm.Transition{}, err
	}

	parsed, err := alarm.ParseEdgeState(state)
	if err != nil {
		return alarm.Transition{}, err
	}

	event.State = parsed
	event.Timestamp = event.Timestamp.UTC()

	return event, nil
}
