package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/alarm-monitor/internal/config"
	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
)

// MaxQueryLimit caps the number of events a single query returns.
const MaxQueryLimit = 200

// Repository is the persistence port for alarm transitions.
type Repository interface {
	// Append stores one transition.
	Append(ctx context.Context, event alarm.Transition) error
	// Query returns up to limit events of a station, newest first.
	Query(ctx context.Context, station string, limit int) ([]alarm.Transition, error)
	// DeleteAll removes every event of a station and reports how many were removed.
	DeleteAll(ctx context.Context, station string) (int64, error)
	// DeleteBefore removes events of all stations older than cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// Close releases the underlying resources.
	Close() error
}

var (
	// ErrClosed is returned by operations on a closed store or writer.
	ErrClosed = errors.New("history store is closed")

	errUnknownDriver = errors.New("unknown storage driver")
)

// Open builds the backend selected by cfg.Driver and applies its migrations.
func Open(ctx context.Context, cfg *config.StorageConfig) (Repository, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return NewMemoryRepository(), nil
	case config.StoragePostgres:
		return OpenPostgres(ctx, cfg.DSN)
	case config.StorageSQLite:
		return OpenSQLite(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownDriver, cfg.Driver)
	}
}

// ClampLimit bounds a requested limit to 1..MaxQueryLimit; zero or negative selects the maximum.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > MaxQueryLimit {
		return MaxQueryLimit
	}

	return limit
}
