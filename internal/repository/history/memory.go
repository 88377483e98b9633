package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
)

// MemoryRepository keeps transitions in process memory.
type MemoryRepository struct {
	// mu guards every field below.
	mu sync.RWMutex
	// events holds stored rows in insertion order.
	events []memoryRow
	// nextID mirrors the auto-increment key of the SQL backends.
	nextID int64
	// closed rejects calls after Close.
	closed bool
}

type memoryRow struct {
	id    int64
	event alarm.Transition
}

// NewMemoryRepository returns an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Append stores one transition.
func (r *MemoryRepository) Append(_ context.Context, event alarm.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	r.nextID++
	r.events = append(r.events, memoryRow{id: r.nextID, event: event})

	return nil
}

// Query returns up to limit events of a station, newest first.
func (r *MemoryRepository) Query(_ context.Context, station string, limit int) ([]alarm.Transition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	rows := make([]memoryRow, 0, len(r.events))
	for _, row := range r.events {
		if row.event.Station == station {
			rows = append(rows, row)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		ti, tj := rows[i].event.Timestamp, rows[j].event.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}

		return rows[i].id > rows[j].id
	})

	limit = ClampLimit(limit)
	if len(rows) > limit {
		rows = rows[:limit]
	}

	result := make([]alarm.Transition, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.event)
	}

	return result, nil
}

// DeleteAll removes every event of a station.
func (r *MemoryRepository) DeleteAll(_ context.Context, station string) (int64, error) {
	return r.deleteWhere(func(event alarm.Transition) bool {
		return event.Station == station
	})
}

// DeleteBefore removes events older than cutoff.
func (r *MemoryRepository) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return r.deleteWhere(func(event alarm.Transition) bool {
		return event.Timestamp.Before(cutoff)
	})
}

// Close marks the store closed.
func (r *MemoryRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	return nil
}

func (r *MemoryRepository) deleteWhere(match func(alarm.Transition) bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}

	var (
		kept    = r.events[:0]
		removed int64
	)

	for _, row := range r.events {
		if match(row.event) {
			removed++

			continue
		}

		kept = append(kept, row)
	}

	r.events = kept

	return removed, nil
}
