package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Observer is one live subscriber of the hub.
type Observer struct {
	// id identifies the observer in logs.
	id string
	// stations restricts delivery; empty means every station.
	stations map[string]struct{}
	// ch queues serialized notifications for the transport.
	ch chan Message
	// done is closed when the observer is removed from the hub.
	done chan struct{}
	// once guards closing done.
	once sync.Once
	// dropped counts notifications missed because ch was full.
	dropped atomic.Uint64
}

func newObserver(stations []string, capacity int) *Observer {
	filter := make(map[string]struct{}, len(stations))
	for _, station := range stations {
		if station != "" {
			filter[station] = struct{}{}
		}
	}

	return &Observer{
		id:       uuid.NewString(),
		stations: filter,
		ch:       make(chan Message, capacity),
		done:     make(chan struct{}),
	}
}

// ID returns the observer identifier.
func (o *Observer) ID() string {
	return o.id
}

// C returns the queue of notifications to deliver.
// It is never closed; select on Done to learn about removal.
func (o *Observer) C() <-chan Message {
	return o.ch
}

// Done is closed once the observer has been removed from the hub.
func (o *Observer) Done() <-chan struct{} {
	return o.done
}

// Dropped returns how many notifications this observer missed.
func (o *Observer) Dropped() uint64 {
	return o.dropped.Load()
}

// Wants reports whether the observer receives notifications for station.
func (o *Observer) Wants(station string) bool {
	if len(o.stations) == 0 {
		return true
	}

	_, ok := o.stations[station]

	return ok
}

// offer queues msg without blocking and reports whether it was queued.
func (o *Observer) offer(msg Message) bool {
	select {
	case <-o.done:
		return false
	default:
	}

	select {
	case o.ch <- msg:
		return true
	default:
		o.dropped.Add(1)

		return false
	}
}

func (o *Observer) close() {
	o.once.Do(func() {
		close(o.done)
	})
}
