package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/oshokin/alarm-monitor/internal/logger"
)

// DefaultBuffer is the per-observer queue length used when none is given.
const DefaultBuffer = 64

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("broadcast hub is closed")

// Recorder receives hub metrics. A nil Recorder is allowed.
type Recorder interface {
	SetObservers(n int)
	IncBroadcastDropped()
}

// SnapshotFunc produces the notifications a new observer receives first.
// It runs while the hub registry is locked so no live notification can
// overtake the snapshot.
type SnapshotFunc func() []Notification

// Hub maintains the set of connected observers.
type Hub struct {
	// mu protects observers and closed.
	mu sync.RWMutex
	// observers is the registry of live observers.
	observers map[*Observer]struct{}
	// closed rejects new subscriptions after Close.
	closed bool
	// buffer is the per-observer queue length.
	buffer int
	// recorder reports observer counts and drops.
	recorder Recorder
	// ctx carries the hub logger.
	ctx context.Context //nolint:containedctx // Only used for logging.
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-observer queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(h *Hub) {
		h.recorder = r
	}
}

// NewHub creates an empty hub. ctx only supplies the logger.
func NewHub(ctx context.Context, opts ...Option) *Hub {
	h := &Hub{
		observers: make(map[*Observer]struct{}),
		buffer:    DefaultBuffer,
		ctx:       logger.WithName(ctx, "hub"),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Subscribe registers an observer for the given stations (all when empty)
// and queues the snapshot ahead of any live notification.
func (h *Hub) Subscribe(stations []string, snapshot SnapshotFunc) (*Observer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	var initial []Notification
	if snapshot != nil {
		initial = snapshot()
	}

	o := newObserver(stations, h.buffer+len(initial))

	for _, n := range initial {
		if !o.Wants(n.Station) {
			continue
		}

		msg, err := Encode(n)
		if err != nil {
			return nil, err
		}

		o.offer(msg)
	}

	h.observers[o] = struct{}{}
	h.reportObservers()

	logger.DebugKV(h.ctx, "Observer subscribed", "observer", o.id, "observers", len(h.observers))

	return o, nil
}

// Unsubscribe removes an observer. It is safe to call repeatedly.
func (h *Hub) Unsubscribe(o *Observer) {
	if o == nil {
		return
	}

	h.mu.Lock()
	_, ok := h.observers[o]
	delete(h.observers, o)
	h.reportObservers()
	count := len(h.observers)
	h.mu.Unlock()

	o.close()

	if ok {
		logger.DebugKV(h.ctx, "Observer unsubscribed", "observer", o.id, "observers", count, "dropped", o.Dropped())
	}
}

// Publish serializes n and delivers it to every interested observer.
func (h *Hub) Publish(n Notification) error {
	msg, err := Encode(n)
	if err != nil {
		return err
	}

	h.PublishMessage(msg)

	return nil
}

// PublishMessage delivers an already serialized message.
// Sends never block; the read lock is held for the whole fan-out.
func (h *Hub) PublishMessage(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for o := range h.observers {
		if !o.Wants(msg.Station) {
			continue
		}

		if !o.offer(msg) && h.recorder != nil {
			h.recorder.IncBroadcastDropped()
		}
	}
}

// Len returns the number of registered observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.observers)
}

// Close removes every observer and rejects further subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true

	for o := range h.observers {
		o.close()
		delete(h.observers, o)
	}

	h.reportObservers()
}

// reportObservers must be called with mu held.
func (h *Hub) reportObservers() {
	if h.recorder != nil {
		h.recorder.SetObservers(len(h.observers))
	}
}
