package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
	"github.com/oshokin/alarm-monitor/internal/logger"
)

const (
	// DefaultQueueSize is the number of pending jobs a station queue holds.
	DefaultQueueSize = 256
	// DefaultAppendTimeout bounds a single append against the store.
	DefaultAppendTimeout = 5 * time.Second

	purgeRetryInterval = 10 * time.Millisecond
)

// Recorder receives writer metrics.
type Recorder interface {
	IncPersistFailure(station string)
	IncPersistDropped(station string)
	ObserveAppendDuration(d time.Duration)
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithQueueSize sets the per-station queue length.
func WithQueueSize(size int) WriterOption {
	return func(w *Writer) {
		if size > 0 {
			w.queueSize = size
		}
	}
}

// WithAppendTimeout sets the deadline of a single append.
func WithAppendTimeout(timeout time.Duration) WriterOption {
	return func(w *Writer) {
		if timeout > 0 {
			w.appendTimeout = timeout
		}
	}
}

// WithWriterRecorder attaches a metrics recorder.
func WithWriterRecorder(recorder Recorder) WriterOption {
	return func(w *Writer) {
		w.recorder = recorder
	}
}

// Writer serializes writes per station in front of a Repository.
//
// Every station gets a bounded FIFO queue drained by one goroutine, so appends
// reach the store in submission order while stations proceed independently.
// Purges travel through the same queue and are therefore ordered against appends.
type Writer struct {
	// repo is the underlying store.
	repo Repository
	// recorder receives metrics, may be nil.
	recorder Recorder
	// queueSize bounds each station queue.
	queueSize int
	// appendTimeout bounds one append.
	appendTimeout time.Duration
	// ctx carries the logger and outlives cancellation of the caller context.
	ctx context.Context //nolint:containedctx // Workers outlive the constructor call.

	// mu guards queues and closed; senders hold the read lock.
	mu sync.RWMutex
	// queues maps a station to its pending jobs.
	queues map[string]chan job
	// closed rejects new jobs once Close has started.
	closed bool
	// wg tracks station workers.
	wg sync.WaitGroup
}

type job struct {
	event alarm.Transition
	purge *purgeRequest
}

type purgeRequest struct {
	ctx    context.Context //nolint:containedctx // Request scoped, consumed by the worker.
	result chan purgeResult
}

type purgeResult struct {
	deleted int64
	err     error
}

// NewWriter wraps repo with per-station queues.
func NewWriter(ctx context.Context, repo Repository, opts ...WriterOption) *Writer {
	w := &Writer{
		repo:          repo,
		queueSize:     DefaultQueueSize,
		appendTimeout: DefaultAppendTimeout,
		ctx:           logger.WithName(context.WithoutCancel(ctx), "writer"),
		queues:        make(map[string]chan job),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Submit enqueues a transition without blocking.
// When the station queue is full or the writer is closed the event is dropped and logged.
func (w *Writer) Submit(event alarm.Transition) {
	w.ensureQueue(event.Station)

	queued, err := w.tryEnqueue(event.Station, job{event: event})

	switch {
	case err != nil:
		w.drop(event, "writer is closed")
	case !queued:
		w.drop(event, "station queue is full")
	}
}

// Purge deletes every stored event of station after all previously submitted
// appends of that station have been written.
func (w *Writer) Purge(ctx context.Context, station string) (int64, error) {
	req := &purgeRequest{
		ctx:    ctx,
		result: make(chan purgeResult, 1),
	}

	if deleted, done, err := w.purgeIdle(ctx, station); done {
		return deleted, err
	}

	if err := w.enqueuePurge(ctx, station, req); err != nil {
		return 0, err
	}

	select {
	case res := <-req.result:
		return res.deleted, res.err
	case <-ctx.Done():
		return 0, fmt.Errorf("wait for purge: %w", ctx.Err())
	}
}

// Query reads through to the underlying store.
func (w *Writer) Query(ctx context.Context, station string, limit int) ([]alarm.Transition, error) {
	return w.repo.Query(ctx, station, limit)
}

// Close stops accepting jobs and waits until every queue is drained or ctx ends.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()

	if !w.closed {
		w.closed = true

		for _, queue := range w.queues {
			close(queue)
		}
	}

	w.mu.Unlock()

	done := make(chan struct{})

	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain history queues: %w", ctx.Err())
	}
}

// purgeIdle deletes directly when station has no queue, so purging unknown
// stations never starts workers. The read lock keeps a first Submit from
// creating the queue until the delete has finished.
func (w *Writer) purgeIdle(ctx context.Context, station string) (int64, bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return 0, true, ErrClosed
	}

	if _, ok := w.queues[station]; ok {
		return 0, false, nil
	}

	deleted, err := w.repo.DeleteAll(ctx, station)
	if err != nil {
		logger.ErrorKV(w.ctx, "Failed to purge alarm events", "station", station, "error", err)

		return 0, true, err
	}

	logger.InfoKV(w.ctx, "Purged alarm events", "station", station, "deleted", deleted)

	return deleted, true, nil
}

func (w *Writer) enqueuePurge(ctx context.Context, station string, req *purgeRequest) error {
	w.ensureQueue(station)

	ticker := time.NewTicker(purgeRetryInterval)
	defer ticker.Stop()

	for {
		queued, err := w.tryEnqueue(station, job{purge: req})
		if err != nil || queued {
			return err
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("enqueue purge: %w", ctx.Err())
		}
	}
}

// tryEnqueue makes one non-blocking send while holding the read lock.
func (w *Writer) tryEnqueue(station string, j job) (bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	queue, ok := w.queues[station]
	if w.closed || !ok {
		return false, ErrClosed
	}

	select {
	case queue <- j:
		return true, nil
	default:
		return false, nil
	}
}

// ensureQueue creates the station queue and starts its worker on first use.
func (w *Writer) ensureQueue(station string) {
	w.mu.RLock()
	_, ok := w.queues[station]
	w.mu.RUnlock()

	if ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok = w.queues[station]; ok || w.closed {
		return
	}

	queue := make(chan job, w.queueSize)
	w.queues[station] = queue

	w.wg.Add(1)

	go w.run(station, queue)
}

func (w *Writer) run(station string, queue <-chan job) {
	defer w.wg.Done()

	ctx := logger.WithKV(w.ctx, "station", station)

	for j := range queue {
		if j.purge != nil {
			w.purge(ctx, station, j.purge)

			continue
		}

		w.append(ctx, j.event)
	}
}

func (w *Writer) append(ctx context.Context, event alarm.Transition) {
	appendCtx, cancel := context.WithTimeout(ctx, w.appendTimeout)
	defer cancel()

	started := time.Now()
	err := w.repo.Append(appendCtx, event)

	if w.recorder != nil {
		w.recorder.ObserveAppendDuration(time.Since(started))
	}

	if err == nil {
		return
	}

	if w.recorder != nil {
		w.recorder.IncPersistFailure(event.Station)
	}

	logger.ErrorKV(ctx, "Failed to append alarm event",
		"alarm", event.AlarmName,
		"state", event.State,
		"error", err)
}

func (w *Writer) purge(ctx context.Context, station string, req *purgeRequest) {
	if err := req.ctx.Err(); err != nil {
		req.result <- purgeResult{err: fmt.Errorf("purge history: %w", err)}

		return
	}

	deleted, err := w.repo.DeleteAll(req.ctx, station)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to purge alarm events", "error", err)
	} else {
		logger.InfoKV(ctx, "Purged alarm events", "deleted", deleted)
	}

	req.result <- purgeResult{deleted: deleted, err: err}
}

func (w *Writer) drop(event alarm.Transition, reason string) {
	if w.recorder != nil {
		w.recorder.IncPersistDropped(event.Station)
	}

	logger.ErrorKV(w.ctx, "Dropped alarm event",
		"station", event.Station,
		"alarm", event.AlarmName,
		"state", event.State,
		"reason", reason)
}
