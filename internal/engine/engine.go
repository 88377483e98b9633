package engine

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/oshokin/alarm-monitor/internal/broadcast"
	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
	"github.com/oshokin/alarm-monitor/internal/logger"
)

// Persister accepts transitions for storage without blocking.
type Persister interface {
	Submit(event alarm.Transition)
}

// Publisher fans notifications out to observers.
type Publisher interface {
	Publish(n broadcast.Notification) error
}

// Recorder receives engine metrics.
type Recorder interface {
	IncWordsIngested(station string)
	IncTransition(station string, state alarm.EdgeState)
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder attaches a metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(e *Engine) {
		e.recorder = recorder
	}
}

// WithClock replaces time.Now for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDefaultStation names the station reported by Snapshot before any word arrives.
func WithDefaultStation(station string) Option {
	return func(e *Engine) {
		e.defaultStation = station
	}
}

// Engine owns the per-station baselines.
type Engine struct {
	// persister stores transitions.
	persister Persister
	// publisher broadcasts notifications.
	publisher Publisher
	// recorder receives metrics, may be nil.
	recorder Recorder
	// now stamps transitions.
	now func() time.Time
	// defaultStation is reported by an unfiltered Snapshot before any ingestion.
	defaultStation string

	// locksMu guards locks.
	locksMu sync.Mutex
	// locks serializes ingestion per station.
	locks map[string]*sync.Mutex

	// baselinesMu guards baselines; it is never held while calling out.
	baselinesMu sync.RWMutex
	// baselines holds the last word ingested per station.
	baselines map[string]alarm.Word
}

// New creates an engine with empty baselines.
func New(persister Persister, publisher Publisher, opts ...Option) *Engine {
	e := &Engine{
		persister: persister,
		publisher: publisher,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
		baselines: make(map[string]alarm.Word),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Ingest diffs word against the station baseline and emits the side effects.
//
// Transitions are emitted from bit 15 down to bit 0, each one submitted to the
// persister and published as a history notification. The baseline is then
// replaced with word and a state notification is published, also when nothing
// changed. Failures of the side effects are logged and never returned.
func (e *Engine) Ingest(ctx context.Context, station string, word alarm.Word) {
	lock := e.stationLock(station)

	lock.Lock()
	defer lock.Unlock()

	ctx = logger.WithKV(logger.WithName(ctx, "engine"), "station", station)

	var (
		prev  = e.Baseline(station)
		edges = alarm.Diff(prev, word)
		at    = e.now().UTC()
	)

	for _, edge := range edges {
		transition := alarm.NewTransition(station, edge, at)

		if e.persister != nil {
			e.persister.Submit(transition)
		}

		e.publish(ctx, broadcast.HistoryNotification(transition))

		if e.recorder != nil {
			e.recorder.IncTransition(station, transition.State)
		}

		logger.InfoKV(ctx, "Alarm transition",
			"alarm", transition.AlarmName,
			"state", transition.State)
	}

	e.setBaseline(station, word)

	e.publish(ctx, broadcast.StateNotification(station, word, false))

	if e.recorder != nil {
		e.recorder.IncWordsIngested(station)
	}

	logger.DebugKV(ctx, "Status word ingested",
		"previous", uint16(prev),
		"value", uint16(word),
		"transitions", len(edges))
}

// Baseline returns the last word ingested for station, zero when unseen.
func (e *Engine) Baseline(station string) alarm.Word {
	e.baselinesMu.RLock()
	defer e.baselinesMu.RUnlock()

	return e.baselines[station]
}

// Known reports whether a word was ingested or restored for station.
func (e *Engine) Known(station string) bool {
	e.baselinesMu.RLock()
	defer e.baselinesMu.RUnlock()

	_, ok := e.baselines[station]

	return ok
}

// Baselines returns a copy of every known baseline.
func (e *Engine) Baselines() map[string]alarm.Word {
	e.baselinesMu.RLock()
	defer e.baselinesMu.RUnlock()

	return maps.Clone(e.baselines)
}

// Restore loads baselines saved by a previous run. Existing entries are overwritten.
func (e *Engine) Restore(baselines map[string]alarm.Word) {
	e.baselinesMu.Lock()
	defer e.baselinesMu.Unlock()

	maps.Copy(e.baselines, baselines)
}

// Snapshot builds the initial state notifications for a new observer.
//
// With stations given it returns one notification per station in that order.
// Without stations it returns every known station sorted by name, or the
// default station with value zero when nothing is known yet.
func (e *Engine) Snapshot(stations ...string) []broadcast.Notification {
	e.baselinesMu.RLock()
	defer e.baselinesMu.RUnlock()

	if len(stations) == 0 {
		stations = slices.Sorted(maps.Keys(e.baselines))
		if len(stations) == 0 && e.defaultStation != "" {
			stations = []string{e.defaultStation}
		}
	}

	notifications := make([]broadcast.Notification, 0, len(stations))
	for _, station := range stations {
		notifications = append(notifications, broadcast.StateNotification(station, e.baselines[station], true))
	}

	return notifications
}

func (e *Engine) stationLock(station string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	lock, ok := e.locks[station]
	if !ok {
		lock = new(sync.Mutex)
		e.locks[station] = lock
	}

	return lock
}

func (e *Engine) setBaseline(station string, word alarm.Word) {
	e.baselinesMu.Lock()
	defer e.baselinesMu.Unlock()

	e.baselines[station] = word
}

func (e *Engine) publish(ctx context.Context, n broadcast.Notification) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(n); err != nil {
		logger.WarnKV(ctx, "Failed to publish notification", "type", n.Type, "error", err)
	}
}
