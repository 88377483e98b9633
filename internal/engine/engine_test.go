package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-monitor/internal/broadcast"
	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
	"github.com/oshokin/alarm-monitor/internal/repository/history"
)

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// recorder captures every side effect in the order the engine emitted it.
type recorder struct {
	mu            sync.Mutex
	submitted     []alarm.Transition
	notifications []broadcast.Notification
	// block, when set, stalls Publish for the station until the channel is closed.
	block   map[string]chan struct{}
	publErr error
}

func (r *recorder) Submit(event alarm.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.submitted = append(r.submitted, event)
}

func (r *recorder) Publish(n broadcast.Notification) error {
	if gate, ok := r.block[n.Station]; ok {
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.notifications = append(r.notifications, n)

	return r.publErr
}

func (r *recorder) snapshot() ([]alarm.Transition, []broadcast.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]alarm.Transition(nil), r.submitted...),
		append([]broadcast.Notification(nil), r.notifications...)
}

func newEngine(r *recorder) *Engine {
	return New(r, r,
		WithClock(func() time.Time { return fixedTime }),
		WithDefaultStation("OTY"))
}

// TestEngine_AltaTemp covers the single-bit activation on a fresh station.
func TestEngine_AltaTemp(t *testing.T) {
	t.Parallel()

	var (
		r = &recorder{}
		e = newEngine(r)
	)

	e.Ingest(context.Background(), "OTY", 0x0800)

	submitted, notifications := r.snapshot()
	require.Equal(t, []alarm.Transition{{
		Station:   "OTY",
		AlarmName: "ALTA TEMP",
		State:     alarm.Activated,
		Timestamp: fixedTime,
	}}, submitted)

	require.Len(t, notifications, 2)
	require.Equal(t, broadcast.HistoryNotification(submitted[0]), notifications[0])
	require.Equal(t, broadcast.StateNotification("OTY", 0x0800, false), notifications[1])
	require.Equal(t, alarm.Word(0x0800), e.Baseline("OTY"))

	payload, err := json.Marshal(notifications[1])
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"state","station":"OTY","value":2048}`, string(payload))
}

// TestEngine_FirstContactAllSet reports every alarm active on first contact.
func TestEngine_FirstContactAllSet(t *testing.T) {
	t.Parallel()

	var (
		r = &recorder{}
		e = newEngine(r)
	)

	e.Ingest(context.Background(), "OTY", 0xFFFF)

	submitted, notifications := r.snapshot()
	require.Len(t, submitted, alarm.ChannelCount)

	for i, event := range submitted {
		name, ok := alarm.ChannelName(alarm.ChannelCount - 1 - i)
		require.True(t, ok)
		require.Equal(t, name, event.AlarmName)
		require.Equal(t, alarm.Activated, event.State)
	}

	require.Equal(t, "FALLA ALIM COM", submitted[0].AlarmName)
	require.Equal(t, "LIBRE 8", submitted[alarm.ChannelCount-1].AlarmName)
	require.Len(t, notifications, alarm.ChannelCount+1)
	require.Equal(t, broadcast.KindState, notifications[alarm.ChannelCount].Type)
}

// TestEngine_RepeatedWord emits a state notification but no transitions.
func TestEngine_RepeatedWord(t *testing.T) {
	t.Parallel()

	var (
		r = &recorder{}
		e = newEngine(r)
	)

	e.Ingest(context.Background(), "OTY", 0x00F0)
	e.Ingest(context.Background(), "OTY", 0x00F0)

	submitted, notifications := r.snapshot()
	require.Len(t, submitted, 4)
	require.Len(t, notifications, 6)
	require.Equal(t, broadcast.StateNotification("OTY", 0x00F0, false), notifications[5])
	require.Equal(t, broadcast.KindState, notifications[4].Type)
}

// TestEngine_Deactivation reports cleared bits as DEACTIVATED.
func TestEngine_Deactivation(t *testing.T) {
	t.Parallel()

	var (
		r = &recorder{}
		e = newEngine(r)
	)

	e.Ingest(context.Background(), "OTY", 0x8001)
	e.Ingest(context.Background(), "OTY", 0x0001)

	submitted, _ := r.snapshot()
	require.Len(t, submitted, 3)
	require.Equal(t, "FALLA ALIM COM", submitted[2].AlarmName)
	require.Equal(t, alarm.Deactivated, submitted[2].State)
}

// TestEngine_SideEffectFailuresIgnored keeps the baseline moving when a store and publisher fail.
func TestEngine_SideEffectFailuresIgnored(t *testing.T) {
	t.Parallel()

	var (
		ctx    = context.Background()
		repo   = &failingRepository{MemoryRepository: history.NewMemoryRepository()}
		writer = history.NewWriter(ctx, repo)
		r      = &recorder{publErr: errors.New("publisher down")}
		e      = New(writer, r)
	)

	e.Ingest(ctx, "OTY", 0x0800)
	e.Ingest(ctx, "OTY", 0x0000)

	require.NoError(t, writer.Close(ctx))
	require.Equal(t, alarm.Word(0), e.Baseline("OTY"))

	_, notifications := r.snapshot()
	require.Len(t, notifications, 4)

	events, err := repo.Query(ctx, "OTY", history.MaxQueryLimit)
	require.NoError(t, err)
	require.Empty(t, events)
}

type failingRepository struct {
	*history.MemoryRepository
}

func (*failingRepository) Append(context.Context, alarm.Transition) error {
	return errors.New("connection refused")
}

// flakyRepository fails only the first append.
type flakyRepository struct {
	*history.MemoryRepository

	appends atomic.Int64
}

func (r *flakyRepository) Append(ctx context.Context, event alarm.Transition) error {
	if r.appends.Add(1) == 1 {
		return errors.New("connection reset")
	}

	return r.MemoryRepository.Append(ctx, event)
}

// TestEngine_PartialPersistFailure keeps attempting and broadcasting the rest
// of a multi-bit word after one append fails.
func TestEngine_PartialPersistFailure(t *testing.T) {
	t.Parallel()

	var (
		ctx    = context.Background()
		repo   = &flakyRepository{MemoryRepository: history.NewMemoryRepository()}
		writer = history.NewWriter(ctx, repo)
		r      = &recorder{}
		e      = New(writer, r, WithClock(func() time.Time { return fixedTime }))
	)

	// Bits 15, 11 and 0.
	e.Ingest(ctx, "OTY", 0x8801)

	require.NoError(t, writer.Close(ctx))
	require.Equal(t, int64(3), repo.appends.Load())
	require.Equal(t, alarm.Word(0x8801), e.Baseline("OTY"))

	events, err := repo.Query(ctx, "OTY", history.MaxQueryLimit)
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Same timestamp, newest insert first.
	require.Equal(t, "LIBRE 8", events[0].AlarmName)
	require.Equal(t, "ALTA TEMP", events[1].AlarmName)

	_, notifications := r.snapshot()
	require.Len(t, notifications, 4)

	for i, name := range []string{"FALLA ALIM COM", "ALTA TEMP", "LIBRE 8"} {
		require.Equal(t, broadcast.KindHistory, notifications[i].Type)
		require.Equal(t, name, notifications[i].Alarm)
		require.Equal(t, alarm.Activated, notifications[i].State)
	}

	require.Equal(t, broadcast.KindState, notifications[3].Type)
	require.Equal(t, uint16(0x8801), *notifications[3].Value)
}

// TestEngine_ConcurrentSameStation checks that concurrent words of one station
// never interleave: replaying the emitted transitions reproduces every state.
func TestEngine_ConcurrentSameStation(t *testing.T) {
	t.Parallel()

	var (
		r  = &recorder{}
		e  = newEngine(r)
		wg sync.WaitGroup
	)

	for g := range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			rng := rand.New(rand.NewPCG(uint64(g), 42)) //nolint:gosec // Deterministic test data.
			for range 200 {
				e.Ingest(context.Background(), "OTY", alarm.Word(rng.IntN(1<<16)))
			}
		}()
	}

	wg.Wait()

	_, notifications := r.snapshot()

	var (
		replayed alarm.Word
		states   int
		lastBit  = alarm.ChannelCount
	)

	for _, n := range notifications {
		switch n.Type {
		case broadcast.KindHistory:
			bit := bitOf(t, n.Alarm)
			require.Less(t, bit, lastBit, "transitions of one word must be bit-descending")

			lastBit = bit

			mask := alarm.Word(1) << bit
			if n.State == alarm.Activated {
				require.Zero(t, replayed&mask)
				replayed |= mask
			} else {
				require.NotZero(t, replayed&mask)
				replayed &^= mask
			}
		case broadcast.KindState:
			require.NotNil(t, n.Value)
			require.Equal(t, uint16(replayed), *n.Value)

			states++
			lastBit = alarm.ChannelCount
		}
	}

	require.Equal(t, 8*200, states)
	require.Equal(t, replayed, e.Baseline("OTY"))
}

func bitOf(t *testing.T, name string) int {
	t.Helper()

	for _, ch := range alarm.Channels() {
		if ch.Name == name {
			return ch.Bit
		}
	}

	require.FailNow(t, "unknown alarm", name)

	return -1
}

// TestEngine_StationsIndependent ensures a stalled station does not hold up another.
func TestEngine_StationsIndependent(t *testing.T) {
	t.Parallel()

	var (
		gate = make(chan struct{})
		r    = &recorder{block: map[string]chan struct{}{"SLOW": gate}}
		e    = newEngine(r)
	)

	slowDone := make(chan struct{})

	go func() {
		defer close(slowDone)

		e.Ingest(context.Background(), "SLOW", 0x0001)
	}()

	fastDone := make(chan struct{})

	go func() {
		defer close(fastDone)

		e.Ingest(context.Background(), "FAST", 0x0001)
	}()

	select {
	case <-fastDone:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "ingestion of an independent station was blocked")
	}

	require.Equal(t, alarm.Word(0x0001), e.Baseline("FAST"))

	close(gate)
	<-slowDone
	require.Equal(t, alarm.Word(0x0001), e.Baseline("SLOW"))
}

// TestEngine_Snapshot covers the default station, sorting and filters.
func TestEngine_Snapshot(t *testing.T) {
	t.Parallel()

	var (
		r = &recorder{}
		e = newEngine(r)
	)

	require.Equal(t, []broadcast.Notification{broadcast.StateNotification("OTY", 0, true)}, e.Snapshot())

	e.Ingest(context.Background(), "LIM", 0x0003)
	e.Ingest(context.Background(), "CUZ", 0x0100)

	require.Equal(t, []broadcast.Notification{
		broadcast.StateNotification("CUZ", 0x0100, true),
		broadcast.StateNotification("LIM", 0x0003, true),
	}, e.Snapshot())

	require.Equal(t, []broadcast.Notification{
		broadcast.StateNotification("LIM", 0x0003, true),
		broadcast.StateNotification("NEW", 0, true),
	}, e.Snapshot("LIM", "NEW"))

	require.True(t, e.Known("LIM"))
	require.False(t, e.Known("NEW"))
}

// TestEngine_Restore resumes from saved baselines without re-reporting alarms.
func TestEngine_Restore(t *testing.T) {
	t.Parallel()

	var (
		r = &recorder{}
		e = newEngine(r)
	)

	e.Restore(map[string]alarm.Word{"OTY": 0x0800})
	e.Ingest(context.Background(), "OTY", 0x0800)

	submitted, _ := r.snapshot()
	require.Empty(t, submitted)
	require.Equal(t, map[string]alarm.Word{"OTY": 0x0800}, e.Baselines())

	baselines := e.Baselines()
	baselines["OTY"] = 0
	require.Equal(t, alarm.Word(0x0800), e.Baseline("OTY"))
}

// TestEngine_HubSnapshotThenLive wires the engine to a real hub and checks
// that a subscriber sees the snapshot before live notifications.
func TestEngine_HubSnapshotThenLive(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		hub = broadcast.NewHub(ctx)
		e   = New(nil, hub, WithDefaultStation("OTY"))
	)

	t.Cleanup(hub.Close)

	e.Ingest(ctx, "OTY", 0x0001)

	observer, err := hub.Subscribe(nil, func() []broadcast.Notification { return e.Snapshot() })
	require.NoError(t, err)

	e.Ingest(ctx, "OTY", 0x0800)

	var frames []map[string]any

	for range 4 {
		select {
		case msg := <-observer.C():
			var frame map[string]any
			require.NoError(t, json.Unmarshal(msg.Payload, &frame))

			frames = append(frames, frame)
		case <-time.After(5 * time.Second):
			require.FailNow(t, "missing notification")
		}
	}

	require.Equal(t, map[string]any{"type": "state", "station": "OTY", "value": float64(1), "initial": true}, frames[0])
	require.Equal(t, "ALTA TEMP", frames[1]["alarm"])
	require.Equal(t, "ACTIVATED", frames[1]["state"])
	require.Equal(t, "LIBRE 8", frames[2]["alarm"])
	require.Equal(t, "DEACTIVATED", frames[2]["state"])
	require.Equal(t, map[string]any{"type": "state", "station": "OTY", "value": float64(0x0800)}, frames[3])
}
