package rest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-monitor/internal/broadcast"
	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
	"github.com/oshokin/alarm-monitor/internal/engine"
	"github.com/oshokin/alarm-monitor/internal/metrics"
	"github.com/oshokin/alarm-monitor/internal/repository/history"
)

const waitTimeout = 5 * time.Second

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	server *httptest.Server
	engine *engine.Engine
	writer *history.Writer
	hub    *broadcast.Hub
}

func newFixture(t *testing.T, override func(*Options)) *fixture {
	t.Helper()

	var (
		ctx    = context.Background()
		writer = history.NewWriter(ctx, history.NewMemoryRepository())
		hub    = broadcast.NewHub(ctx)
		eng    = engine.New(writer, hub,
			engine.WithDefaultStation("OTY"),
			engine.WithClock(func() time.Time { return fixedTime }))
		opts = Options{
			History:        writer,
			State:          eng,
			Hub:            hub,
			Metrics:        metrics.Handler(metrics.NewRegistry()),
			AllowedOrigins: []string{"https://panel.example"},
			KeepAlive:      time.Hour,
		}
	)

	if override != nil {
		override(&opts)
	}

	server := httptest.NewServer(NewRouter(ctx, opts))

	t.Cleanup(server.Close)
	t.Cleanup(func() { _ = writer.Close(ctx) })
	t.Cleanup(hub.Close)

	return &fixture{
		server: server,
		engine: eng,
		writer: writer,
		hub:    hub,
	}
}

func (f *fixture) do(t *testing.T, method, path string) (int, []byte) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, f.server.URL+path, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, body
}

// TestHistory_ListAndPurge covers the history endpoints end to end.
func TestHistory_ListAndPurge(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	status, body := f.do(t, http.MethodGet, "/api/history/OTY")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `[]`, string(body))

	f.engine.Ingest(context.Background(), "OTY", 0x0800)

	require.Eventually(t, func() bool {
		_, body = f.do(t, http.MethodGet, "/api/history/OTY")

		return strings.Contains(string(body), "ALTA TEMP")
	}, waitTimeout, 10*time.Millisecond)

	require.JSONEq(t,
		`[{"station":"OTY","alarm_name":"ALTA TEMP","state":"ACTIVATED","timestamp":"2024-05-01T12:00:00Z"}]`,
		string(body))

	status, body = f.do(t, http.MethodDelete, "/api/history/OTY")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"ok":true,"deleted":1}`, string(body))

	_, body = f.do(t, http.MethodGet, "/api/history/OTY")
	require.JSONEq(t, `[]`, string(body))
}

// TestHistory_Limit validates the limit parameter.
func TestHistory_Limit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	f.engine.Ingest(context.Background(), "OTY", 0xFFFF)

	require.Eventually(t, func() bool {
		_, body := f.do(t, http.MethodGet, "/api/history/OTY")

		var events []alarm.Transition

		return json.Unmarshal(body, &events) == nil && len(events) == alarm.ChannelCount
	}, waitTimeout, 10*time.Millisecond)

	status, body := f.do(t, http.MethodGet, "/api/history/OTY?limit=3")
	require.Equal(t, http.StatusOK, status)

	var events []alarm.Transition
	require.NoError(t, json.Unmarshal(body, &events))
	require.Len(t, events, 3)

	// Out of range values are clamped to 1..200.
	for query, want := range map[string]int{"limit=0": 1, "limit=-5": 1, "limit=1000": alarm.ChannelCount} {
		status, body = f.do(t, http.MethodGet, "/api/history/OTY?"+query)
		require.Equal(t, http.StatusOK, status)
		require.NoError(t, json.Unmarshal(body, &events))
		require.Len(t, events, want, query)
	}

	status, body = f.do(t, http.MethodGet, "/api/history/OTY?limit=many")
	require.Equal(t, http.StatusBadRequest, status)
	require.JSONEq(t, `{"error":"limit must be an integer"}`, string(body))
}

type brokenHistory struct {
	panics bool
}

func (b *brokenHistory) Query(context.Context, string, int) ([]alarm.Transition, error) {
	if b.panics {
		panic("query exploded")
	}

	return nil, errors.New("connection refused")
}

func (*brokenHistory) Purge(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

// TestHistory_StoreFailure maps store errors and panics to 500 responses.
func TestHistory_StoreFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(opts *Options) { opts.History = &brokenHistory{} })

	status, body := f.do(t, http.MethodGet, "/api/history/OTY")
	require.Equal(t, http.StatusInternalServerError, status)
	require.JSONEq(t, `{"error":"connection refused"}`, string(body))

	status, body = f.do(t, http.MethodDelete, "/api/history/OTY")
	require.Equal(t, http.StatusInternalServerError, status)
	require.JSONEq(t, `{"error":"connection refused"}`, string(body))

	f = newFixture(t, func(opts *Options) { opts.History = &brokenHistory{panics: true} })

	status, body = f.do(t, http.MethodGet, "/api/history/OTY")
	require.Equal(t, http.StatusInternalServerError, status)
	require.JSONEq(t, `{"error":"internal server error"}`, string(body))
}

// openEvents starts an SSE stream and returns a channel of decoded data frames.
func openEvents(t *testing.T, f *fixture, query string) <-chan map[string]any {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/api/events"+query, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := make(chan map[string]any, 64)

	go func() {
		defer resp.Body.Close()
		defer close(frames)

		reader := bufio.NewReader(resp.Body)

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}

			payload, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: ")
			if !ok {
				continue
			}

			var frame map[string]any
			if json.Unmarshal([]byte(payload), &frame) == nil {
				frames <- frame
			}
		}
	}()

	return frames
}

func nextFrame(t *testing.T, frames <-chan map[string]any) map[string]any {
	t.Helper()

	select {
	case frame, ok := <-frames:
		require.True(t, ok, "stream closed")

		return frame
	case <-time.After(waitTimeout):
		require.FailNow(t, "no frame received")

		return nil
	}
}

// TestEvents_SnapshotThenLive checks the SSE frame sequence.
func TestEvents_SnapshotThenLive(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	frames := openEvents(t, f, "")

	require.Equal(t,
		map[string]any{"type": "state", "station": "OTY", "value": float64(0), "initial": true},
		nextFrame(t, frames))

	f.engine.Ingest(context.Background(), "OTY", 0x0800)

	require.Equal(t,
		map[string]any{
			"type":      "history",
			"station":   "OTY",
			"alarm":     "ALTA TEMP",
			"state":     "ACTIVATED",
			"timestamp": "2024-05-01T12:00:00Z",
		},
		nextFrame(t, frames))

	require.Equal(t,
		map[string]any{"type": "state", "station": "OTY", "value": float64(2048)},
		nextFrame(t, frames))
}

// TestEvents_StationFilter only delivers frames of the requested station.
func TestEvents_StationFilter(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	f.engine.Ingest(context.Background(), "LIM", 0x0001)

	frames := openEvents(t, f, "?station=LIM")

	require.Equal(t,
		map[string]any{"type": "state", "station": "LIM", "value": float64(1), "initial": true},
		nextFrame(t, frames))

	f.engine.Ingest(context.Background(), "OTY", 0x0800)
	f.engine.Ingest(context.Background(), "LIM", 0x0000)

	frame := nextFrame(t, frames)
	require.Equal(t, "LIM", frame["station"])
	require.Equal(t, "DEACTIVATED", frame["state"])
	require.Equal(t, "LIBRE 8", frame["alarm"])
}

// TestStationFilter splits, trims and deduplicates the station parameter.
func TestStationFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "empty", query: "", want: nil},
		{name: "single", query: "?station=OTY", want: []string{"OTY"}},
		{name: "comma separated", query: "?station=OTY,%20LIM,", want: []string{"OTY", "LIM"}},
		{name: "duplicates", query: "?station=OTY,OTY&station=LIM&station=OTY", want: []string{"OTY", "LIM"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodGet, "/api/events"+tt.query, nil)
			require.Equal(t, tt.want, stationFilter(r))
		})
	}
}

// TestEvents_DuplicateStationSingleSnapshot sends one snapshot per distinct station.
func TestEvents_DuplicateStationSingleSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	frames := openEvents(t, f, "?station=OTY,OTY&station=OTY")

	require.Equal(t,
		map[string]any{"type": "state", "station": "OTY", "value": float64(0), "initial": true},
		nextFrame(t, frames))

	f.engine.Ingest(context.Background(), "OTY", 0x0800)

	frame := nextFrame(t, frames)
	require.Equal(t, "history", frame["type"])
	require.Equal(t, "ALTA TEMP", frame["alarm"])
}

// TestEvents_DisconnectUnsubscribes removes the observer once the client goes away.
func TestEvents_DisconnectUnsubscribes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/api/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, 1, f.hub.Len())

	cancel()
	_ = resp.Body.Close()

	require.Eventually(t, func() bool { return f.hub.Len() == 0 }, waitTimeout, 10*time.Millisecond)
}

// TestWebSocket_SnapshotThenLive checks the WebSocket message sequence.
func TestWebSocket_SnapshotThenLive(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	defer resp.Body.Close()
	defer conn.Close()

	read := func() map[string]any {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))

		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))

		return frame
	}

	require.Equal(t,
		map[string]any{"type": "state", "station": "OTY", "value": float64(0), "initial": true},
		read())

	f.engine.Ingest(context.Background(), "OTY", 0x8000)

	frame := read()
	require.Equal(t, "history", frame["type"])
	require.Equal(t, "FALLA ALIM COM", frame["alarm"])

	frame = read()
	require.Equal(t, "state", frame["type"])
	require.InDelta(t, float64(0x8000), frame["value"], 0)
}

// TestWebSocket_RejectsForeignOrigin refuses origins that are not configured.
func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}

	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)

	defer resp.Body.Close()

	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// TestState_Endpoints covers the baseline, channel table, health and metrics endpoints.
func TestState_Endpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	status, body := f.do(t, http.MethodGet, "/api/state")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `[]`, string(body))

	f.engine.Ingest(context.Background(), "OTY", 0x0801)

	_, body = f.do(t, http.MethodGet, "/api/state")
	require.JSONEq(t,
		`[{"station":"OTY","value":2049,"active":["ALTA TEMP","LIBRE 8"],"known":true}]`,
		string(body))

	_, body = f.do(t, http.MethodGet, "/api/state/CUZ")
	require.JSONEq(t, `{"station":"CUZ","value":0,"active":[],"known":false}`, string(body))

	status, body = f.do(t, http.MethodGet, "/api/alarms")
	require.Equal(t, http.StatusOK, status)

	var channels []alarm.Channel
	require.NoError(t, json.Unmarshal(body, &channels))
	require.Len(t, channels, alarm.ChannelCount)
	require.Equal(t, alarm.Channel{Index: 4, Bit: 11, Name: "ALTA TEMP"}, channels[4])

	status, body = f.do(t, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"status":"ok"}`, string(body))

	status, _ = f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, status)
}

// TestCORS_Preflight answers preflight requests for configured origins.
func TestCORS_Preflight(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodOptions,
		f.server.URL+"/api/history/OTY", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://panel.example")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "https://panel.example", resp.Header.Get("Access-Control-Allow-Origin"))
	require.NotEmpty(t, resp.Header.Get(requestIDHeader))
}
