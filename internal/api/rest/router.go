package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oshokin/alarm-monitor/internal/broadcast"
	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
	"github.com/oshokin/alarm-monitor/internal/logger"
)

// DefaultKeepAlive is the SSE comment and WebSocket ping period.
const DefaultKeepAlive = 25 * time.Second

// History reads and purges stored transitions.
type History interface {
	Query(ctx context.Context, station string, limit int) ([]alarm.Transition, error)
	Purge(ctx context.Context, station string) (int64, error)
}

// State exposes the engine baselines.
type State interface {
	Snapshot(stations ...string) []broadcast.Notification
	Baseline(station string) alarm.Word
	Known(station string) bool
	Baselines() map[string]alarm.Word
}

// Options holds the router dependencies.
type Options struct {
	// History serves the history endpoints.
	History History
	// State serves baselines and observer snapshots.
	State State
	// Hub registers observers.
	Hub *broadcast.Hub
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// StaticDir is served at / when set.
	StaticDir string
	// AllowedOrigins configures CORS and WebSocket origin checks.
	AllowedOrigins []string
	// KeepAlive is the observer stream ping period, DefaultKeepAlive when zero.
	KeepAlive time.Duration
}

// api groups the handlers.
type api struct {
	// opts holds the dependencies.
	opts Options
}

// NewRouter builds the HTTP handler. ctx supplies the logger used by every request.
func NewRouter(ctx context.Context, opts Options) http.Handler {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}

	var (
		a = &api{opts: opts}
		r = chi.NewRouter()
	)

	r.Use(
		withLogger(logger.WithName(ctx, "http")),
		requestID,
		accessLog,
		recovery,
		cors(opts.AllowedOrigins),
	)

	r.Get("/healthz", a.health)

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/history/{station}", a.listHistory)
		r.Delete("/history/{station}", a.purgeHistory)
		r.Get("/events", a.events)
		r.Get("/ws", a.socket)
		r.Get("/state", a.listState)
		r.Get("/state/{station}", a.getState)
		r.Get("/alarms", a.listAlarms)
	})

	if opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(opts.StaticDir)))
	}

	return r
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
