package rest

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/oshokin/alarm-monitor/internal/broadcast"
	"github.com/oshokin/alarm-monitor/internal/logger"
)

// subscribe registers an observer whose snapshot covers the requested stations.
func (a *api) subscribe(stations []string) (*broadcast.Observer, error) {
	return a.opts.Hub.Subscribe(stations, func() []broadcast.Notification {
		return a.opts.State.Snapshot(stations...)
	})
}

// events streams notifications as Server-Sent Events.
// The first frames carry the snapshot, later frames the live notifications,
// each framed as "data: <json>\n\n". A ": ping" comment keeps proxies from
// closing an idle stream.
func (a *api) events(w http.ResponseWriter, r *http.Request) {
	var (
		ctx      = r.Context()
		stations = stationFilter(r)
		rc       = http.NewResponseController(w)
	)

	observer, err := a.subscribe(stations)
	if err != nil {
		sendError(w, subscribeStatus(err), err.Error())

		return
	}

	defer a.opts.Hub.Unsubscribe(observer)

	ctx = logger.WithKV(ctx, "observer", observer.ID())
	logger.DebugKV(ctx, "Event stream opened", "stations", stations)

	// The stream outlives any server write timeout.
	_ = rc.SetWriteDeadline(time.Time{}) //nolint:errcheck // Unsupported by some writers, harmless.

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err = rc.Flush(); err != nil {
		logger.WarnKV(ctx, "Streaming is not supported by the response writer", "error", err)

		return
	}

	ticker := time.NewTicker(a.opts.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.DebugKV(ctx, "Event stream closed by client", "dropped", observer.Dropped())

			return
		case <-observer.Done():
			return
		case msg := <-observer.C():
			if _, err = fmt.Fprintf(w, "data: %s\n\n", msg.Payload); err == nil {
				err = rc.Flush()
			}
		case <-ticker.C:
			if _, err = fmt.Fprint(w, ": ping\n\n"); err == nil {
				err = rc.Flush()
			}
		}

		if err != nil {
			logger.DebugKV(ctx, "Event stream write failed", "error", err)

			return
		}
	}
}

// stationFilter reads ?station=, repeated or comma separated.
func stationFilter(r *http.Request) []string {
	var stations []string

	for _, value := range r.URL.Query()["station"] {
		for station := range strings.SplitSeq(value, ",") {
			station = strings.TrimSpace(station)
			if station != "" && !slices.Contains(stations, station) {
				stations = append(stations, station)
			}
		}
	}

	return stations
}

func subscribeStatus(err error) int {
	if errors.Is(err, broadcast.ErrClosed) {
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}
