package rest

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oshokin/alarm-monitor/internal/logger"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 512
)

// socket streams the same notifications as events over a WebSocket.
// Each notification is one text message. A write failure or a closed
// connection removes the observer.
func (a *api) socket(w http.ResponseWriter, r *http.Request) {
	stations := stationFilter(r)

	observer, err := a.subscribe(stations)
	if err != nil {
		sendError(w, subscribeStatus(err), err.Error())

		return
	}

	defer a.opts.Hub.Unsubscribe(observer)

	upgrader := websocket.Upgrader{CheckOrigin: a.checkOrigin}

	// Upgrade answers the client itself on failure.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.DebugKV(r.Context(), "WebSocket upgrade failed", "error", err)

		return
	}

	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	ctx = logger.WithKV(ctx, "observer", observer.ID())
	logger.DebugKV(ctx, "WebSocket opened", "stations", stations)

	pongWait := 2 * a.opts.KeepAlive

	go func() {
		defer cancel()

		conn.SetReadLimit(wsMaxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		// Client messages are ignored; reading surfaces pongs and the close frame.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.DebugKV(ctx, "WebSocket read failed", "error", err)
				}

				return
			}
		}
	}()

	ticker := time.NewTicker(a.opts.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-observer.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))

			return
		case msg := <-observer.C():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))

			if err = conn.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
				logger.DebugKV(ctx, "WebSocket write failed", "error", err)

				return
			}
		case <-ticker.C:
			if err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				logger.DebugKV(ctx, "WebSocket ping failed", "error", err)

				return
			}
		}
	}
}

// checkOrigin accepts same-host requests, requests without Origin and configured origins.
func (a *api) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(a.opts.AllowedOrigins, "*") || slices.Contains(a.opts.AllowedOrigins, origin) {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	return parsed.Host == r.Host
}
