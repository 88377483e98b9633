package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/oshokin/alarm-monitor/internal/config"
	"github.com/oshokin/alarm-monitor/internal/logger"
)

const natsReconnectWait = 2 * time.Second

// NATSSource subscribes to the status subject of a NATS server.
type NATSSource struct {
	// cfg holds server settings.
	cfg *config.NATSConfig
	// handler receives every payload.
	handler *Handler
}

// NewNATSSource creates a NATS source.
func NewNATSSource(cfg *config.NATSConfig, handler *Handler) *NATSSource {
	return &NATSSource{
		cfg:     cfg,
		handler: handler,
	}
}

// Run connects, subscribes and processes messages until ctx is cancelled.
func (s *NATSSource) Run(ctx context.Context) error {
	ctx = logger.WithKV(logger.WithName(ctx, "nats"),
		"url", s.cfg.URL,
		"subject", s.cfg.Subject)

	closed := make(chan struct{})

	conn, err := nats.Connect(s.cfg.URL,
		nats.Name("alarm-monitor"),
		nats.Timeout(config.DefaultConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.WarnKV(ctx, "Disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info(ctx, "Reconnected to NATS")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			close(closed)
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}

	// Callbacks of one subscription run sequentially, keeping arrival order.
	_, err = conn.Subscribe(s.cfg.Subject, func(msg *nats.Msg) {
		//nolint:errcheck // Rejections are logged and counted by the handler.
		_ = s.handler.Handle(ctx, msg.Data)
	})
	if err != nil {
		conn.Close()

		return fmt.Errorf("subscribe to %s: %w", s.cfg.Subject, err)
	}

	logger.Info(ctx, "Subscribed to status subject")

	<-ctx.Done()

	// Drain delivers the buffered messages before closing, a reconnecting
	// connection cannot drain and is closed right away.
	if err = conn.Drain(); err != nil {
		logger.WarnKV(ctx, "Failed to drain NATS connection", "error", err)
		conn.Close()
	}

	// The closed handler fires once the drain has finished or timed out.
	<-closed

	logger.Info(ctx, "NATS connection closed")

	return nil
}
