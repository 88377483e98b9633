package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/alarm-monitor/internal/config"
)

// Source delivers payloads to a Handler until its context is cancelled.
type Source interface {
	// Run connects, subscribes and blocks until ctx is done or the source fails for good.
	Run(ctx context.Context) error
}

var errUnknownTransport = errors.New("unknown transport kind")

// NewSource builds the source selected by cfg.Kind.
func NewSource(cfg *config.TransportConfig, handler *Handler) (Source, error) {
	switch cfg.Kind {
	case config.TransportMQTT:
		return NewMQTTSource(&cfg.MQTT, handler), nil
	case config.TransportNATS:
		return NewNATSSource(&cfg.NATS, handler), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownTransport, cfg.Kind)
	}
}
