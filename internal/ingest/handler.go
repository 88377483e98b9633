package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
	"github.com/oshokin/alarm-monitor/internal/logger"
)

// RejectReasonLength labels payloads of the wrong size in metrics.
const RejectReasonLength = "length"

// ErrHandlerClosed is returned by Handle once the handler was closed.
var ErrHandlerClosed = errors.New("ingestion handler is closed")

// Ingester consumes decoded status words.
type Ingester interface {
	Ingest(ctx context.Context, station string, word alarm.Word)
}

// Recorder receives ingestion metrics.
type Recorder interface {
	IncIngestRejected(reason string)
}

// Handler decodes payloads for a single configured station.
type Handler struct {
	// ingester receives decoded words.
	ingester Ingester
	// station tags every word from this transport.
	station string
	// recorder receives metrics, may be nil.
	recorder Recorder

	// mu is held for reading while a word is ingested and for writing by Close.
	mu sync.RWMutex
	// closed rejects words arriving after Close.
	closed bool
}

// NewHandler builds a handler that tags every payload with station.
func NewHandler(ingester Ingester, station string, recorder Recorder) *Handler {
	return &Handler{
		ingester: ingester,
		station:  station,
		recorder: recorder,
	}
}

// Station returns the station this handler reports for.
func (h *Handler) Station() string {
	return h.station
}

// Handle decodes payload and passes the word to the ingester.
// Malformed payloads are logged, counted and returned as an error without reaching the ingester.
func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	word, err := alarm.Decode(payload)
	if err != nil {
		if h.recorder != nil {
			h.recorder.IncIngestRejected(RejectReasonLength)
		}

		logger.WarnKV(ctx, "Rejected status payload",
			"station", h.station,
			"size", len(payload),
			"error", err)

		return fmt.Errorf("decode status payload: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		logger.DebugKV(ctx, "Dropped status word after shutdown", "station", h.station)

		return ErrHandlerClosed
	}

	h.ingester.Ingest(ctx, h.station, word)

	return nil
}

// Close waits for the word being ingested, if any, and rejects every later one.
// Once Close returns no transition of this handler can reach the ingester.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}
