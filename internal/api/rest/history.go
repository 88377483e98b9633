package rest

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
	"github.com/oshokin/alarm-monitor/internal/logger"
	"github.com/oshokin/alarm-monitor/internal/repository/history"
)

// purgeResponse is returned by DELETE /api/history/{station}.
type purgeResponse struct {
	OK      bool  `json:"ok"`
	Deleted int64 `json:"deleted"`
}

func (a *api) listHistory(w http.ResponseWriter, r *http.Request) {
	station := chi.URLParam(r, "station")

	limit := history.MaxQueryLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			sendError(w, http.StatusBadRequest, "limit must be an integer")

			return
		}

		limit = min(max(parsed, 1), history.MaxQueryLimit)
	}

	events, err := a.opts.History.Query(r.Context(), station, limit)
	if err != nil {
		logger.ErrorKV(r.Context(), "Failed to query history", "station", station, "error", err)
		sendError(w, http.StatusInternalServerError, err.Error())

		return
	}

	if events == nil {
		events = []alarm.Transition{}
	}

	sendJSON(w, http.StatusOK, events)
}

func (a *api) purgeHistory(w http.ResponseWriter, r *http.Request) {
	station := chi.URLParam(r, "station")

	deleted, err := a.opts.History.Purge(r.Context(), station)
	if err != nil {
		logger.ErrorKV(r.Context(), "Failed to purge history", "station", station, "error", err)
		sendError(w, http.StatusInternalServerError, err.Error())

		return
	}

	sendJSON(w, http.StatusOK, purgeResponse{OK: true, Deleted: deleted})
}
