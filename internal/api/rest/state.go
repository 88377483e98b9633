package rest

import (
	"maps"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
)

// stationState is the current baseline of one station.
type stationState struct {
	Station string   `json:"station"`
	Value   uint16   `json:"value"`
	Active  []string `json:"active"`
	Known   bool     `json:"known"`
}

func newStationState(station string, word alarm.Word, known bool) stationState {
	active := word.Active()
	if active == nil {
		active = []string{}
	}

	return stationState{
		Station: station,
		Value:   uint16(word),
		Active:  active,
		Known:   known,
	}
}

func (a *api) listState(w http.ResponseWriter, _ *http.Request) {
	var (
		baselines = a.opts.State.Baselines()
		stations  = slices.Sorted(maps.Keys(baselines))
		result    = make([]stationState, 0, len(stations))
	)

	for _, station := range stations {
		result = append(result, newStationState(station, baselines[station], true))
	}

	sendJSON(w, http.StatusOK, result)
}

func (a *api) getState(w http.ResponseWriter, r *http.Request) {
	station := chi.URLParam(r, "station")

	sendJSON(w, http.StatusOK,
		newStationState(station, a.opts.State.Baseline(station), a.opts.State.Known(station)))
}

func (a *api) listAlarms(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, alarm.Channels())
}
