package alarm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EdgeState is the direction of a channel flip.
type EdgeState string

const (
	// Activated means the channel went from inactive to active.
	Activated EdgeState = "ACTIVATED"
	// Deactivated means the channel went from active to inactive.
	Deactivated EdgeState = "DEACTIVATED"
)

// errUnknownEdgeState is returned by ParseEdgeState for unrecognised values.
var errUnknownEdgeState = errors.New("unknown edge state")

// legacyStates maps values written by earlier deployments of the backend.
//
//nolint:gochecknoglobals // Read-only lookup table.
var legacyStates = map[string]EdgeState{
	"ACTIVADA":    Activated,
	"DESACTIVADA": Deactivated,
}

// Valid reports whether s is one of the known states.
func (s EdgeState) Valid() bool {
	return s == Activated || s == Deactivated
}

// String implements fmt.Stringer.
func (s EdgeState) String() string {
	return string(s)
}

// ParseEdgeState converts a stored value back to an EdgeState.
// Rows written with the Spanish labels are accepted as well.
func ParseEdgeState(value string) (EdgeState, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	if legacy, ok := legacyStates[normalized]; ok {
		return legacy, nil
	}

	state := EdgeState(normalized)
	if !state.Valid() {
		return "", fmt.Errorf("parse %q: %w", value, errUnknownEdgeState)
	}

	return state, nil
}

// Transition is the persisted record of one alarm channel flipping.
type Transition struct {
	// Station names the telemetry source that reported the flip.
	Station string `json:"station"`
	// AlarmName is the alarm table entry of the flipped channel.
	AlarmName string `json:"alarm_name"`
	// State is the new state of the channel.
	State EdgeState `json:"state"`
	// Timestamp is when the flip was detected.
	Timestamp time.Time `json:"timestamp"`
}

// NewTransition builds the record for an edge detected at the given time.
func NewTransition(station string, edge Edge, at time.Time) Transition {
	return Transition{
		Station:   station,
		AlarmName: edge.Name,
		State:     edge.State,
		Timestamp: at,
	}
}
