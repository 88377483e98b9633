package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
)

// Kind distinguishes the notification shapes sent to observers.
type Kind string

const (
	// KindState carries the raw status word of a station.
	KindState Kind = "state"
	// KindHistory carries one alarm transition.
	KindHistory Kind = "history"
)

// Notification is the JSON document delivered to observers.
type Notification struct {
	// Type is state or history.
	Type Kind `json:"type"`
	// Station names the source of the notification.
	Station string `json:"station"`
	// Value is the status word, set for state notifications.
	Value *uint16 `json:"value,omitempty"`
	// Initial marks the snapshot sent right after subscribing.
	Initial bool `json:"initial,omitempty"`
	// Alarm is the alarm name, set for history notifications.
	Alarm string `json:"alarm,omitempty"`
	// State is ACTIVATED or DEACTIVATED, set for history notifications.
	State alarm.EdgeState `json:"state,omitempty"`
	// Timestamp is when the transition was detected, set for history notifications.
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// StateNotification builds a state notification for the given word.
func StateNotification(station string, word alarm.Word, initial bool) Notification {
	value := uint16(word)

	return Notification{
		Type:    KindState,
		Station: station,
		Value:   &value,
		Initial: initial,
	}
}

// HistoryNotification builds a history notification for a transition.
func HistoryNotification(transition alarm.Transition) Notification {
	timestamp := transition.Timestamp

	return Notification{
		Type:      KindHistory,
		Station:   transition.Station,
		Alarm:     transition.AlarmName,
		State:     transition.State,
		Timestamp: &timestamp,
	}
}

// Message is a notification serialized once for all observers.
type Message struct {
	// Type is copied from the notification for transports that route on it.
	Type Kind
	// Station is copied from the notification for per-observer filtering.
	Station string
	// Payload is the JSON encoding of the notification.
	Payload []byte
}

// Encode serializes a notification.
func Encode(n Notification) (Message, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return Message{}, fmt.Errorf("marshal notification: %w", err)
	}

	return Message{
		Type:    n.Type,
		Station: n.Station,
		Payload: payload,
	}, nil
}
