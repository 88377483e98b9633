package station

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
)

var errMissingField = errors.New("missing field")

// TransitionToStruct converts a transition into a Struct with the JSON field names of the HTTP API.
func TransitionToStruct(event alarm.Transition) *structpb.Struct {
	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"station":    structpb.NewStringValue(event.Station),
			"alarm_name": structpb.NewStringValue(event.AlarmName),
			"state":      structpb.NewStringValue(string(event.State)),
			"timestamp":  structpb.NewStringValue(event.Timestamp.UTC().Format(time.RFC3339Nano)),
		},
	}
}

// TransitionFromStruct converts a Struct produced by TransitionToStruct back into a transition.
func TransitionFromStruct(document *structpb.Struct) (alarm.Transition, error) {
	fields := document.GetFields()

	get := func(name string) (string, error) {
		value, ok := fields[name].GetKind().(*structpb.Value_StringValue)
		if !ok {
			return "", fmt.Errorf("%w %q", errMissingField, name)
		}

		return value.StringValue, nil
	}

	var (
		event alarm.Transition
		err   error
		raw   string
	)

	if event.Station, err = get("station"); err != nil {
		return alarm.Transition{}, err
	}

	if event.AlarmName, err = get("alarm_name"); err != nil {
		return alarm.Transition{}, err
	}

	if raw, err = get("state"); err != nil {
		return alarm.Transition{}, err
	}

	if event.State, err = alarm.ParseEdgeState(raw); err != nil {
		return alarm.Transition{}, err
	}

	if raw, err = get("timestamp"); err != nil {
		return alarm.Transition{}, err
	}

	if event.Timestamp, err = time.Parse(time.RFC3339Nano, raw); err != nil {
		return alarm.Transition{}, fmt.Errorf("parse timestamp: %w", err)
	}

	return event, nil
}
