package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Stage names the decoding step that produced an anomaly.
type Stage string

const (
	StageUTF8          Stage = "utf8"
	StageParse         Stage = "parse"
	StageDiscriminator Stage = "discriminator"
	StageFields        Stage = "fields"
)

var (
	errInvalidUTF8      = errors.New("payload is not valid UTF-8")
	errNotObject        = errors.New("payload is not a JSON object")
	errNoDiscriminator  = errors.New("missing or non-string eventType")
	errMissingMandatory = errors.New("mandatory field missing")
)

// DecodeAnomaly describes a malformed payload. The event returned alongside it
// is always a usable Generic event; the anomaly is diagnostic only.
type DecodeAnomaly struct {
	Stage     Stage
	EventType string
	Field     string
	Err       error
}

func (e *DecodeAnomaly) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("event: decode anomaly (%s, %s.%s): %v", e.Stage, e.EventType, e.Field, e.Err)
	case e.EventType != "":
		return fmt.Sprintf("event: decode anomaly (%s, %s): %v", e.Stage, e.EventType, e.Err)
	default:
		return fmt.Sprintf("event: decode anomaly (%s): %v", e.Stage, e.Err)
	}
}

func (e *DecodeAnomaly) Unwrap() error { return e.Err }

// Decode turns one callback buffer into an Event. The returned event is never
// nil. A non-nil error is always a *DecodeAnomaly and means the event was
// downgraded to Generic.
func Decode(raw []byte) (Event, error) {
	raw = bytes.Clone(raw)

	if !utf8.Valid(raw) {
		return &Generic{base: base{raw}}, &DecodeAnomaly{Stage: StageUTF8, Err: errInvalidUTF8}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &Generic{base: base{raw}}, &DecodeAnomaly{Stage: StageParse, Err: err}
	}
	if fields == nil {
		return &Generic{base: base{raw}}, &DecodeAnomaly{Stage: StageParse, Err: errNotObject}
	}

	var eventType string
	if err := json.Unmarshal(fields[FieldEventType], &eventType); err != nil || eventType == "" {
		return generic(raw, ""), &DecodeAnomaly{Stage: StageDiscriminator, Err: errNoDiscriminator}
	}

	switch Kind(eventType) {
	case KindLinkCode:
		code, ok := stringField(fields, FieldCode)
		if !ok {
			return generic(raw, eventType), missing(eventType, FieldCode)
		}
		return &LinkCode{base: base{raw}, Code: code}, nil

	case KindQRCode:
		code, ok := stringField(fields, FieldCode)
		if !ok {
			return generic(raw, eventType), missing(eventType, FieldCode)
		}
		return &QRCode{base: base{raw}, Code: code}, nil

	case KindMethodReturn:
		id, ok := stringField(fields, FieldCallID)
		if !ok {
			return generic(raw, eventType), missing(eventType, FieldCallID)
		}
		payload := fields[FieldReturn]
		if payload == nil {
			payload = json.RawMessage("null")
		}
		errMsg, _ := stringField(fields, FieldError)
		return &MethodReturn{base: base{raw}, RequestID: id, Payload: payload, Error: errMsg}, nil

	case KindMediaSaved:
		path, ok := stringField(fields, FieldPath)
		if !ok {
			return generic(raw, eventType), missing(eventType, FieldPath)
		}
		kind, _ := stringField(fields, FieldMediaKind)
		return &MediaSaved{base: base{raw}, MediaKind: kind, Path: path}, nil
	}

	// Unknown discriminators are expected as engines grow new events.
	return generic(raw, eventType), nil
}

func generic(raw []byte, eventType string) *Generic {
	var all map[string]any
	// raw already parsed as an object above, so this cannot fail.
	_ = json.Unmarshal(raw, &all)
	return &Generic{base: base{raw}, EventType: eventType, Fields: all}
}

func missing(eventType, field string) error {
	return &DecodeAnomaly{Stage: StageFields, EventType: eventType, Field: field, Err: errMissingMandatory}
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	v, ok := fields[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}
