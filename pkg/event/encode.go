package event

import (
	"encoding/json"
	"fmt"
)

// Encode builds a callback buffer in the wire format Decode understands.
// fields must not contain the eventType key.
func Encode(eventType string, fields map[string]any) ([]byte, error) {
	if eventType == "" {
		return nil, fmt.Errorf("event: encode: empty event type")
	}
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[FieldEventType] = eventType
	return json.Marshal(out)
}

// EncodeMethodReturn builds the late answer for requestID. A non-empty errMsg
// marks the query as failed.
func EncodeMethodReturn(requestID string, payload any, errMsg string) ([]byte, error) {
	fields := map[string]any{
		FieldCallID: requestID,
		FieldReturn: payload,
	}
	if errMsg != "" {
		fields[FieldError] = errMsg
	}
	return Encode(string(KindMethodReturn), fields)
}

// EncodeMediaSaved builds a mediaSaved buffer.
func EncodeMediaSaved(mediaKind, path string) ([]byte, error) {
	return Encode(string(KindMediaSaved), map[string]any{
		FieldMediaKind: mediaKind,
		FieldPath:      path,
	})
}
