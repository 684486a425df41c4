// Package wsengine runs a native engine in another process and drives it over
// a WebSocket. Handler is the host side, wrapping any native.Engine; Engine is
// the native.Engine a client uses to reach it.
//
// Every frame is one JSON Envelope. Requests name the entry point in Topic and
// are answered by a response (or error) envelope with the same ID. Callbacks
// travel host to client as event and disconnect envelopes; a closed envelope
// reports that a handle is gone for good.
package wsengine

import (
	"encoding/json"
	"fmt"

	"github.com/lightforgemedia/go-wabridge/pkg/native"
)

// Envelope types.
const (
	TypeRequest    = "request"
	TypeResponse   = "response"
	TypeError      = "error"
	TypeEvent      = "event"
	TypeDisconnect = "disconnect"
	TypeClosed     = "closed"
)

// ErrorPayload describes a request the host could not run.
type ErrorPayload struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Error codes carried in ErrorPayload.
const (
	CodeBadRequest  = 400
	CodeUnknownCall = 404
	CodeEngine      = 500
)

// Envelope is the frame exchanged on the socket.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// NewEnvelope creates an envelope, marshalling payloadData when it is not nil.
func NewEnvelope(id, typ, topic string, payloadData any, errPayload *ErrorPayload) (*Envelope, error) {
	var payload json.RawMessage
	if payloadData != nil {
		b, err := json.Marshal(payloadData)
		if err != nil {
			return nil, fmt.Errorf("wsengine: marshal %s payload: %w", typ, err)
		}
		payload = b
	}
	return &Envelope{ID: id, Type: typ, Topic: topic, Payload: payload, Error: errPayload}, nil
}

// DecodePayload unmarshals the payload into v. A missing payload leaves v
// untouched.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// callArgs carries the arguments of every entry point. Each call reads only
// the fields it needs.
type callArgs struct {
	Handle    native.Handle  `json:"handle,omitempty"`
	Config    *native.Config `json:"config,omitempty"`
	To        string         `json:"to,omitempty"`
	Body      []byte         `json:"body,omitempty"`
	Path      string         `json:"path,omitempty"`
	Caption   string         `json:"caption,omitempty"`
	IsGroup   bool           `json:"is_group,omitempty"`
	Group     string         `json:"group,omitempty"`
	Text      string         `json:"text,omitempty"`
	Flag      bool           `json:"flag,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

type callResult struct {
	Status native.Status `json:"status"`
	Handle native.Handle `json:"handle,omitempty"`
}

// eventPayload is the body of event, disconnect and closed envelopes. Data
// holds the raw callback bytes (base64 on the wire).
type eventPayload struct {
	Handle native.Handle `json:"handle"`
	Data   []byte        `json:"data,omitempty"`
}
