// Package event decodes the opaque buffers a native engine hands to its event
// callback into a closed set of typed events.
//
// Decoding never drops data: anything that cannot be classified becomes a
// Generic event carrying the original bytes.
package event

import (
	"encoding/json"
)

// Kind discriminates the closed set of event variants.
type Kind string

const (
	KindLinkCode     Kind = "linkCode"
	KindQRCode       Kind = "qrCode"
	KindMethodReturn Kind = "methodReturn"
	KindMediaSaved   Kind = "mediaSaved"
	KindGeneric      Kind = "generic"
)

// Wire field names.
const (
	FieldEventType = "eventType"
	FieldCode      = "code"
	FieldCallID    = "callid"
	FieldReturn    = "return"
	FieldError     = "error"
	FieldMediaKind = "kind"
	FieldPath      = "path"
)

// Event is one decoded callback payload. Implementations are immutable.
type Event interface {
	Kind() Kind
	// Raw returns the bytes the event was decoded from.
	Raw() []byte
	isEvent()
}

type base struct{ raw []byte }

func (b base) Raw() []byte { return b.raw }
func (base) isEvent()      {}

// LinkCode carries a phone-number pairing code.
type LinkCode struct {
	base
	Code string
}

func (*LinkCode) Kind() Kind { return KindLinkCode }

// QRCode carries the data of a pairing QR code.
type QRCode struct {
	base
	Code string
}

func (*QRCode) Kind() Kind { return KindQRCode }

// MethodReturn is the late answer to a query entry point.
type MethodReturn struct {
	base
	RequestID string
	Payload   json.RawMessage
	// Error is set when the engine reports that the query failed.
	Error string
}

func (*MethodReturn) Kind() Kind { return KindMethodReturn }

// MediaSaved reports a media file written below the media root.
type MediaSaved struct {
	base
	MediaKind string
	Path      string
}

func (*MediaSaved) Kind() Kind { return KindMediaSaved }

// Generic is every event the codec does not model, including undecodable
// buffers. EventType is the discriminator as seen on the wire (may be empty)
// and Fields is nil when the buffer was not a JSON object.
type Generic struct {
	base
	EventType string
	Fields    map[string]any
}

func (*Generic) Kind() Kind { return KindGeneric }

// Type returns the wire discriminator of ev: the Kind for modelled variants
// and the raw eventType for Generic events ("generic" when there was none).
func Type(ev Event) string {
	if g, ok := ev.(*Generic); ok && g.EventType != "" {
		return g.EventType
	}
	return string(ev.Kind())
}

// RequestID returns the correlation id carried by ev, if any. Only
// MethodReturn events carry one; id-like fields on other variants are
// deliberately ignored.
func RequestID(ev Event) (string, bool) {
	mr, ok := ev.(*MethodReturn)
	if !ok {
		return "", false
	}
	return mr.RequestID, true
}
