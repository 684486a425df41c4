// Package wabridge is the top-level entry point of the bridge. It re-exports
// the client and the pieces most programs need, so a typical program imports
// only this package and an engine.
package wabridge

import (
	"context"

	"github.com/lightforgemedia/go-wabridge/pkg/client"
	"github.com/lightforgemedia/go-wabridge/pkg/correlation"
	"github.com/lightforgemedia/go-wabridge/pkg/dispatch"
	"github.com/lightforgemedia/go-wabridge/pkg/event"
	"github.com/lightforgemedia/go-wabridge/pkg/native"
	"github.com/lightforgemedia/go-wabridge/pkg/native/wsengine"
)

// Re-export core types
type (
	Client             = client.Client
	Options            = client.Options
	Option             = client.Option
	Target             = client.Target
	GroupInfo          = client.GroupInfo
	Engine             = native.Engine
	Event              = event.Event
	Subscriber         = dispatch.Subscriber
	ValidationError    = client.ValidationError
	RequestFailedError = client.RequestFailedError
	RemoteError        = correlation.RemoteError
	ProvisioningError  = native.ProvisioningError
)

// Re-export error values
var (
	ErrDisconnected   = client.ErrDisconnected
	ErrRequestTimeout = correlation.ErrRequestTimeout
)

// Event types with a dedicated variant.
const (
	EventLinkCode     = string(event.KindLinkCode)
	EventQRCode       = string(event.KindQRCode)
	EventMethodReturn = string(event.KindMethodReturn)
	EventMediaSaved   = string(event.KindMediaSaved)
)

// New creates a client over engine.
func New(engine Engine, opts ...Option) (*Client, error) {
	return client.New(engine, opts...)
}

// DefaultOptions returns the client defaults.
func DefaultOptions() Options {
	return client.DefaultOptions()
}

// Phone addresses a contact by phone number.
func Phone(number string) Target { return client.Phone(number) }

// GroupJID addresses a group.
func GroupJID(id string) Target { return client.GroupJID(id) }

// Connect dials the engine host at url, creates a client on it and starts
// connecting. The client's logger is passed to the engine unless engineOpts
// set another. Close the returned engine after Disconnect.
func Connect(ctx context.Context, url string, engineOpts []wsengine.Option, opts ...Option) (*Client, *wsengine.Engine, error) {
	o := client.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	eopts := append([]wsengine.Option{wsengine.WithLogger(o.Logger)}, engineOpts...)
	engine, err := wsengine.Dial(ctx, url, eopts...)
	if err != nil {
		return nil, nil, err
	}
	c, err := client.NewWithOptions(engine, o)
	if err != nil {
		_ = engine.Close()
		return nil, nil, err
	}
	if err := c.Connect(); err != nil {
		_ = c.Disconnect()
		_ = engine.Close()
		return nil, nil, err
	}
	return c, engine, nil
}
