// Package client is the public face of the bridge. A Client owns exactly one
// native handle, the goroutine pumping it, and the correlation table used by
// query operations.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lightforgemedia/go-wabridge/pkg/correlation"
	"github.com/lightforgemedia/go-wabridge/pkg/dispatch"
	"github.com/lightforgemedia/go-wabridge/pkg/event"
	"github.com/lightforgemedia/go-wabridge/pkg/media"
	"github.com/lightforgemedia/go-wabridge/pkg/native"
	"github.com/lightforgemedia/go-wabridge/pkg/present"
)

// Client drives one native messaging client.
type Client struct {
	opts   Options
	logger *slog.Logger
	engine native.Engine
	handle native.Handle

	table      *correlation.Table
	dispatcher *dispatch.Dispatcher
	tramp      *trampoline
	watcher    *media.Watcher

	pumpCancel context.CancelFunc
	pumpDone   chan struct{}

	closedMu sync.Mutex
	isClosed bool
	done     chan struct{}
}

// New provisions a native client on engine and starts its event pump.
func New(engine native.Engine, opts ...Option) (*Client, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return NewWithOptions(engine, o)
}

// NewWithOptions is New with an Options struct. Zero values take library
// defaults, except PrintCodes.
func NewWithOptions(engine native.Engine, opts Options) (*Client, error) {
	if engine == nil {
		return nil, fmt.Errorf("client: nil engine")
	}
	if err := validateOptions(&opts); err != nil {
		return nil, err
	}
	logger := opts.Logger

	if opts.MediaRoot != "" {
		if err := (media.Layout{Root: opts.MediaRoot}).Ensure(); err != nil {
			return nil, native.AsProvisioningError(opts.MediaRoot, err)
		}
	}

	table := correlation.New(correlation.WithLogger(logger))
	dopts := []dispatch.Option{
		dispatch.WithLogger(logger),
		dispatch.WithListenerBuffer(opts.ListenerBuffer),
	}
	if opts.PrintCodes {
		p := opts.Presenter
		if p == nil {
			p = present.NewTerminal(nil)
		}
		dopts = append(dopts, dispatch.WithPresenter(p))
	}
	d := dispatch.New(table, dopts...)
	if opts.OnEvent != nil {
		d.Subscribe(opts.OnEvent)
	}

	c := &Client{
		opts:       opts,
		logger:     logger,
		engine:     engine,
		table:      table,
		dispatcher: d,
		done:       make(chan struct{}),
	}
	c.tramp = newTrampoline(c)

	if opts.WatchMedia {
		w, err := media.NewWatcher(media.Layout{Root: opts.MediaRoot},
			media.WithLogger(logger), media.WithSettle(opts.MediaSettle))
		if err == nil {
			err = w.Start()
		}
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("client: media watcher: %w", err)
		}
		w.OnSaved(d.HandleRaw)
		c.watcher = w
	}

	h, err := engine.Create(native.Config{
		Identity:    opts.Identity,
		StorageRoot: opts.MediaRoot,
		Machine:     opts.Machine,
		Browser:     opts.Browser,
	}, c.tramp)
	if err == nil && !h.Valid() {
		err = fmt.Errorf("engine returned %s", h)
	}
	if err != nil {
		c.tramp.release()
		if c.watcher != nil {
			_ = c.watcher.Stop()
		}
		d.Close()
		logger.Error("native client provisioning failed", "storage_root", opts.MediaRoot, "error", err)
		return nil, native.AsProvisioningError(opts.MediaRoot, err)
	}
	c.handle = h

	pumpCtx, cancel := context.WithCancel(context.Background())
	c.pumpCancel = cancel
	c.pumpDone = make(chan struct{})
	go c.pump(pumpCtx)

	logger.Info("native client created", "handle", h.String(), "storage_root", opts.MediaRoot)
	return c, nil
}

// Connect starts connecting and authenticating. Progress, including pairing
// codes, is reported through events.
func (c *Client) Connect() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	st := c.engine.Connect(c.handle)
	if !native.Succeeded(native.CallConnect, st) {
		return &RequestFailedError{Call: native.CallConnect, Status: st}
	}
	c.logger.Info("connect requested", "handle", c.handle.String())
	return nil
}

// Disconnect tears the client down: pending requests fail with
// ErrDisconnected, the engine is asked to disconnect, and the pump is stopped
// once the engine acknowledged or the teardown timeout passed. Later calls
// return ErrDisconnected. Disconnect must not be called from a subscriber or
// the disconnect handler.
func (c *Client) Disconnect() error {
	if !c.markClosed() {
		return ErrDisconnected
	}

	c.logger.Info("disconnecting", "handle", c.handle.String())

	if n := c.table.Close(ErrDisconnected); n > 0 {
		c.logger.Info("failed pending requests on disconnect", "count", n)
	}

	ack := c.tramp.beginTeardown()
	st := c.engine.Disconnect(c.handle)
	if native.Succeeded(native.CallDisconnect, st) {
		timer := time.NewTimer(c.opts.TeardownTimeout)
		select {
		case <-ack:
			c.logger.Debug("teardown acknowledged", "handle", c.handle.String())
		case <-c.pumpDone:
		case <-timer.C:
			c.logger.Warn("teardown not acknowledged in time", "handle", c.handle.String(), "timeout", c.opts.TeardownTimeout)
		}
		timer.Stop()
	} else {
		c.logger.Warn("native disconnect failed", "handle", c.handle.String(), "status", int32(st))
	}

	c.pumpCancel()
	<-c.pumpDone
	c.finish()
	return nil
}

// finish releases everything that outlives the pump. It runs once, after the
// pump has exited.
func (c *Client) finish() {
	c.tramp.release()

	if c.watcher != nil {
		if err := c.watcher.Stop(); err != nil {
			c.logger.Warn("stopping media watcher", "error", err)
		}
	}
	c.dispatcher.Close()
	close(c.done)

	c.logger.Info("disconnected", "handle", c.handle.String())
}

// Done is closed once the client is torn down, by Disconnect or because the
// engine invalidated the handle.
func (c *Client) Done() <-chan struct{} { return c.done }

// Subscribe registers fn for every broadcast event. Subscribers run one at a
// time in registration order on a goroutine owned by the client and may call
// query operations.
func (c *Client) Subscribe(fn dispatch.Subscriber) (unsubscribe func()) {
	return c.dispatcher.Subscribe(fn)
}

// Listen returns a channel of broadcast events of the given wire types, or of
// all events when types is empty.
func (c *Client) Listen(types ...string) (<-chan event.Event, func()) {
	return c.dispatcher.Listen(types...)
}

// PendingRequests returns the number of queries waiting for an answer.
func (c *Client) PendingRequests() int { return c.table.Len() }

// markClosed reports whether this call closed the client.
func (c *Client) markClosed() bool {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	if c.isClosed {
		return false
	}
	c.isClosed = true
	return true
}

func (c *Client) closed() bool {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	return c.isClosed
}

func (c *Client) checkOpen() error {
	if c.closed() {
		return ErrDisconnected
	}
	return nil
}
