package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lightforgemedia/go-wabridge/pkg/native"
)

// trampoline is the Callbacks value registered with the engine. It lives as
// long as the handle and is released only after teardown.
type trampoline struct {
	c *Client

	released    atomic.Bool
	tearingDown atomic.Bool
	ack         chan struct{}
	ackOnce     sync.Once
}

func newTrampoline(c *Client) *trampoline {
	return &trampoline{c: c, ack: make(chan struct{})}
}

func (t *trampoline) OnEvent(payload []byte) {
	if t.released.Load() {
		t.c.logger.Warn("event after release dropped", "bytes", len(payload))
		return
	}
	t.c.dispatcher.HandleRaw(payload)
}

func (t *trampoline) OnDisconnect() {
	if t.released.Load() {
		t.c.logger.Warn("disconnect notification after release dropped")
		return
	}
	if t.tearingDown.Load() {
		t.ackOnce.Do(func() { close(t.ack) })
	} else {
		// The remote side dropped us; nothing outstanding will be answered.
		if n := t.c.table.FailAll(ErrDisconnected); n > 0 {
			t.c.logger.Info("failed pending requests after remote disconnect", "count", n)
		}
		t.c.logger.Info("native client disconnected", "handle", t.c.handle.String())
	}
	t.notify()
}

func (t *trampoline) notify() {
	fn := t.c.opts.OnDisconnect
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.c.logger.Error("disconnect handler panicked", "panic", r)
		}
	}()
	fn()
}

func (t *trampoline) beginTeardown() <-chan struct{} {
	t.tearingDown.Store(true)
	return t.ack
}

func (t *trampoline) release() { t.released.Store(true) }

// pump is the only caller of PumpStep for the client's handle. When the
// engine invalidates the handle outside Disconnect, the pump tears the client
// down itself.
func (c *Client) pump(ctx context.Context) {
	lost := false
	defer func() {
		close(c.pumpDone)
		if lost {
			c.pumpCancel()
			c.finish()
		}
	}()
	c.logger.Debug("event pump started", "handle", c.handle.String())

	var steps uint64
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("event pump stopped", "handle", c.handle.String(), "steps", steps)
			return
		default:
		}
		st := c.engine.PumpStep(c.handle)
		steps++
		if st == native.StatusInvalidHandle {
			if c.markClosed() {
				lost = true
				c.logger.Error("native handle became invalid, closing client", "handle", c.handle.String())
				if n := c.table.Close(ErrDisconnected); n > 0 {
					c.logger.Info("failed pending requests after handle loss", "count", n)
				}
			}
			return
		}
	}
}
