package wsengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/lightforgemedia/go-wabridge/pkg/native"
)

// ErrClosed is returned for calls made after the connection to the host ended.
var ErrClosed = errors.New("wsengine: connection closed")

// remoteHandle buffers the callbacks received for one handle until PumpStep
// runs them.
type remoteHandle struct {
	cb      native.Callbacks
	pending []func(native.Callbacks)
	wake    chan struct{}
	gone    bool
}

// Engine is a native.Engine whose instances live in a remote Handler.
type Engine struct {
	config config
	url    string
	conn   *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	pendingMu sync.Mutex
	pending   map[string]chan *Envelope

	handlesMu sync.Mutex
	handles   map[native.Handle]*remoteHandle

	closeOnce sync.Once
}

// Dial connects to a Handler at url.
func Dial(ctx context.Context, url string, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.callTimeout)
	conn, resp, err := websocket.Dial(dialCtx, url, cfg.dialOptions)
	cancel()
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wsengine: dial %s: %w (status: %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("wsengine: dial %s: %w", url, err)
	}
	conn.SetReadLimit(cfg.readLimit)

	e := &Engine{
		config:  cfg,
		url:     url,
		conn:    conn,
		done:    make(chan struct{}),
		pending: make(map[string]chan *Envelope),
		handles: make(map[native.Handle]*remoteHandle),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	go e.readPump()

	cfg.logger.Info("connected to engine host", "url", url)
	return e, nil
}

// Close ends the connection. Handles still open on the host are torn down by
// the host. Closing twice returns ErrClosed.
func (e *Engine) Close() error {
	first := false
	e.closeOnce.Do(func() {
		first = true
		if err := e.conn.Close(websocket.StatusNormalClosure, "engine closed"); err != nil {
			e.config.logger.Debug("close handshake", "error", err)
		}
		e.cancel()
	})
	<-e.done
	if !first {
		return ErrClosed
	}
	return nil
}

// Done is closed once the connection to the host has ended.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) readPump() {
	defer close(e.done)
	defer e.shutdown()

	logger := e.config.logger
	for {
		var env Envelope
		if err := wsjson.Read(e.ctx, e.conn, &env); err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case e.ctx.Err() != nil:
				logger.Debug("engine read pump stopping", "error", err)
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				logger.Info("engine host closed the connection", "status", int(status))
			default:
				logger.Error("engine read error", "error", err, "status", int(status))
			}
			return
		}

		switch env.Type {
		case TypeResponse, TypeError:
			e.pendingMu.Lock()
			ch, ok := e.pending[env.ID]
			e.pendingMu.Unlock()
			if !ok {
				logger.Warn("unsolicited response", "id", env.ID, "topic", env.Topic)
				continue
			}
			select {
			case ch <- &env:
			default:
				logger.Warn("response channel already filled", "id", env.ID)
			}

		case TypeEvent, TypeDisconnect, TypeClosed:
			var p eventPayload
			if err := env.DecodePayload(&p); err != nil || !p.Handle.Valid() {
				logger.Warn("malformed callback envelope", "type", env.Type, "error", err)
				continue
			}
			e.route(env.Type, p)

		default:
			logger.Warn("unknown envelope type", "type", env.Type)
		}
	}
}

func (e *Engine) route(typ string, p eventPayload) {
	e.handlesMu.Lock()
	rh := e.stateLocked(p.Handle)
	switch typ {
	case TypeEvent:
		data := p.Data
		rh.pending = append(rh.pending, func(cb native.Callbacks) { cb.OnEvent(data) })
	case TypeDisconnect:
		rh.pending = append(rh.pending, func(cb native.Callbacks) { cb.OnDisconnect() })
	case TypeClosed:
		rh.gone = true
	}
	e.handlesMu.Unlock()

	select {
	case rh.wake <- struct{}{}:
	default:
	}
}

// shutdown runs once the socket is gone: every live handle gets a final
// disconnect notification and becomes invalid, and every waiting call fails.
func (e *Engine) shutdown() {
	e.cancel()

	e.handlesMu.Lock()
	for _, rh := range e.handles {
		if !rh.gone {
			rh.pending = append(rh.pending, func(cb native.Callbacks) { cb.OnDisconnect() })
			rh.gone = true
		}
		select {
		case rh.wake <- struct{}{}:
		default:
		}
	}
	e.handlesMu.Unlock()

	e.pendingMu.Lock()
	for id, ch := range e.pending {
		close(ch)
		delete(e.pending, id)
	}
	e.pendingMu.Unlock()
}

func (e *Engine) stateLocked(h native.Handle) *remoteHandle {
	rh, ok := e.handles[h]
	if !ok {
		rh = &remoteHandle{wake: make(chan struct{}, 1)}
		e.handles[h] = rh
	}
	return rh
}

// call runs one entry point on the host and waits for its result.
func (e *Engine) call(call native.Call, args callArgs) (callResult, error) {
	id := uuid.NewString()
	env, err := NewEnvelope(id, TypeRequest, string(call), args, nil)
	if err != nil {
		return callResult{}, err
	}

	ch := make(chan *Envelope, 1)
	e.pendingMu.Lock()
	select {
	case <-e.done:
		e.pendingMu.Unlock()
		return callResult{}, ErrClosed
	default:
	}
	e.pending[id] = ch
	e.pendingMu.Unlock()
	defer func() {
		e.pendingMu.Lock()
		delete(e.pending, id)
		e.pendingMu.Unlock()
	}()

	writeCtx, cancel := context.WithTimeout(e.ctx, e.config.writeTimeout)
	err = wsjson.Write(writeCtx, e.conn, env)
	cancel()
	if err != nil {
		return callResult{}, fmt.Errorf("wsengine: send %s: %w", call, err)
	}

	timer := time.NewTimer(e.config.callTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return callResult{}, ErrClosed
		}
		if resp.Type == TypeError {
			msg := "unknown error"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			if resp.Error != nil && resp.Error.Code == CodeUnknownCall {
				return callResult{}, fmt.Errorf("%w: %s", native.ErrUnknownCall, msg)
			}
			return callResult{}, fmt.Errorf("wsengine: %s: %s", call, msg)
		}
		var res callResult
		if err := resp.DecodePayload(&res); err != nil {
			return callResult{}, fmt.Errorf("wsengine: decode %s result: %w", call, err)
		}
		return res, nil
	case <-timer.C:
		return callResult{}, fmt.Errorf("wsengine: %s timed out after %v", call, e.config.callTimeout)
	case <-e.ctx.Done():
		return callResult{}, ErrClosed
	}
}

// status runs a status-returning entry point. Transport failures map to
// StatusInvalidHandle since the handle cannot be reached.
func (e *Engine) status(call native.Call, args callArgs) native.Status {
	res, err := e.call(call, args)
	if err != nil {
		e.config.logger.Warn("remote call failed", "call", string(call), "handle", args.Handle.String(), "error", err)
		return native.StatusInvalidHandle
	}
	return res.Status
}

// Create provisions a client on the host. Callbacks for the handle are run by
// PumpStep.
func (e *Engine) Create(cfg native.Config, cb native.Callbacks) (native.Handle, error) {
	if cb == nil {
		return 0, errors.New("wsengine: nil callbacks")
	}
	res, err := e.call(native.CallCreate, callArgs{Config: &cfg})
	if err != nil {
		return 0, err
	}
	if !res.Handle.Valid() {
		return 0, fmt.Errorf("wsengine: host returned %s", res.Handle)
	}

	e.handlesMu.Lock()
	rh := e.stateLocked(res.Handle)
	rh.cb = cb
	e.handlesMu.Unlock()

	e.config.logger.Debug("remote handle created", "handle", res.Handle.String())
	return res.Handle, nil
}

func (e *Engine) Connect(h native.Handle) native.Status {
	return e.status(native.CallConnect, callArgs{Handle: h})
}

func (e *Engine) Disconnect(h native.Handle) native.Status {
	return e.status(native.CallDisconnect, callArgs{Handle: h})
}

// PumpStep runs the callbacks received for h, waiting up to the step interval
// for the first one.
func (e *Engine) PumpStep(h native.Handle) native.Status {
	e.handlesMu.Lock()
	rh, ok := e.handles[h]
	if !ok || rh.cb == nil {
		e.handlesMu.Unlock()
		return native.StatusInvalidHandle
	}
	if len(rh.pending) == 0 && rh.gone {
		e.handlesMu.Unlock()
		return native.StatusInvalidHandle
	}
	e.handlesMu.Unlock()

	timer := time.NewTimer(e.config.stepInterval)
	defer timer.Stop()
	select {
	case <-rh.wake:
	case <-timer.C:
	}

	for {
		e.handlesMu.Lock()
		if len(rh.pending) == 0 {
			gone := rh.gone
			if gone {
				delete(e.handles, h)
			}
			e.handlesMu.Unlock()
			if gone {
				return native.StatusInvalidHandle
			}
			return 0
		}
		fn := rh.pending[0]
		rh.pending = rh.pending[1:]
		cb := rh.cb
		e.handlesMu.Unlock()
		fn(cb)
	}
}

func (e *Engine) SendMessage(h native.Handle, to string, body []byte, group bool) native.Status {
	return e.status(native.CallSendMessage, callArgs{Handle: h, To: to, Body: body, IsGroup: group})
}

func (e *Engine) SendImage(h native.Handle, to, path, caption string, group bool) native.Status {
	return e.status(native.CallSendImage, callArgs{Handle: h, To: to, Path: path, Caption: caption, IsGroup: group})
}

func (e *Engine) SendVideo(h native.Handle, to, path, caption string, group bool) native.Status {
	return e.status(native.CallSendVideo, callArgs{Handle: h, To: to, Path: path, Caption: caption, IsGroup: group})
}

func (e *Engine) SendAudio(h native.Handle, to, path string, group bool) native.Status {
	return e.status(native.CallSendAudio, callArgs{Handle: h, To: to, Path: path, IsGroup: group})
}

func (e *Engine) SendDocument(h native.Handle, to, path, caption string, group bool) native.Status {
	return e.status(native.CallSendDocument, callArgs{Handle: h, To: to, Path: path, Caption: caption, IsGroup: group})
}

func (e *Engine) SetGroupName(h native.Handle, group, name string) native.Status {
	return e.status(native.CallSetGroupName, callArgs{Handle: h, Group: group, Text: name})
}

func (e *Engine) SetGroupTopic(h native.Handle, group, topic string) native.Status {
	return e.status(native.CallSetGroupTopic, callArgs{Handle: h, Group: group, Text: topic})
}

func (e *Engine) SetGroupAnnounce(h native.Handle, group string, announce bool) native.Status {
	return e.status(native.CallSetGroupAnnounce, callArgs{Handle: h, Group: group, Flag: announce})
}

func (e *Engine) SetGroupLocked(h native.Handle, group string, locked bool) native.Status {
	return e.status(native.CallSetGroupLocked, callArgs{Handle: h, Group: group, Flag: locked})
}

func (e *Engine) JoinGroupWithInviteLink(h native.Handle, code string) native.Status {
	return e.status(native.CallJoinGroupWithInviteLink, callArgs{Handle: h, Text: code})
}

func (e *Engine) GetGroupInviteLink(h native.Handle, group string, reset bool, requestID string) native.Status {
	return e.status(native.CallGetGroupInviteLink, callArgs{Handle: h, Group: group, Flag: reset, RequestID: requestID})
}

func (e *Engine) GetGroupInfo(h native.Handle, group, requestID string) native.Status {
	return e.status(native.CallGetGroupInfo, callArgs{Handle: h, Group: group, RequestID: requestID})
}

var _ native.Engine = (*Engine)(nil)
