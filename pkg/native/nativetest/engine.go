// Package nativetest provides an in-memory native.Engine for tests. Events are
// injected with Emit and delivered from PumpStep, exactly like a real engine
// delivers callbacks from its advance entry point.
package nativetest

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightforgemedia/go-wabridge/pkg/event"
	"github.com/lightforgemedia/go-wabridge/pkg/native"
)

const defaultStepInterval = 5 * time.Millisecond

// Call is one recorded entry point invocation.
type Call struct {
	Name   native.Call
	Handle native.Handle
	Args   []any
}

// Query is handed to a Responder when a query entry point is called.
type Query struct {
	Call      native.Call
	Handle    native.Handle
	Group     string
	Reset     bool
	RequestID string
}

// Responder computes the late answer to a query. Returning ok=false means
// the engine never answers.
type Responder func(q Query) (payload any, errMsg string, ok bool)

type instance struct {
	cfg      native.Config
	cb       native.Callbacks
	pending  []func()
	wake     chan struct{}
	stepping atomic.Int32
	closing  bool
}

// Engine is a scriptable native.Engine.
type Engine struct {
	// StepInterval bounds how long PumpStep waits for work.
	StepInterval time.Duration
	// IgnoreDisconnect makes Disconnect report success without ever tearing
	// the handle down.
	IgnoreDisconnect bool

	mu         sync.Mutex
	createErr  error
	next       native.Handle
	instances  map[native.Handle]*instance
	statuses   map[native.Call]native.Status
	responders map[native.Call]Responder
	calls      []Call
	steps      atomic.Int64
	overlaps   atomic.Int64
	created    int
}

// New returns an engine answering every call with its success status.
func New() *Engine {
	return &Engine{
		StepInterval: defaultStepInterval,
		instances:    make(map[native.Handle]*instance),
		statuses:     make(map[native.Call]native.Status),
		responders:   make(map[native.Call]Responder),
	}
}

// SetStatus makes call return s from now on.
func (e *Engine) SetStatus(call native.Call, s native.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses[call] = s
}

// FailCreate makes every later Create fail with err.
func (e *Engine) FailCreate(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.createErr = err
}

// Respond installs the responder for a query call.
func (e *Engine) Respond(call native.Call, r Responder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responders[call] = r
}

// Calls returns the recorded calls, PumpStep excluded.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// CallsNamed returns the recorded calls of one entry point.
func (e *Engine) CallsNamed(name native.Call) []Call {
	var out []Call
	for _, c := range e.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Steps returns how many times PumpStep ran.
func (e *Engine) Steps() int64 { return e.steps.Load() }

// Overlaps returns how many times PumpStep was entered while already running
// for the same handle.
func (e *Engine) Overlaps() int64 { return e.overlaps.Load() }

// Live returns the number of handles not torn down yet.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.instances)
}

// Created returns how many handles were ever provisioned.
func (e *Engine) Created() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.created
}

// Config returns the configuration h was created with.
func (e *Engine) Config(h native.Handle) (native.Config, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[h]
	if !ok {
		return native.Config{}, false
	}
	return inst.cfg, true
}

// Emit queues raw for delivery through OnEvent on the next PumpStep.
func (e *Engine) Emit(h native.Handle, raw []byte) error {
	payload := append([]byte(nil), raw...)
	return e.enqueue(h, func(cb native.Callbacks) { cb.OnEvent(payload) })
}

// EmitEvent encodes and queues an event.
func (e *Engine) EmitEvent(h native.Handle, eventType string, fields map[string]any) error {
	raw, err := event.Encode(eventType, fields)
	if err != nil {
		return err
	}
	return e.Emit(h, raw)
}

// Drop simulates the remote side closing the connection: OnDisconnect runs on
// the next PumpStep but the handle stays valid.
func (e *Engine) Drop(h native.Handle) error {
	return e.enqueue(h, func(cb native.Callbacks) { cb.OnDisconnect() })
}

var errNoHandle = errors.New("nativetest: no such handle")

func (e *Engine) enqueue(h native.Handle, fn func(native.Callbacks)) error {
	e.mu.Lock()
	inst, ok := e.instances[h]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", errNoHandle, h)
	}
	cb := inst.cb
	inst.pending = append(inst.pending, func() { fn(cb) })
	e.mu.Unlock()

	select {
	case inst.wake <- struct{}{}:
	default:
	}
	return nil
}

func (e *Engine) record(name native.Call, h native.Handle, args ...any) (native.Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Call{Name: name, Handle: h, Args: args})
	inst, ok := e.instances[h]
	if !ok || inst.closing {
		return native.StatusInvalidHandle, false
	}
	if s, ok := e.statuses[name]; ok {
		return s, true
	}
	s, _ := native.SuccessStatus(name)
	return s, true
}

// Create provisions a handle. A StorageRoot that exists as a regular file is
// rejected, like a native datastore that cannot be opened.
func (e *Engine) Create(cfg native.Config, cb native.Callbacks) (native.Handle, error) {
	e.mu.Lock()
	err := e.createErr
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if cb == nil {
		return 0, errors.New("nativetest: nil callbacks")
	}
	if cfg.StorageRoot != "" {
		if fi, err := os.Stat(cfg.StorageRoot); err == nil && !fi.IsDir() {
			return 0, fmt.Errorf("nativetest: storage root %s is not a directory", cfg.StorageRoot)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	h := e.next
	e.instances[h] = &instance{cfg: cfg, cb: cb, wake: make(chan struct{}, 1)}
	e.created++
	e.calls = append(e.calls, Call{Name: native.CallCreate, Handle: h, Args: []any{cfg}})
	return h, nil
}

func (e *Engine) Connect(h native.Handle) native.Status {
	s, _ := e.record(native.CallConnect, h)
	return s
}

// Disconnect marks h as closing and queues the teardown acknowledgement. The
// handle is already invalid when the acknowledgement is delivered.
func (e *Engine) Disconnect(h native.Handle) native.Status {
	s, ok := e.record(native.CallDisconnect, h)
	if !ok || !native.Succeeded(native.CallDisconnect, s) {
		return s
	}
	e.mu.Lock()
	if e.IgnoreDisconnect {
		e.mu.Unlock()
		return s
	}
	inst := e.instances[h]
	inst.closing = true
	cb := inst.cb
	inst.pending = append(inst.pending, func() {
		e.mu.Lock()
		delete(e.instances, h)
		e.mu.Unlock()
		cb.OnDisconnect()
	})
	e.mu.Unlock()

	select {
	case inst.wake <- struct{}{}:
	default:
	}
	return s
}

// PumpStep waits up to StepInterval for queued work and runs it.
func (e *Engine) PumpStep(h native.Handle) native.Status {
	e.mu.Lock()
	inst, ok := e.instances[h]
	e.mu.Unlock()
	if !ok {
		return native.StatusInvalidHandle
	}
	e.steps.Add(1)

	if inst.stepping.Add(1) > 1 {
		e.overlaps.Add(1)
	}
	defer inst.stepping.Add(-1)

	timer := time.NewTimer(e.StepInterval)
	defer timer.Stop()
	select {
	case <-inst.wake:
	case <-timer.C:
	}

	for {
		e.mu.Lock()
		if len(inst.pending) == 0 {
			e.mu.Unlock()
			return 0
		}
		fn := inst.pending[0]
		inst.pending = inst.pending[1:]
		e.mu.Unlock()
		fn()
	}
}

func (e *Engine) SendMessage(h native.Handle, to string, body []byte, group bool) native.Status {
	s, _ := e.record(native.CallSendMessage, h, to, append([]byte(nil), body...), group)
	return s
}

func (e *Engine) SendImage(h native.Handle, to, path, caption string, group bool) native.Status {
	s, _ := e.record(native.CallSendImage, h, to, path, caption, group)
	return s
}

func (e *Engine) SendVideo(h native.Handle, to, path, caption string, group bool) native.Status {
	s, _ := e.record(native.CallSendVideo, h, to, path, caption, group)
	return s
}

func (e *Engine) SendAudio(h native.Handle, to, path string, group bool) native.Status {
	s, _ := e.record(native.CallSendAudio, h, to, path, group)
	return s
}

func (e *Engine) SendDocument(h native.Handle, to, path, caption string, group bool) native.Status {
	s, _ := e.record(native.CallSendDocument, h, to, path, caption, group)
	return s
}

func (e *Engine) SetGroupName(h native.Handle, group, name string) native.Status {
	s, _ := e.record(native.CallSetGroupName, h, group, name)
	return s
}

func (e *Engine) SetGroupTopic(h native.Handle, group, topic string) native.Status {
	s, _ := e.record(native.CallSetGroupTopic, h, group, topic)
	return s
}

func (e *Engine) SetGroupAnnounce(h native.Handle, group string, announce bool) native.Status {
	s, _ := e.record(native.CallSetGroupAnnounce, h, group, announce)
	return s
}

func (e *Engine) SetGroupLocked(h native.Handle, group string, locked bool) native.Status {
	s, _ := e.record(native.CallSetGroupLocked, h, group, locked)
	return s
}

func (e *Engine) JoinGroupWithInviteLink(h native.Handle, code string) native.Status {
	s, _ := e.record(native.CallJoinGroupWithInviteLink, h, code)
	return s
}

func (e *Engine) GetGroupInviteLink(h native.Handle, group string, reset bool, requestID string) native.Status {
	s, ok := e.record(native.CallGetGroupInviteLink, h, group, reset, requestID)
	if ok && native.Succeeded(native.CallGetGroupInviteLink, s) {
		e.answer(Query{Call: native.CallGetGroupInviteLink, Handle: h, Group: group, Reset: reset, RequestID: requestID})
	}
	return s
}

func (e *Engine) GetGroupInfo(h native.Handle, group, requestID string) native.Status {
	s, ok := e.record(native.CallGetGroupInfo, h, group, requestID)
	if ok && native.Succeeded(native.CallGetGroupInfo, s) {
		e.answer(Query{Call: native.CallGetGroupInfo, Handle: h, Group: group, RequestID: requestID})
	}
	return s
}

func (e *Engine) answer(q Query) {
	e.mu.Lock()
	r := e.responders[q.Call]
	e.mu.Unlock()
	if r == nil {
		return
	}
	payload, errMsg, ok := r(q)
	if !ok {
		return
	}
	raw, err := event.EncodeMethodReturn(q.RequestID, payload, errMsg)
	if err != nil {
		return
	}
	_ = e.Emit(q.Handle, raw)
}

var _ native.Engine = (*Engine)(nil)
