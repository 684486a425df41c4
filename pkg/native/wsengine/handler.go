package wsengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/lightforgemedia/go-wabridge/pkg/native"
)

// Handler exposes a native.Engine to remote Engines. Each WebSocket
// connection owns the handles it created; the Handler pumps them and tears
// them down when the connection ends.
type Handler struct {
	engine native.Engine
	config config
}

// NewHandler returns a Handler serving engine.
func NewHandler(engine native.Engine, opts ...Option) *Handler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Handler{engine: engine, config: cfg}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.config.acceptOptions)
	if err != nil {
		h.config.logger.Error("websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(h.config.readLimit)

	s := &session{
		id:      uuid.NewString(),
		h:       h,
		conn:    conn,
		handles: make(map[native.Handle]struct{}),
		logger:  h.config.logger,
	}
	s.logger = s.logger.With("session", s.id)
	s.ctx, s.cancel = context.WithCancel(r.Context())
	s.logger.Info("engine session started", "remote", r.RemoteAddr)

	s.serve()
}

type session struct {
	id     string
	h      *Handler
	conn   *websocket.Conn
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	handlesMu sync.Mutex
	handles   map[native.Handle]struct{}
	pumps     sync.WaitGroup
}

func (s *session) serve() {
	defer s.teardown()
	for {
		var env Envelope
		if err := wsjson.Read(s.ctx, s.conn, &env); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				s.logger.Info("engine session closed by peer")
			} else {
				s.logger.Warn("engine session read error", "error", err, "status", int(status))
			}
			return
		}
		if env.Type != TypeRequest {
			s.logger.Warn("ignoring non-request envelope", "type", env.Type)
			continue
		}
		s.handleRequest(&env)
	}
}

func (s *session) handleRequest(req *Envelope) {
	var args callArgs
	if err := req.DecodePayload(&args); err != nil {
		s.replyError(req, CodeBadRequest, fmt.Sprintf("bad arguments: %v", err))
		return
	}

	call := native.Call(req.Topic)
	if call == native.CallCreate {
		s.create(req, args)
		return
	}
	if _, known := native.SuccessStatus(call); !known || call == native.CallPumpStep {
		s.replyError(req, CodeUnknownCall, fmt.Sprintf("%v: %s", native.ErrUnknownCall, req.Topic))
		return
	}
	if !s.owns(args.Handle) {
		s.reply(req, callResult{Status: native.StatusInvalidHandle})
		return
	}

	st := s.invoke(call, args)
	s.logger.Debug("engine call", "call", req.Topic, "handle", args.Handle.String(), "status", int32(st))
	s.reply(req, callResult{Status: st})
}

func (s *session) invoke(call native.Call, a callArgs) native.Status {
	e, h := s.h.engine, a.Handle
	switch call {
	case native.CallConnect:
		return e.Connect(h)
	case native.CallDisconnect:
		return e.Disconnect(h)
	case native.CallSendMessage:
		return e.SendMessage(h, a.To, a.Body, a.IsGroup)
	case native.CallSendImage:
		return e.SendImage(h, a.To, a.Path, a.Caption, a.IsGroup)
	case native.CallSendVideo:
		return e.SendVideo(h, a.To, a.Path, a.Caption, a.IsGroup)
	case native.CallSendAudio:
		return e.SendAudio(h, a.To, a.Path, a.IsGroup)
	case native.CallSendDocument:
		return e.SendDocument(h, a.To, a.Path, a.Caption, a.IsGroup)
	case native.CallSetGroupName:
		return e.SetGroupName(h, a.Group, a.Text)
	case native.CallSetGroupTopic:
		return e.SetGroupTopic(h, a.Group, a.Text)
	case native.CallSetGroupAnnounce:
		return e.SetGroupAnnounce(h, a.Group, a.Flag)
	case native.CallSetGroupLocked:
		return e.SetGroupLocked(h, a.Group, a.Flag)
	case native.CallJoinGroupWithInviteLink:
		return e.JoinGroupWithInviteLink(h, a.Text)
	case native.CallGetGroupInviteLink:
		return e.GetGroupInviteLink(h, a.Group, a.Flag, a.RequestID)
	case native.CallGetGroupInfo:
		return e.GetGroupInfo(h, a.Group, a.RequestID)
	}
	return native.StatusInvalidHandle
}

func (s *session) create(req *Envelope, args callArgs) {
	var cfg native.Config
	if args.Config != nil {
		cfg = *args.Config
	}
	fwd := &forwarder{s: s}
	handle, err := s.h.engine.Create(cfg, fwd)
	if err != nil {
		s.logger.Error("engine create failed", "error", err)
		s.replyError(req, CodeEngine, err.Error())
		return
	}
	fwd.handle = handle

	s.handlesMu.Lock()
	s.handles[handle] = struct{}{}
	s.handlesMu.Unlock()

	s.pumps.Add(1)
	go s.pump(handle)

	s.logger.Info("engine handle created", "handle", handle.String())
	s.reply(req, callResult{Handle: handle})
}

func (s *session) owns(h native.Handle) bool {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()
	_, ok := s.handles[h]
	return ok
}

// pump drives one handle until the engine invalidates it, or until the
// teardown grace after the session ended.
func (s *session) pump(h native.Handle) {
	defer s.pumps.Done()
	var grace <-chan time.Time
	for {
		if st := s.h.engine.PumpStep(h); st == native.StatusInvalidHandle {
			s.release(h)
			s.logger.Debug("engine handle closed", "handle", h.String())
			return
		}
		if grace == nil {
			select {
			case <-s.ctx.Done():
				grace = time.After(s.h.config.teardownGrace)
			default:
			}
			continue
		}
		select {
		case <-grace:
			s.release(h)
			s.logger.Warn("handle did not acknowledge teardown", "handle", h.String())
			return
		default:
		}
	}
}

// release forgets h and tells the peer it is gone.
func (s *session) release(h native.Handle) {
	s.handlesMu.Lock()
	delete(s.handles, h)
	s.handlesMu.Unlock()
	s.send(TypeClosed, eventPayload{Handle: h})
}

// teardown disconnects every handle the session still owns and waits for
// their pumps.
func (s *session) teardown() {
	s.cancel()

	s.handlesMu.Lock()
	owned := make([]native.Handle, 0, len(s.handles))
	for h := range s.handles {
		owned = append(owned, h)
	}
	s.handlesMu.Unlock()

	for _, h := range owned {
		st := s.h.engine.Disconnect(h)
		s.logger.Info("disconnecting orphaned handle", "handle", h.String(), "status", int32(st))
	}
	s.pumps.Wait()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	s.logger.Info("engine session ended")
}

func (s *session) reply(req *Envelope, res callResult) {
	env, err := NewEnvelope(req.ID, TypeResponse, req.Topic, res, nil)
	if err != nil {
		s.logger.Error("build response", "error", err)
		return
	}
	s.write(env)
}

func (s *session) replyError(req *Envelope, code int, msg string) {
	env, _ := NewEnvelope(req.ID, TypeError, req.Topic, nil, &ErrorPayload{Code: code, Message: msg})
	s.write(env)
}

func (s *session) send(typ string, p eventPayload) {
	env, err := NewEnvelope("", typ, "", p, nil)
	if err != nil {
		s.logger.Error("build callback envelope", "type", typ, "error", err)
		return
	}
	s.write(env)
}

func (s *session) write(env *Envelope) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), s.h.config.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, s.conn, env); err != nil {
		s.logger.Debug("write failed", "type", env.Type, "error", err)
	}
}

// forwarder is the Callbacks value the host registers for a remote handle.
type forwarder struct {
	s      *session
	handle native.Handle
}

func (f *forwarder) OnEvent(payload []byte) {
	f.s.send(TypeEvent, eventPayload{Handle: f.handle, Data: append([]byte(nil), payload...)})
}

func (f *forwarder) OnDisconnect() {
	f.s.send(TypeDisconnect, eventPayload{Handle: f.handle})
}
