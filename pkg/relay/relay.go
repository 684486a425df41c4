// Package relay connects a bridge client to NATS: broadcast events are
// published on subjects named after their type, and a small set of commands
// is served with request/reply.
//
// Subjects, for the default prefix "wabridge":
//
//	wabridge.events.<eventType>   every broadcast event, raw callback bytes
//	wabridge.cmd.send_text        {"to":"...","is_group":false,"text":"..."}
//	wabridge.cmd.group_info       {"group":"..."}
//	wabridge.cmd.invite_link      {"group":"...","reset":false}
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lightforgemedia/go-wabridge/pkg/client"
	"github.com/lightforgemedia/go-wabridge/pkg/dispatch"
	"github.com/lightforgemedia/go-wabridge/pkg/event"
	"github.com/nats-io/nats.go"
)

const (
	defaultPrefix         = "wabridge"
	defaultCommandTimeout = 15 * time.Second

	CmdSendText   = "send_text"
	CmdGroupInfo  = "group_info"
	CmdInviteLink = "invite_link"
)

// Bridge is the part of a client the relay drives.
type Bridge interface {
	Subscribe(fn dispatch.Subscriber) (unsubscribe func())
	SendText(to client.Target, text string) (bool, error)
	GetGroupInfo(ctx context.Context, group string) (client.GroupInfo, error)
	GetGroupInviteLink(ctx context.Context, group string, reset bool) (string, error)
}

// Options contains configuration options for the relay.
type Options struct {
	// URL is the NATS server URL.
	URL string
	// Prefix is the first subject token. Defaults to "wabridge".
	Prefix string
	// QueueName groups command subscribers so each command runs once.
	// Defaults to the prefix.
	QueueName string
	// CommandTimeout bounds a single command.
	CommandTimeout time.Duration
	// ConnectionOptions are additional options for the NATS connection.
	ConnectionOptions []nats.Option
	Logger            *slog.Logger
}

// CommandRequest is the body of every command.
type CommandRequest struct {
	To    string `json:"to,omitempty"`
	Group string `json:"group,omitempty"`
	// IsGroup addresses To as a group for send_text.
	IsGroup bool   `json:"is_group,omitempty"`
	Text    string `json:"text,omitempty"`
	Reset   bool   `json:"reset,omitempty"`
}

// CommandReply is the answer to every command.
type CommandReply struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// Relay forwards events from one Bridge to NATS and serves commands for it.
type Relay struct {
	bridge  Bridge
	pub     publisher
	conn    *nats.Conn
	prefix  string
	queue   string
	timeout time.Duration
	logger  *slog.Logger

	mu          sync.Mutex
	subs        []*nats.Subscription
	unsubscribe func()
	closed      bool
}

// New connects to NATS and starts relaying for b.
func New(b Bridge, opts Options) (*Relay, error) {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	conn, err := nats.Connect(opts.URL, opts.ConnectionOptions...)
	if err != nil {
		return nil, fmt.Errorf("relay: connect to NATS: %w", err)
	}

	r := newRelay(b, conn, opts)
	r.conn = conn
	for _, cmd := range []string{CmdSendText, CmdGroupInfo, CmdInviteLink} {
		cmd := cmd // per-iteration copy; go directive is 1.21
		sub, err := conn.QueueSubscribe(r.subject("cmd", cmd), r.queue, func(msg *nats.Msg) {
			reply := r.handleCommand(cmd, msg.Data)
			if msg.Reply == "" {
				return
			}
			if err := msg.Respond(reply); err != nil {
				r.logger.Warn("relay reply failed", "command", cmd, "error", err)
			}
		})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("relay: subscribe %s: %w", cmd, err)
		}
		r.mu.Lock()
		r.subs = append(r.subs, sub)
		r.mu.Unlock()
	}
	r.start()

	r.logger.Info("relay started", "url", opts.URL, "prefix", r.prefix)
	return r, nil
}

func newRelay(b Bridge, pub publisher, opts Options) *Relay {
	r := &Relay{
		bridge:  b,
		pub:     pub,
		prefix:  opts.Prefix,
		queue:   opts.QueueName,
		timeout: opts.CommandTimeout,
		logger:  opts.Logger,
	}
	if r.prefix == "" {
		r.prefix = defaultPrefix
	}
	if r.queue == "" {
		r.queue = r.prefix
	}
	if r.timeout <= 0 {
		r.timeout = defaultCommandTimeout
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

func (r *Relay) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribe = r.bridge.Subscribe(r.forward)
}

func (r *Relay) subject(tokens ...string) string {
	return r.prefix + "." + strings.Join(tokens, ".")
}

// EventSubject returns the subject events of eventType are published on.
func (r *Relay) EventSubject(eventType string) string {
	return r.subject("events", subjectToken(eventType))
}

// subjectToken makes s usable as one NATS subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(c rune) rune {
		switch c {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return c
	}, s)
}

func (r *Relay) forward(ev event.Event) error {
	subject := r.EventSubject(event.Type(ev))
	if err := r.pub.Publish(subject, ev.Raw()); err != nil {
		return fmt.Errorf("relay: publish %s: %w", subject, err)
	}
	return nil
}

func (r *Relay) handleCommand(cmd string, data []byte) []byte {
	var req CommandRequest
	reply := CommandReply{}
	if err := json.Unmarshal(data, &req); err != nil {
		reply.Error = fmt.Sprintf("bad request: %v", err)
		return mustJSON(reply)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var err error
	switch cmd {
	case CmdSendText:
		to := client.Phone(req.To)
		if req.IsGroup {
			to = client.GroupJID(req.To)
		}
		reply.OK, err = r.bridge.SendText(to, req.Text)
	case CmdGroupInfo:
		var info client.GroupInfo
		info, err = r.bridge.GetGroupInfo(ctx, req.Group)
		reply.OK, reply.Result = err == nil, info
	case CmdInviteLink:
		var link string
		link, err = r.bridge.GetGroupInviteLink(ctx, req.Group, req.Reset)
		reply.OK, reply.Result = err == nil, link
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		reply.OK = false
		reply.Result = nil
		reply.Error = err.Error()
		r.logger.Warn("relay command failed", "command", cmd, "error", err)
	}
	return mustJSON(reply)
}

func mustJSON(v CommandReply) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(CommandReply{Error: err.Error()})
	}
	return b
}

// Close stops forwarding, drops the command subscriptions and closes the
// NATS connection.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("relay: already closed")
	}
	r.closed = true
	unsubscribe, subs := r.unsubscribe, r.subs
	r.subs = nil
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.conn != nil {
		r.conn.Close()
	}
	return errors.Join(errs...)
}
