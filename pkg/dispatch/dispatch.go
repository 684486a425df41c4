// Package dispatch routes decoded events: late answers complete pending
// correlated requests, everything else is broadcast to subscribers.
//
// Classification happens synchronously on the caller of Dispatch (the event
// pump). Broadcast delivery happens on a single delivery goroutine owned by
// the Dispatcher, in FIFO order, one subscriber at a time. Because correlation
// never waits on the delivery goroutine, a subscriber may itself issue a
// correlated call without deadlocking the pump.
package dispatch

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/cskr/pubsub"
	"github.com/lightforgemedia/go-wabridge/pkg/correlation"
	"github.com/lightforgemedia/go-wabridge/pkg/event"
	"github.com/lightforgemedia/go-wabridge/pkg/present"
)

const (
	defaultListenerBuffer = 64

	// TopicAll receives every broadcast event on Listen.
	TopicAll = "*"
)

// Subscriber receives one broadcast event per call. A returned error is
// logged and does not affect other subscribers.
type Subscriber func(event.Event) error

type subscription struct {
	id uint64
	fn Subscriber
}

// Dispatcher classifies events and fans broadcast events out.
type Dispatcher struct {
	logger       *slog.Logger
	table        *correlation.Table
	listenBuffer int
	presenter    present.Presenter
	presentCodes bool
	bus          *pubsub.PubSub

	subsMu sync.Mutex
	subs   []subscription
	nextID uint64

	queueMu sync.Mutex
	queue   []event.Event
	closed  bool
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}

	busMu     sync.Mutex
	busClosed bool
	closeOnce sync.Once
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithPresenter enables presentation of link and QR codes through p.
func WithPresenter(p present.Presenter) Option {
	return func(d *Dispatcher) {
		d.presenter = p
		d.presentCodes = p != nil
	}
}

// WithListenerBuffer sets the channel capacity of each Listen channel.
func WithListenerBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.listenBuffer = n
		}
	}
}

// New creates a Dispatcher resolving late answers into table and starts its
// delivery goroutine. Call Close to stop it.
func New(table *correlation.Table, opts ...Option) *Dispatcher {
	if table == nil {
		panic("dispatch: correlation table must not be nil")
	}
	d := &Dispatcher{
		logger:       slog.Default(),
		table:        table,
		listenBuffer: defaultListenerBuffer,
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.bus = pubsub.New(d.listenBuffer)
	go d.deliveryLoop()
	return d
}

// HandleRaw decodes one callback buffer and dispatches it. Decode anomalies
// are logged and the downgraded Generic event is still dispatched.
func (d *Dispatcher) HandleRaw(raw []byte) {
	ev, err := event.Decode(raw)
	if err != nil {
		d.logger.Warn("event decode anomaly, forwarding as generic",
			"error", err, "bytes", len(raw), "raw", preview(raw))
	}
	d.Dispatch(ev)
}

// Dispatch classifies ev. A methodReturn is never broadcast: one matching an
// outstanding request resolves it, any other is logged and discarded. Every
// other event is queued for broadcast.
func (d *Dispatcher) Dispatch(ev event.Event) {
	switch e := ev.(type) {
	case *event.MethodReturn:
		r := correlation.Result{Payload: e.Payload}
		if e.Error != "" {
			r.Err = &correlation.RemoteError{RequestID: e.RequestID, Message: e.Error}
		}
		switch outcome := d.table.Resolve(e.RequestID, r); outcome {
		case correlation.Delivered:
			d.logger.Debug("method return consumed", "request_id", e.RequestID)
		default:
			d.logger.Warn("method return discarded", "request_id", e.RequestID, "outcome", outcome.String())
		}
		return

	case *event.LinkCode:
		if d.presentCodes {
			d.present(func() { d.presenter.LinkCode(e.Code) })
		}

	case *event.QRCode:
		if d.presentCodes {
			d.present(func() { d.presenter.QRCode(e.Code) })
		}
	}
	d.enqueue(ev)
}

func (d *Dispatcher) present(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("presenter panicked", "panic", r)
		}
	}()
	fn()
}

func (d *Dispatcher) enqueue(ev event.Event) {
	d.queueMu.Lock()
	if d.closed {
		d.queueMu.Unlock()
		d.logger.Debug("dispatcher closed, dropping event", "type", event.Type(ev))
		return
	}
	d.queue = append(d.queue, ev)
	d.queueMu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) pop() (event.Event, bool) {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	if len(d.queue) == 0 {
		return nil, false
	}
	ev := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return ev, true
}

func (d *Dispatcher) deliveryLoop() {
	defer close(d.done)
	for {
		select {
		case <-d.wake:
			d.drain()
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		ev, ok := d.pop()
		if !ok {
			return
		}
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev event.Event) {
	d.subsMu.Lock()
	snapshot := make([]subscription, len(d.subs))
	copy(snapshot, d.subs)
	d.subsMu.Unlock()

	for _, s := range snapshot {
		d.invoke(s, ev)
	}
	d.bus.Pub(ev, event.Type(ev), TopicAll)
}

func (d *Dispatcher) invoke(s subscription, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("subscriber panicked", "subscriber", s.id, "type", event.Type(ev), "panic", r)
		}
	}()
	if err := s.fn(ev); err != nil {
		d.logger.Error("subscriber failed", "subscriber", s.id, "type", event.Type(ev), "error", err)
	}
}

// Subscribe appends fn to the subscriber list. Subscribers run in
// registration order. The returned function removes fn again.
func (d *Dispatcher) Subscribe(fn Subscriber) (unsubscribe func()) {
	if fn == nil {
		panic("dispatch: subscriber must not be nil")
	}
	d.subsMu.Lock()
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription{id: id, fn: fn})
	d.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.subsMu.Lock()
			defer d.subsMu.Unlock()
			for i, s := range d.subs {
				if s.id == id {
					d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (d *Dispatcher) Subscribers() int {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	return len(d.subs)
}

// Listen returns a channel receiving broadcast events whose type (see
// event.Type) is one of types, or every event for TopicAll or no types.
// A listener whose channel is full loses the event; it never holds up
// subscribers or Close. cancel stops delivery and closes the channel.
func (d *Dispatcher) Listen(types ...string) (<-chan event.Event, func()) {
	if len(types) == 0 {
		types = []string{TopicAll}
	}

	d.busMu.Lock()
	if d.busClosed {
		d.busMu.Unlock()
		out := make(chan event.Event)
		close(out)
		return out, func() {}
	}
	ch := d.bus.Sub(types...)
	d.busMu.Unlock()

	out := make(chan event.Event, d.listenBuffer)
	stop := make(chan struct{})
	go func() {
		defer close(out)
		dropped := 0
		for v := range ch {
			ev, ok := v.(event.Event)
			if !ok {
				continue
			}
			select {
			case <-stop:
				// keep consuming until the bus closes ch
				continue
			default:
			}
			select {
			case out <- ev:
			default:
				dropped++
				d.logger.Warn("listener full, event dropped", "type", event.Type(ev), "dropped", dropped)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			// Held across Unsub so Close cannot shut the bus down underneath it.
			d.busMu.Lock()
			defer d.busMu.Unlock()
			if !d.busClosed {
				d.bus.Unsub(ch)
			}
		})
	}
	return out, cancel
}

// Close delivers everything already queued, stops the delivery goroutine and
// closes all listener channels. Events dispatched afterwards are dropped.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.queueMu.Lock()
		d.closed = true
		d.queueMu.Unlock()

		close(d.stop)
		<-d.done

		d.busMu.Lock()
		d.busClosed = true
		d.bus.Shutdown()
		d.busMu.Unlock()
	})
}

func preview(raw []byte) string {
	const max = 128
	if len(raw) <= max {
		return fmt.Sprintf("%q", raw)
	}
	return fmt.Sprintf("%q...", raw[:max])
}
