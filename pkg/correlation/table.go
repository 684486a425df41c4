// Package correlation matches results delivered asynchronously through the
// native event callback to the call that asked for them.
package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRequestTimeout is returned by Await when no result arrived in time.
	// The caller may retry with a fresh id.
	ErrRequestTimeout = errors.New("correlation: request timed out")
	// ErrUnknownRequest is returned by Await for ids that were never
	// registered or whose result was already consumed.
	ErrUnknownRequest = errors.New("correlation: unknown or already consumed request id")
	// ErrAlreadyAwaited is returned when a second caller waits on the same id.
	ErrAlreadyAwaited = errors.New("correlation: request id already awaited")
	// ErrTableClosed is delivered to requests registered after Close.
	ErrTableClosed = errors.New("correlation: table closed")
)

// Result is what a pending request resolves to.
type Result struct {
	Payload json.RawMessage
	Err     error
}

type pending struct {
	created  time.Time
	done     chan Result // buffered, receives at most one value
	resolved bool
	awaited  bool
}

// Table is an owned, lock-guarded map from request id to pending result. The
// lock only ever covers map bookkeeping.
type Table struct {
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu       sync.Mutex
	pending  map[string]*pending
	closed   bool
	closeErr error
}

// Option configures a Table.
type Option func(*Table)

// WithLogger sets the logger used for stale and duplicate resolutions.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Table) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithIDGenerator replaces the UUIDv4 id source. Ids must be unique for the
// lifetime of the table.
func WithIDGenerator(fn func() string) Option {
	return func(t *Table) {
		if fn != nil {
			t.newID = fn
		}
	}
}

// New creates an empty table.
func New(opts ...Option) *Table {
	t := &Table{
		logger:  slog.Default(),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
		pending: make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register allocates a fresh id and inserts an empty pending entry for it.
// After Close the entry is born resolved with the close error.
func (t *Table) Register() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.newID()
	for _, taken := t.pending[id]; taken; _, taken = t.pending[id] {
		t.logger.Warn("correlation id collision, regenerating", "request_id", id)
		id = t.newID()
	}

	p := &pending{created: t.now(), done: make(chan Result, 1)}
	if t.closed {
		p.resolved = true
		p.done <- Result{Err: t.closeErr}
	}
	t.pending[id] = p
	return id
}

// Outcome is what Resolve did with a result.
type Outcome int

const (
	// Unknown means id has no entry: never registered, consumed or timed out.
	Unknown Outcome = iota
	// Delivered means the result was stored and the waiter woken.
	Delivered
	// Duplicate means id was already resolved; the result was dropped.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Resolve delivers r to the pending entry for id. Only the first resolution
// is kept; later ones are logged and dropped.
func (t *Table) Resolve(id string, r Result) Outcome {
	t.mu.Lock()
	p, ok := t.pending[id]
	if !ok {
		t.mu.Unlock()
		return Unknown
	}
	if p.resolved {
		t.mu.Unlock()
		t.logger.Warn("dropping duplicate resolution", "request_id", id)
		return Duplicate
	}
	p.resolved = true
	p.done <- r
	t.mu.Unlock()
	return Delivered
}

// Forget removes id without resolving it. It is used when the query that
// would have answered id could not be issued.
func (t *Table) Forget(id string) {
	t.remove(id)
}

// Await blocks until id is resolved, timeout elapses or ctx is done. The entry
// is removed on every path. A non-positive timeout waits on ctx alone.
func (t *Table) Await(ctx context.Context, id string, timeout time.Duration) (Result, error) {
	t.mu.Lock()
	p, ok := t.pending[id]
	if !ok {
		t.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	if p.awaited {
		t.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s", ErrAlreadyAwaited, id)
	}
	p.awaited = true
	t.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case r := <-p.done:
		t.remove(id)
		return r, r.Err
	case <-expired:
		if r, won := t.abandon(id, p); won {
			return r, r.Err
		}
		return Result{}, fmt.Errorf("%w after %v: %s", ErrRequestTimeout, timeout, id)
	case <-ctx.Done():
		if r, won := t.abandon(id, p); won {
			return r, r.Err
		}
		return Result{}, fmt.Errorf("correlation: waiting for %s: %w", id, ctx.Err())
	}
}

// abandon removes the entry after a timeout or cancellation. If a resolution
// slipped in before the lock was taken, that resolution wins.
func (t *Table) abandon(id string, p *pending) (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
	select {
	case r := <-p.done:
		return r, true
	default:
		return Result{}, false
	}
}

func (t *Table) remove(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// FailAll resolves every outstanding entry with err and returns how many it
// woke up.
func (t *Table) FailAll(err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, p := range t.pending {
		if p.resolved {
			continue
		}
		p.resolved = true
		p.done <- Result{Err: err}
		n++
	}
	return n
}

// Close fails every outstanding entry with err and makes later registrations
// fail the same way.
func (t *Table) Close(err error) int {
	if err == nil {
		err = ErrTableClosed
	}
	t.mu.Lock()
	t.closed = true
	t.closeErr = err
	t.mu.Unlock()
	return t.FailAll(err)
}

// Pending reports whether id has an entry that was not consumed yet.
func (t *Table) Pending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

// Len returns the number of entries not consumed yet.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Age returns how long id has been pending.
func (t *Table) Age(id string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok {
		return 0, false
	}
	return t.now().Sub(p.created), true
}

// RemoteError is the failure reported by the engine inside a late answer.
type RemoteError struct {
	RequestID string
	Message   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("correlation: request %s failed remotely: %s", e.RequestID, e.Message)
}
