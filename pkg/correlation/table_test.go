package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIssuesUniqueIDs(t *testing.T) {
	table := New()
	const n = 1000

	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- table.Register()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, n)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
	assert.Equal(t, n, table.Len())
}

func TestRegisterRegeneratesOnCollision(t *testing.T) {
	calls := 0
	table := New(WithIDGenerator(func() string {
		calls++
		if calls <= 2 {
			return "same"
		}
		return fmt.Sprintf("id-%d", calls)
	}))
	first := table.Register()
	second := table.Register()
	assert.Equal(t, "same", first)
	assert.NotEqual(t, first, second)
}

func TestResolveThenAwaitReturnsPayload(t *testing.T) {
	table := New()
	id := table.Register()

	outcome := table.Resolve(id, Result{Payload: json.RawMessage(`{"subject":"Team"}`)})
	assert.Equal(t, Delivered, outcome)

	r, err := table.Await(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"subject":"Team"}`, string(r.Payload))
	assert.False(t, table.Pending(id), "consumed entries are removed")
}

func TestAwaitWakesOnLateResolve(t *testing.T) {
	table := New()
	id := table.Register()

	go func() {
		time.Sleep(50 * time.Millisecond)
		table.Resolve(id, Result{Payload: json.RawMessage(`"late"`)})
	}()

	start := time.Now()
	r, err := table.Await(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, `"late"`, string(r.Payload))
	assert.Less(t, time.Since(start), time.Second)
}

func TestResolveIsIdempotent(t *testing.T) {
	table := New()
	id := table.Register()

	assert.Equal(t, Delivered, table.Resolve(id, Result{Payload: json.RawMessage(`1`)}))
	assert.Equal(t, Duplicate, table.Resolve(id, Result{Payload: json.RawMessage(`2`)}))

	r, err := table.Await(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1", string(r.Payload), "the first resolution wins")

	assert.Equal(t, Unknown, table.Resolve(id, Result{Payload: json.RawMessage(`3`)}))
	assert.Equal(t, Unknown, table.Resolve("never-registered", Result{}))
}

func TestAwaitUnknownOrConsumedFailsFast(t *testing.T) {
	table := New()

	start := time.Now()
	_, err := table.Await(context.Background(), "missing", time.Minute)
	assert.ErrorIs(t, err, ErrUnknownRequest)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	id := table.Register()
	table.Resolve(id, Result{})
	_, err = table.Await(context.Background(), id, time.Second)
	require.NoError(t, err)

	_, err = table.Await(context.Background(), id, time.Minute)
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestAwaitTimeoutRemovesEntry(t *testing.T) {
	table := New()
	id := table.Register()

	start := time.Now()
	_, err := table.Await(context.Background(), id, 100*time.Millisecond)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.False(t, table.Pending(id))
	assert.Equal(t, 0, table.Len())

	assert.Equal(t, Unknown, table.Resolve(id, Result{}), "late answers after a timeout are stale")
}

func TestAwaitHonoursContext(t *testing.T) {
	table := New()
	id := table.Register()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := table.Await(ctx, id, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, table.Pending(id))
}

func TestSecondAwaitIsRejected(t *testing.T) {
	table := New()
	id := table.Register()

	firstDone := make(chan error, 1)
	go func() {
		_, err := table.Await(context.Background(), id, time.Second)
		firstDone <- err
	}()

	require.Eventually(t, func() bool {
		table.mu.Lock()
		defer table.mu.Unlock()
		p, ok := table.pending[id]
		return ok && p.awaited
	}, time.Second, time.Millisecond)

	_, err := table.Await(context.Background(), id, time.Millisecond)
	assert.ErrorIs(t, err, ErrAlreadyAwaited)
	assert.True(t, table.Pending(id), "a rejected waiter does not remove the entry")

	table.Resolve(id, Result{})
	assert.NoError(t, <-firstDone)
}

func TestFailAllWakesEveryWaiter(t *testing.T) {
	table := New()
	disconnected := errors.New("disconnected")

	const n = 10
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		id := table.Register()
		go func() {
			_, err := table.Await(context.Background(), id, time.Minute)
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return table.Len() == n }, time.Second, time.Millisecond)
	assert.Equal(t, n, table.FailAll(disconnected))

	for i := 0; i < n; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, disconnected)
		case <-time.After(time.Second):
			t.Fatal("waiter did not return after FailAll")
		}
	}
	assert.Equal(t, 0, table.Len())
}

func TestCloseFailsLaterRegistrations(t *testing.T) {
	table := New()
	gone := errors.New("gone")
	table.Close(gone)

	id := table.Register()
	_, err := table.Await(context.Background(), id, time.Minute)
	assert.ErrorIs(t, err, gone)

	table2 := New()
	table2.Close(nil)
	_, err = table2.Await(context.Background(), table2.Register(), time.Minute)
	assert.ErrorIs(t, err, ErrTableClosed)
}

func TestForgetAndAge(t *testing.T) {
	table := New()
	id := table.Register()

	age, ok := table.Age(id)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, age, time.Duration(0))

	table.Forget(id)
	assert.False(t, table.Pending(id))
	_, ok = table.Age(id)
	assert.False(t, ok)
	assert.Equal(t, "unknown", Unknown.String())
	assert.Equal(t, "delivered", Delivered.String())
	assert.Equal(t, "duplicate", Duplicate.String())
}
