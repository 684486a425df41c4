package wsengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lightforgemedia/go-wabridge/pkg/client"
	"github.com/lightforgemedia/go-wabridge/pkg/event"
	"github.com/lightforgemedia/go-wabridge/pkg/native"
	"github.com/lightforgemedia/go-wabridge/pkg/native/nativetest"
	"github.com/lightforgemedia/go-wabridge/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHost(t *testing.T) (*nativetest.Engine, string) {
	t.Helper()
	host := nativetest.New()
	srv := httptest.NewServer(NewHandler(host,
		WithLogger(testutil.Logger()),
		WithTeardownGrace(time.Second)))
	t.Cleanup(srv.Close)
	return host, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *Engine {
	t.Helper()
	e, err := Dial(context.Background(), url,
		WithLogger(testutil.Logger()),
		WithStepInterval(10*time.Millisecond),
		WithCallTimeout(2*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

type sink struct {
	mu          sync.Mutex
	events      []string
	disconnects int
}

func (s *sink) OnEvent(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, string(p))
}

func (s *sink) OnDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
}

func (s *sink) snapshot() ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...), s.disconnects
}

func TestCallsReachHostEngine(t *testing.T) {
	host, url := startHost(t)
	remote := dial(t, url)

	h, err := remote.Create(native.Config{Identity: "15550001111", Machine: "linux"}, &sink{})
	require.NoError(t, err)

	cfg, ok := host.Config(h)
	require.True(t, ok)
	assert.Equal(t, "15550001111", cfg.Identity)
	assert.Equal(t, "linux", cfg.Machine)

	assert.Equal(t, native.Status(0), remote.SendMessage(h, "1555", []byte{0x0a, 0x02, 'h', 'i'}, false))
	assert.Equal(t, native.Status(1), remote.SendImage(h, "1555", "/a.jpg", "cap", true))

	host.SetStatus(native.CallSetGroupLocked, 4)
	assert.Equal(t, native.Status(4), remote.SetGroupLocked(h, "g", true))

	sends := host.CallsNamed(native.CallSendMessage)
	require.Len(t, sends, 1)
	assert.Equal(t, []any{"1555", []byte{0x0a, 0x02, 'h', 'i'}, false}, sends[0].Args)

	images := host.CallsNamed(native.CallSendImage)
	require.Len(t, images, 1)
	assert.Equal(t, []any{"1555", "/a.jpg", "cap", true}, images[0].Args)

	assert.Equal(t, native.StatusInvalidHandle, remote.Connect(h+100), "foreign handles are rejected")
}

func TestCallbacksRunInsidePumpStep(t *testing.T) {
	host, url := startHost(t)
	remote := dial(t, url)

	var cb sink
	h, err := remote.Create(native.Config{}, &cb)
	require.NoError(t, err)

	require.NoError(t, host.EmitEvent(h, "first", nil))
	require.NoError(t, host.EmitEvent(h, "second", nil))

	require.NoError(t, testutil.WaitFor(t, "events pumped", 2*time.Second, func() bool {
		remote.PumpStep(h)
		events, _ := cb.snapshot()
		return len(events) == 2
	}))
	events, _ := cb.snapshot()
	assert.Contains(t, events[0], `"first"`)
	assert.Contains(t, events[1], `"second"`)
}

func TestDisconnectTearsDownRemoteHandle(t *testing.T) {
	host, url := startHost(t)
	remote := dial(t, url)

	var cb sink
	h, err := remote.Create(native.Config{}, &cb)
	require.NoError(t, err)
	require.Equal(t, native.Status(0), remote.Disconnect(h))

	require.NoError(t, testutil.WaitFor(t, "handle invalid", 2*time.Second, func() bool {
		return remote.PumpStep(h) == native.StatusInvalidHandle
	}))
	_, disconnects := cb.snapshot()
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, 0, host.Live())
}

func TestClosingConnectionReleasesHostHandles(t *testing.T) {
	host, url := startHost(t)
	remote := dial(t, url)

	var cb sink
	h, err := remote.Create(native.Config{}, &cb)
	require.NoError(t, err)
	require.Equal(t, 1, host.Live())

	require.NoError(t, remote.Close())
	assert.ErrorIs(t, remote.Close(), ErrClosed)

	require.NoError(t, testutil.WaitFor(t, "host handle released", 2*time.Second, func() bool {
		return host.Live() == 0
	}))
	assert.Equal(t, native.StatusInvalidHandle, remote.PumpStep(h))
	assert.Equal(t, native.StatusInvalidHandle, remote.SendMessage(h, "1", []byte("x"), false))
	_, disconnects := cb.snapshot()
	assert.Equal(t, 1, disconnects, "a lost connection is reported once")
}

func TestGraceExpiryReleasesHandle(t *testing.T) {
	host := nativetest.New()
	handler := NewHandler(host, WithLogger(testutil.Logger()), WithTeardownGrace(50*time.Millisecond))

	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	defer srv.Close()

	peer, _, err := websocket.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer peer.CloseNow()
	conn := <-accepted
	defer conn.CloseNow()

	h, err := host.Create(native.Config{}, &sink{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &session{
		h:       handler,
		conn:    conn,
		logger:  testutil.Logger(),
		ctx:     ctx,
		cancel:  cancel,
		handles: map[native.Handle]struct{}{h: {}},
	}
	s.pumps.Add(1)
	s.pump(h)

	s.handlesMu.Lock()
	_, owned := s.handles[h]
	s.handlesMu.Unlock()
	assert.False(t, owned, "the handle is forgotten once the grace period ends")
	assert.Equal(t, 1, host.Live(), "the host never acknowledged the teardown")

	readCtx, readCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer readCancel()
	var env Envelope
	require.NoError(t, wsjson.Read(readCtx, peer, &env))
	assert.Equal(t, TypeClosed, env.Type)
	var p eventPayload
	require.NoError(t, env.DecodePayload(&p))
	assert.Equal(t, h, p.Handle)
}

func TestUnknownCallIsRejected(t *testing.T) {
	_, url := startHost(t)
	remote := dial(t, url)

	_, err := remote.call(native.Call("reboot"), callArgs{})
	assert.ErrorIs(t, err, native.ErrUnknownCall)
}

func TestCreateFailureIsReported(t *testing.T) {
	host, url := startHost(t)
	host.FailCreate(assert.AnError)
	remote := dial(t, url)

	_, err := remote.Create(native.Config{}, &sink{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), assert.AnError.Error())
}

func TestClientOverRemoteEngine(t *testing.T) {
	host, url := startHost(t)
	host.Respond(native.CallGetGroupInfo, func(q nativetest.Query) (any, string, bool) {
		return map[string]any{"subject": "Team", "jid": q.Group}, "", true
	})
	remote := dial(t, url)

	c, err := client.New(remote, client.WithLogger(testutil.Logger()), client.WithPrintCodes(false))
	require.NoError(t, err)

	codes, cancel := c.Listen("linkCode")
	defer cancel()

	require.NoError(t, c.Connect())
	ok, err := c.SendText(client.Phone("15550001111"), "hello")
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := c.GetGroupInfo(context.Background(), "123@g.us")
	require.NoError(t, err)
	assert.Equal(t, "Team", info["subject"])

	creates := host.CallsNamed(native.CallCreate)
	require.Len(t, creates, 1)
	require.NoError(t, host.EmitEvent(creates[0].Handle, "linkCode", map[string]any{"code": "ABC-123"}))
	ev := testutil.Receive(t, codes, 2*time.Second)
	lc, isLink := ev.(*event.LinkCode)
	require.True(t, isLink)
	assert.Equal(t, "ABC-123", lc.Code)

	require.NoError(t, c.Disconnect())
	assert.Equal(t, 0, host.Live())
}
