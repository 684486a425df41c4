package wabridge

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lightforgemedia/go-wabridge/pkg/client"
	"github.com/lightforgemedia/go-wabridge/pkg/native"
	"github.com/lightforgemedia/go-wabridge/pkg/native/nativetest"
	"github.com/lightforgemedia/go-wabridge/pkg/native/wsengine"
	"github.com/lightforgemedia/go-wabridge/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	c, err := New(nativetest.New(), client.WithPrintCodes(false), client.WithLogger(testutil.Logger()))
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	require.NoError(t, c.Disconnect())
	assert.ErrorIs(t, c.Disconnect(), ErrDisconnected)
}

func TestTargets(t *testing.T) {
	assert.Equal(t, Target{ID: "1555"}, Phone("1555"))
	assert.Equal(t, Target{ID: "1@g.us", Group: true}, GroupJID("1@g.us"))
	assert.True(t, DefaultOptions().PrintCodes)
	assert.Equal(t, "linkCode", EventLinkCode)
}

func TestConnect(t *testing.T) {
	host := nativetest.New()
	srv := httptest.NewServer(wsengine.NewHandler(host, wsengine.WithLogger(testutil.Logger())))
	defer srv.Close()

	c, engine, err := Connect(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"),
		[]wsengine.Option{wsengine.WithStepInterval(10 * time.Millisecond)},
		client.WithPrintCodes(false), client.WithLogger(testutil.Logger()))
	require.NoError(t, err)
	defer engine.Close()

	assert.Len(t, host.CallsNamed(native.CallConnect), 1, "Connect starts connecting")
	require.NoError(t, c.Disconnect())
}

func TestConnectFailure(t *testing.T) {
	_, _, err := Connect(context.Background(), "ws://127.0.0.1:1/engine", nil)
	assert.Error(t, err)

	host := nativetest.New()
	host.SetStatus(native.CallConnect, 5)
	srv := httptest.NewServer(wsengine.NewHandler(host, wsengine.WithLogger(testutil.Logger())))
	defer srv.Close()
	_, _, err = Connect(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil,
		client.WithPrintCodes(false), client.WithLogger(testutil.Logger()))
	var failed *RequestFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, native.Status(5), failed.Status)
	require.NoError(t, testutil.WaitFor(t, "host handle released", 2*time.Second, func() bool {
		return host.Live() == 0
	}))
}
