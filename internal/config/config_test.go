package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lightforgemedia/go-wabridge/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wabridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
engine: ws://host:9000/engine
identity: "15550001111"
media_root: /var/lib/wabridge
device:
  machine: linux
request_timeout: 3s
nats:
  url: nats://127.0.0.1:4222
  prefix: bridge
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://host:9000/engine", cfg.Engine)
	assert.Equal(t, "15550001111", cfg.Identity)
	assert.Equal(t, "linux", cfg.Device.Machine)
	assert.Equal(t, "safari", cfg.Device.Browser, "missing fields keep their default")
	assert.True(t, cfg.PrintCodes)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, Default().TeardownTimeout, cfg.TeardownTimeout)

	ro, ok := cfg.RelayOptions()
	require.True(t, ok)
	assert.Equal(t, "nats://127.0.0.1:4222", ro.URL)
	assert.Equal(t, "bridge", ro.Prefix)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeFile(t, "engine: [unclosed"))
	assert.ErrorContains(t, err, "parse config")

	_, err = Load(writeFile(t, `engine: ""`))
	assert.ErrorContains(t, err, "engine URL is required")

	_, err = Load(writeFile(t, "watch_media: true"))
	assert.ErrorContains(t, err, "media_root")

	_, err = Load(writeFile(t, "request_timeout: -1s"))
	assert.ErrorContains(t, err, "negative")
}

func TestClientOptions(t *testing.T) {
	cfg := Default()
	cfg.Identity = "15550001111"
	cfg.MediaRoot = "/srv/media"
	cfg.WatchMedia = true
	cfg.PrintCodes = false

	opts := client.DefaultOptions()
	for _, apply := range cfg.ClientOptions() {
		apply(&opts)
	}
	assert.Equal(t, "15550001111", opts.Identity)
	assert.Equal(t, "/srv/media", opts.MediaRoot)
	assert.False(t, opts.PrintCodes)
	assert.True(t, opts.WatchMedia)
	assert.Equal(t, "mac", opts.Machine)

	_, ok := Default().RelayOptions()
	assert.False(t, ok)
}

func TestWriteRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.NATS.URL = "nats://127.0.0.1:4222"
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Write(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
