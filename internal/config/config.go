// Package config loads the YAML configuration of the wabridge command.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lightforgemedia/go-wabridge/pkg/client"
	"github.com/lightforgemedia/go-wabridge/pkg/relay"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration.
type Config struct {
	// Engine is the WebSocket URL of the engine host.
	Engine string `yaml:"engine"`

	// Identity is the phone number to pair with. Empty pairs by QR code.
	Identity string `yaml:"identity,omitempty"`

	// MediaRoot is where received media is stored.
	MediaRoot string `yaml:"media_root,omitempty"`

	Device Device `yaml:"device"`

	// PrintCodes renders pairing codes on the terminal.
	PrintCodes bool `yaml:"print_codes"`

	// WatchMedia reports files saved under MediaRoot as mediaSaved events.
	WatchMedia bool `yaml:"watch_media,omitempty"`

	RequestTimeout  time.Duration `yaml:"request_timeout"`
	TeardownTimeout time.Duration `yaml:"teardown_timeout"`

	NATS NATS `yaml:"nats,omitempty"`
}

// Device holds the labels shown in the linked-devices list.
type Device struct {
	Machine string `yaml:"machine"`
	Browser string `yaml:"browser"`
}

// NATS configures the optional relay. The relay is off when URL is empty.
type NATS struct {
	URL    string `yaml:"url,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
	Queue  string `yaml:"queue,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	d := client.DefaultOptions()
	return Config{
		Engine:          "ws://127.0.0.1:8765/engine",
		Device:          Device{Machine: d.Machine, Browser: d.Browser},
		PrintCodes:      d.PrintCodes,
		RequestTimeout:  d.RequestTimeout,
		TeardownTimeout: d.TeardownTimeout,
	}
}

// Load reads path over the defaults. Fields missing from the file keep
// their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Engine == "" {
		return errors.New("engine URL is required")
	}
	if c.RequestTimeout < 0 || c.TeardownTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.WatchMedia && c.MediaRoot == "" {
		return errors.New("watch_media requires media_root")
	}
	return nil
}

// ClientOptions translates the configuration into client options.
func (c Config) ClientOptions() []client.Option {
	opts := []client.Option{
		client.WithIdentity(c.Identity),
		client.WithMediaRoot(c.MediaRoot),
		client.WithDeviceLabels(c.Device.Machine, c.Device.Browser),
		client.WithPrintCodes(c.PrintCodes),
		client.WithRequestTimeout(c.RequestTimeout),
		client.WithTeardownTimeout(c.TeardownTimeout),
	}
	if c.WatchMedia {
		opts = append(opts, client.WithMediaWatch(0))
	}
	return opts
}

// RelayOptions returns the relay options, and false when no relay is
// configured.
func (c Config) RelayOptions() (relay.Options, bool) {
	if c.NATS.URL == "" {
		return relay.Options{}, false
	}
	return relay.Options{
		URL:       c.NATS.URL,
		Prefix:    c.NATS.Prefix,
		QueueName: c.NATS.Queue,
	}, true
}

// Write stores c as YAML at path.
func Write(path string, c Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
