package client

import (
	"errors"
	"log/slog"
	"time"

	"github.com/lightforgemedia/go-wabridge/pkg/dispatch"
	"github.com/lightforgemedia/go-wabridge/pkg/present"
)

const (
	defaultRequestTimeout  = 10 * time.Second
	defaultTeardownTimeout = 5 * time.Second
	defaultListenerBuffer  = 64
	defaultMachine         = "mac"
	defaultBrowser         = "safari"
)

// Options contains configuration values for NewWithOptions.
type Options struct {
	Logger *slog.Logger

	// Identity is the phone number of an already paired account. Empty pairs
	// a new device.
	Identity string
	// MediaRoot is the engine's storage root. The media subdirectories are
	// created below it.
	MediaRoot string
	// Machine and Browser label the linked device on the phone.
	Machine string
	Browser string

	// PrintCodes presents link and QR codes through Presenter.
	PrintCodes bool
	// Presenter defaults to a terminal presenter on stdout.
	Presenter present.Presenter

	// OnEvent, when set, is the first subscriber.
	OnEvent dispatch.Subscriber
	// OnDisconnect runs on the event pump for every disconnect the engine
	// reports. It must not call Disconnect.
	OnDisconnect func()

	RequestTimeout  time.Duration
	TeardownTimeout time.Duration
	ListenerBuffer  int

	// WatchMedia reports files saved below MediaRoot as mediaSaved events.
	WatchMedia bool
	// MediaSettle is how long a saved file must stay unchanged before it is
	// reported.
	MediaSettle time.Duration
}

// DefaultOptions returns an Options struct populated with library defaults.
func DefaultOptions() Options {
	return Options{
		Logger:          slog.Default(),
		Machine:         defaultMachine,
		Browser:         defaultBrowser,
		PrintCodes:      true,
		RequestTimeout:  defaultRequestTimeout,
		TeardownTimeout: defaultTeardownTimeout,
		ListenerBuffer:  defaultListenerBuffer,
	}
}

// Option configures the Client.
type Option func(*Options)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithIdentity sets the account phone number.
func WithIdentity(phone string) Option {
	return func(o *Options) { o.Identity = phone }
}

// WithMediaRoot sets the storage root.
func WithMediaRoot(root string) Option {
	return func(o *Options) { o.MediaRoot = root }
}

// WithDeviceLabels sets the machine and browser labels shown on the phone.
func WithDeviceLabels(machine, browser string) Option {
	return func(o *Options) {
		if machine != "" {
			o.Machine = machine
		}
		if browser != "" {
			o.Browser = browser
		}
	}
}

// WithPrintCodes toggles presentation of link and QR codes.
func WithPrintCodes(enabled bool) Option {
	return func(o *Options) { o.PrintCodes = enabled }
}

// WithPresenter replaces the terminal presenter.
func WithPresenter(p present.Presenter) Option {
	return func(o *Options) { o.Presenter = p }
}

// WithEventHandler registers fn as the first subscriber.
func WithEventHandler(fn dispatch.Subscriber) Option {
	return func(o *Options) { o.OnEvent = fn }
}

// WithDisconnectHandler sets the callback run for every engine disconnect.
func WithDisconnectHandler(fn func()) Option {
	return func(o *Options) { o.OnDisconnect = fn }
}

// WithRequestTimeout sets how long queries wait for their answer.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		if timeout > 0 {
			o.RequestTimeout = timeout
		}
	}
}

// WithTeardownTimeout bounds how long Disconnect waits for the engine to
// acknowledge teardown.
func WithTeardownTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		if timeout > 0 {
			o.TeardownTimeout = timeout
		}
	}
}

// WithListenerBuffer sets the channel capacity used by Listen.
func WithListenerBuffer(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.ListenerBuffer = n
		}
	}
}

// WithMediaWatch reports saved media as events. settle may be zero.
func WithMediaWatch(settle time.Duration) Option {
	return func(o *Options) {
		o.WatchMedia = true
		o.MediaSettle = settle
	}
}

func validateOptions(opts *Options) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Machine == "" {
		opts.Machine = defaultMachine
	}
	if opts.Browser == "" {
		opts.Browser = defaultBrowser
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = defaultTeardownTimeout
	}
	if opts.ListenerBuffer <= 0 {
		opts.ListenerBuffer = defaultListenerBuffer
	}
	if opts.WatchMedia && opts.MediaRoot == "" {
		return errors.New("client: media watching requires a media root")
	}
	for field, v := range map[string]string{
		"identity":   opts.Identity,
		"media root": opts.MediaRoot,
		"machine":    opts.Machine,
		"browser":    opts.Browser,
	} {
		if err := checkText(field, v, true); err != nil {
			return err
		}
	}
	return nil
}
