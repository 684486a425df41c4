package wsengine

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultCallTimeout   = 10 * time.Second
	defaultWriteTimeout  = 5 * time.Second
	defaultStepInterval  = 50 * time.Millisecond
	defaultTeardownGrace = 5 * time.Second
	defaultReadLimit     = 4 << 20
)

type config struct {
	logger        *slog.Logger
	dialOptions   *websocket.DialOptions
	acceptOptions *websocket.AcceptOptions
	callTimeout   time.Duration
	writeTimeout  time.Duration
	stepInterval  time.Duration
	teardownGrace time.Duration
	readLimit     int64
}

func defaultConfig() config {
	return config{
		logger:        slog.Default(),
		dialOptions:   &websocket.DialOptions{HTTPClient: http.DefaultClient},
		acceptOptions: &websocket.AcceptOptions{},
		callTimeout:   defaultCallTimeout,
		writeTimeout:  defaultWriteTimeout,
		stepInterval:  defaultStepInterval,
		teardownGrace: defaultTeardownGrace,
		readLimit:     defaultReadLimit,
	}
}

// Option configures an Engine or a Handler.
type Option func(*config)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialOptions sets custom websocket.DialOptions for Dial.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *config) {
		if opts != nil {
			c.dialOptions = opts
		}
	}
}

// WithAcceptOptions sets custom websocket.AcceptOptions for the Handler.
func WithAcceptOptions(opts *websocket.AcceptOptions) Option {
	return func(c *config) {
		if opts != nil {
			c.acceptOptions = opts
		}
	}
}

// WithCallTimeout bounds how long an entry point waits for the host.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *config) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *config) {
		if timeout > 0 {
			c.writeTimeout = timeout
		}
	}
}

// WithStepInterval sets how long PumpStep waits for callbacks.
func WithStepInterval(interval time.Duration) Option {
	return func(c *config) {
		if interval > 0 {
			c.stepInterval = interval
		}
	}
}

// WithTeardownGrace sets how long the Handler keeps pumping handles of a
// closed connection while they acknowledge teardown.
func WithTeardownGrace(grace time.Duration) Option {
	return func(c *config) {
		if grace > 0 {
			c.teardownGrace = grace
		}
	}
}

// WithReadLimit sets the maximum frame size.
func WithReadLimit(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.readLimit = n
		}
	}
}
