package pinws

import (
	"io"
	"os"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
)

// PinGenerator mints correlation pins. Pins must be unique among the
// requests awaiting a reply. It is called from every goroutine sending, so it
// must be safe for concurrent use.
type PinGenerator func() string

// UUIDPins mints random UUIDv4 pins.
func UUIDPins() string {
	return uuid.NewString()
}

type options struct {
	config                  Config
	logger                  Logger
	dialer                  *websocket.Dialer
	paramsGetter            OpenConnectionParamsGetter
	connectionFactory       ConnectionFactory
	errorAdapters           ErrorAdapters
	pins                    PinGenerator
	errorHandler            ErrorHandler
	keepAliveMessageFactory KeepAliveMessageFactory
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger. It defaults to INFO level on stderr.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogWriter logs entries at or above level to w.
func WithLogWriter(w io.Writer, level LogLevel) Option {
	return func(o *options) {
		o.logger = NewWriterLogger(w, level)
	}
}

// WithDialer replaces the websocket dialer. HandshakeTimeout is ignored when
// a dialer is given.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(o *options) {
		o.dialer = dialer
	}
}

// WithHeader adds a header sent on every dial.
func WithHeader(key, value string) Option {
	return func(o *options) {
		if o.config.Headers == nil {
			o.config.Headers = make(map[string]string)
		}
		o.config.Headers[key] = value
	}
}

// WithOpenConnectionParams resolves the dial URL and headers on every connect
// attempt instead of using the endpoint and headers of the config.
func WithOpenConnectionParams(getter OpenConnectionParamsGetter) Option {
	return func(o *options) {
		o.paramsGetter = getter
	}
}

// WithErrorAdapters customizes how dial errors are classified.
func WithErrorAdapters(adapters ErrorAdapters) Option {
	return func(o *options) {
		o.errorAdapters = adapters
	}
}

// WithConnectionFactory replaces the websocket transport altogether.
func WithConnectionFactory(factory ConnectionFactory) Option {
	return func(o *options) {
		o.connectionFactory = factory
	}
}

// WithPinGenerator replaces the pin generator.
func WithPinGenerator(pins PinGenerator) Option {
	return func(o *options) {
		if pins != nil {
			o.pins = pins
		}
	}
}

// WithErrorHandler installs the error handler from construction, so errors of
// the very first connect attempt reach it.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(o *options) {
		o.errorHandler = handler
	}
}

// WithReplyTimeout bounds how long Send waits for a reply.
func WithReplyTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.config.ReplyTimeout = timeout
	}
}

// WithReconnectDelay sets the pause after a failed dial.
func WithReconnectDelay(delay time.Duration) Option {
	return func(o *options) {
		o.config.ReconnectDelay = delay
	}
}

// WithSendRate caps outbound events to perSecond, allowing bursts of burst.
// Send, Ping and Sync wait for their turn, bounded by their context.
func WithSendRate(perSecond float64, burst int) Option {
	return func(o *options) {
		o.config.SendRate = perSecond
		o.config.SendBurst = burst
	}
}

// WithKeepAlive sends factory's message every interval while connected. A nil
// factory sends websocket pings.
func WithKeepAlive(interval time.Duration, factory KeepAliveMessageFactory) Option {
	return func(o *options) {
		o.config.KeepAliveInterval = interval
		if factory != nil {
			o.keepAliveMessageFactory = factory
		}
	}
}

func defaultOptions(cfg Config) options {
	return options{
		config:                  cfg,
		logger:                  NewWriterLogger(os.Stderr, LevelInfo),
		pins:                    UUIDPins,
		keepAliveMessageFactory: PingKeepAlive,
	}
}
