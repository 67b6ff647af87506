package pinws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Client sends events to the server and awaits the model frames answering
// them, over a websocket which is reopened whenever it drops.
//
// Every event carries a fresh pin as its context; the server answers with a
// model frame carrying the same pin. Model frames are also broadcast to every
// subscriber, whether or not a Send is waiting on their pin.
//
// A Client is safe for concurrent use. Subscribers, the error handler and
// lifecycle listeners all run on one callback goroutine, one at a time and in
// the order their frames arrived. They may call Send or Close; a callback that
// blocks only delays the callbacks queued after it.
type Client struct {
	logger       Logger
	manager      *connectionManager
	registry     *Registry
	reporter     *errorReporter
	events       *EventEmitterCallback[EventType, EventType]
	callbacks    *callbackQueue
	pins         PinGenerator
	replyTimeout time.Duration
	limiter      *rate.Limiter
}

// New creates a client for endpoint and starts connecting right away.
func New(endpoint string, opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Endpoint = endpoint

	return NewFromConfig(cfg, opts...)
}

// NewFromConfig creates a client from cfg and starts connecting right away.
func NewFromConfig(cfg Config, opts ...Option) (*Client, error) {
	cfg.Headers = cloneHeaders(cfg.Headers)

	o := defaultOptions(cfg)
	for _, opt := range opts {
		opt(&o)
	}
	o.config.applyDefaults()

	if err := o.config.Validate(); err != nil {
		return nil, err
	}

	u, err := o.config.URL()
	if err != nil {
		return nil, err
	}

	logger := o.logger.WithField("endpoint", u.String())

	c := &Client{
		logger:       logger,
		reporter:     newErrorReporter(logger),
		events:       NewEventEmitter[EventType, EventType](),
		callbacks:    newCallbackQueue(),
		pins:         o.pins,
		replyTimeout: o.config.ReplyTimeout,
	}
	if o.config.SendRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(o.config.SendRate), o.config.SendBurst)
	}
	c.reporter.Set(c.deferredHandler(o.errorHandler))
	c.registry = NewRegistry(c.reporter.Report)

	factory := o.connectionFactory
	if factory == nil {
		factory = c.websocketFactory(o, u)
	}

	c.manager = newConnectionManager(logger, managerConfig{
		url:                     u,
		factory:                 factory,
		dispatcher:              c.registry,
		reportErr:               c.reporter.Report,
		emitter:                 c.events,
		reconnectDelay:          o.config.ReconnectDelay,
		keepAliveInterval:       o.config.KeepAliveInterval,
		keepAliveMessageFactory: o.keepAliveMessageFactory,
	})
	c.manager.start()

	return c, nil
}

func (c *Client) websocketFactory(o options, u url.URL) ConnectionFactory {
	dialer := o.dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.config.HandshakeTimeout,
		}
	}

	getter := o.paramsGetter
	if getter == nil {
		getter = StaticOpenConnectionParams(u, o.config.Header())
	}

	return NewWebsocketFactory(
		c.logger,
		dialer,
		NewOpenConnectionParamsRepo(c.logger, getter),
		o.errorAdapters,
		o.config.WriteTimeout,
	)
}

// Send sends event and waits for the model frame answering it, returning that
// frame's body. It reconnects transparently if needed. Unless a reply timeout
// is configured, only ctx bounds the wait.
func (c *Client) Send(ctx context.Context, event any) (json.RawMessage, error) {
	pin := c.pins()

	msg, err := eventMessage(pin, event)
	if err != nil {
		return nil, err
	}

	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	// The wait is registered before writing so a fast reply cannot be missed.
	reply, cancel, err := c.registry.Wait(pin)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := c.manager.Send(ctx, msg); err != nil {
		return nil, err
	}

	var timeout <-chan time.Time
	if c.replyTimeout > 0 {
		timer := time.NewTimer(c.replyTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case body, ok := <-reply:
		if !ok {
			return nil, ErrClientClosed
		}
		return body, nil
	case <-timeout:
		return nil, errors.Wrapf(ErrReplyTimeout, "pin %s after %s", pin, c.replyTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping sends event without waiting for any reply. It returns once the event
// has been handed to an open transport.
func (c *Client) Ping(ctx context.Context, event any) error {
	msg, err := eventMessage(c.pins(), event)
	if err != nil {
		return err
	}

	if err := c.throttle(ctx); err != nil {
		return err
	}

	return c.manager.Send(ctx, msg)
}

// Sync asks the server to send its latest model again.
func (c *Client) Sync(ctx context.Context) error {
	msg, err := NewFrameMessage(Frame{Prefix: PrefixSync})
	if err != nil {
		return err
	}

	if err := c.throttle(ctx); err != nil {
		return err
	}

	return c.manager.Send(ctx, msg)
}

// Subscribe registers l for every model frame. l runs on the callback
// goroutine. The returned function removes it, including from frames already
// queued, and may be called any number of times.
func (c *Client) Subscribe(l Listener) (unsubscribe func()) {
	var active atomic.Bool
	active.Store(true)

	off := c.registry.Subscribe(func(pin string, body json.RawMessage) {
		c.callbacks.Push(func() {
			if active.Load() {
				l(pin, body)
			}
		})
	})

	return func() {
		active.Store(false)
		off()
	}
}

// SetErrorHandler installs the handler receiving every recoverable error. A nil
// handler restores the default, which logs the error.
func (c *Client) SetErrorHandler(handler ErrorHandler) {
	c.reporter.Set(c.deferredHandler(handler))
}

// deferredHandler moves handler onto the callback goroutine.
func (c *Client) deferredHandler(handler ErrorHandler) ErrorHandler {
	if handler == nil {
		return nil
	}

	return func(err error) {
		c.callbacks.Push(func() { handler(err) })
	}
}

// OnEvent registers fn for a connection lifecycle event. fn runs on the
// callback goroutine.
func (c *Client) OnEvent(event EventType, fn func(EventType)) (off func()) {
	var active atomic.Bool
	active.Store(true)

	remove := c.events.On(event, func(e EventType) {
		c.callbacks.Push(func() {
			if active.Load() {
				fn(e)
			}
		})
	})

	return func() {
		active.Store(false)
		remove()
	}
}

// State returns the state of the underlying connection.
func (c *Client) State() ConnState {
	return c.manager.State()
}

// Close closes the connection and releases every pending Send with
// ErrClientClosed. Callbacks still queued are dropped.
func (c *Client) Close() {
	c.manager.Close()
	c.registry.Close()
	c.events.Close()
	c.callbacks.Close()
}

// throttle waits for the send limiter, if any.
func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "send rate")
	}
	return nil
}

func eventMessage(pin string, event any) (Message, error) {
	frame, err := NewFrame(PrefixEvent, pin, event)
	if err != nil {
		return nil, err
	}

	return NewFrameMessage(frame)
}

func cloneHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}

	cloned := make(map[string]string, len(headers))
	for k, v := range headers {
		cloned[k] = v
	}
	return cloned
}
