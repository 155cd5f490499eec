package librtm

import (
	"context"
	"sync"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

type (
	CloseChan chan struct{}

	EventHandler func(Event)

	MessageHandler func(*MessageEvent)

	// Option customizes a Client beyond what Config covers.
	Option func(*options)

	options struct {
		logger       Logger
		bootstrapper Bootstrapper
		transport    TransportFactory
		scheduler    Scheduler
		backoff      BackoffFunc
	}
)

// WithLogger sets the logger. Defaults to NoopLogger.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBootstrapper replaces the web API bootstrap.
func WithBootstrapper(b Bootstrapper) Option {
	return func(o *options) { o.bootstrapper = b }
}

// WithTransportFactory replaces the websocket transport.
func WithTransportFactory(f TransportFactory) Option {
	return func(o *options) { o.transport = f }
}

// WithScheduler replaces the timer used for reconnect delays.
func WithScheduler(s Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithBackoff replaces the reconnect delay policy. Config.MaxBackoff still applies.
func WithBackoff(b BackoffFunc) Option {
	return func(o *options) { o.backoff = b }
}

// Client keeps one connection to the gateway alive, mirrors the session
// state and dispatches inbound events to listeners.
type Client struct {
	cfg    Config
	logger Logger
	sup    *supervisor

	mu       sync.Mutex
	handlers []*HandlerListener
}

// NewClient builds a client. Nothing touches the network until Open.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	o := options{
		logger:    NoopLogger(),
		scheduler: RealScheduler(),
		backoff:   ExponentialBackoffSeconds,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(o.bootstrapper == nil); err != nil {
		return nil, err
	}

	if o.bootstrapper == nil {
		o.bootstrapper = NewWebAPIBootstrapper(cfg.APIURL, cfg.Token, cfg.BootstrapTimeout)
	}
	if o.transport == nil {
		dialer := &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
		o.transport = NewWsTransportFactory(o.logger, dialer, nil, cfg.WriteTimeout, ErrorAdapters{})
	}

	sup := newSupervisor(supervisorParams{
		logger:       o.logger,
		bootstrap:    o.bootstrapper,
		newTransport: o.transport,
		backoff:      CappedBackoff(o.backoff, cfg.MaxBackoff),
		scheduler:    o.scheduler,
		sendTimeout:  cfg.SendTimeout,
		maxPending:   cfg.MaxPending,
		pingInterval: cfg.PingInterval,
		minUptime:    cfg.MinUptime,
	})

	return &Client{cfg: cfg, logger: o.logger.WithField("component", "client"), sup: sup}, nil
}

// Open starts connecting in the background. ctx bounds the lifetime of the
// client; failed connection attempts are retried and not reported here.
func (c *Client) Open(ctx context.Context) error {
	return c.sup.Start(ctx)
}

// Close shuts the client down, releases the connection and closes the
// handlers registered through OnEvent and OnMessage. It blocks until the
// supervisor has stopped, so it must not be called from Listener.Deliver.
func (c *Client) Close() {
	c.sup.Close()

	c.mu.Lock()
	handlers := c.handlers
	c.handlers = nil
	c.mu.Unlock()
	for _, h := range handlers {
		h.Close()
	}
}

// CloseChan is closed once the client has stopped.
func (c *Client) CloseChan() CloseChan {
	return c.sup.doneC
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return c.sup.State()
}

// GetState returns the current session state. The view never changes after
// it is returned.
func (c *Client) GetState() StateView {
	return c.sup.mirror.Read()
}

// OnEvent registers fn for every decoded event. fn runs on a goroutine of
// its own, so it may send through the client. Close the returned listener to
// stop receiving; Client.Close closes it too.
func (c *Client) OnEvent(fn EventHandler) *HandlerListener {
	l := newHandlerListener(fn, c.logger, DefaultHandlerQueue)
	c.register(l)
	return l
}

// OnMessage registers fn for message events only, with the same guarantees
// as OnEvent.
func (c *Client) OnMessage(fn MessageHandler) *HandlerListener {
	l := newMessageListener(fn, c.logger)
	c.register(l)
	return l
}

func (c *Client) register(l *HandlerListener) {
	if err := c.sup.AddListener(context.Background(), l); err != nil {
		c.logger.Warnf("cannot register listener: %s", err)
		l.Close()
		return
	}
	c.mu.Lock()
	c.handlers = append(c.handlers, l)
	c.mu.Unlock()
}

func (c *Client) AddEventListener(ctx context.Context, l Listener) error {
	return c.sup.AddListener(ctx, l)
}

func (c *Client) RemoveEventListener(ctx context.Context, l Listener) error {
	return c.sup.RemoveListener(ctx, l)
}

// SendMessage posts text to channel and returns the id the message was sent
// with. Replies from the gateway carry it as ReplyEvent.ReplyTo.
func (c *Client) SendMessage(ctx context.Context, channel, text string) (int64, error) {
	if channel == "" {
		return 0, errors.New("channel is required")
	}
	return c.sup.Send(ctx, SendCommand{Channel: channel, Text: text})
}

// EditMessage replaces the text of the message identified by ts.
func (c *Client) EditMessage(ctx context.Context, channel, ts, text string) error {
	if channel == "" || ts == "" {
		return errors.New("channel and ts are required")
	}
	return c.sup.Post(ctx, EditCommand{Channel: channel, TS: ts, Text: text})
}

// IndicateTyping tells the channel the user is typing.
func (c *Client) IndicateTyping(ctx context.Context, channel string) error {
	if channel == "" {
		return errors.New("channel is required")
	}
	return c.sup.Post(ctx, TypingCommand{Channel: channel})
}
