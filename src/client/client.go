package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orchestra-mcp/socketclient/config"
	"github.com/orchestra-mcp/socketclient/src/types"
	"github.com/rs/zerolog"
)

// Client is a reconnecting message client over a single duplex connection.
//
// Application handlers run one at a time on a dispatcher goroutine, in the
// order the client observed the events: for one connection that is open,
// then messages, then close. Handlers may call any method, Close included.
// A Connect from inside a handler holds up dispatch until the dial finishes.
type Client struct {
	cfg      config.ClientConfig
	dialer   types.Dialer
	logger   zerolog.Logger
	metrics  *Metrics
	router   *router
	payloads *types.PayloadRegistry

	mu          sync.Mutex
	state       types.ReadyState
	sess        *session
	manualClose bool
	closed      bool
	reconnect   *reconnectPolicy
	attemptSeq  uint64 // identifies the dial allowed to install a session
	dialCancel  context.CancelFunc
	sessSeq     uint64

	writeMu sync.Mutex

	queue       *dispatchQueue
	dispatching atomic.Bool
	done        chan struct{}
	runDone     chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup // read loops and heartbeats
}

// session is one opened connection.
type session struct {
	id       uint64
	conn     types.Conn
	openedAt time.Time
	stop     chan struct{}
	stopOnce sync.Once

	lastSeen atomic.Int64 // unix nanos of the last inbound frame
	lastPong atomic.Int64

	// guarded by Client.mu
	superseded bool
	local      bool
	localErr   error
}

func newSession(id uint64, conn types.Conn) *session {
	now := time.Now()
	s := &session{id: id, conn: conn, openedAt: now, stop: make(chan struct{})}
	s.lastSeen.Store(now.UnixNano())
	return s
}

// shutdown stops the heartbeat and closes the connection. Idempotent.
func (s *session) shutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)
		_ = s.conn.Close()
	})
}

func (s *session) touch() { s.lastSeen.Store(time.Now().UnixNano()) }

func (s *session) lastSeenAt() time.Time { return time.Unix(0, s.lastSeen.Load()) }

type dispatch struct {
	env   *types.Envelope
	event *types.Event
}

// Option configures optional client collaborators.
type Option func(*Client)

// WithMetrics records client activity in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithPayloadRegistry sets the registry used by Payload lookups.
func WithPayloadRegistry(reg *types.PayloadRegistry) Option {
	return func(c *Client) { c.payloads = reg }
}

// New creates a client. Zero config fields are filled with defaults and
// out-of-range values are replaced by them; the config is not changed
// afterwards. The dispatcher starts immediately and runs until Close.
func New(cfg config.ClientConfig, dialer types.Dialer, logger zerolog.Logger, opts ...Option) *Client {
	logger = logger.With().Str("component", "socket-client").Logger()
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		logger.Warn().Err(err).Msg("config out of range, using defaults for invalid fields")
		cfg = cfg.Sanitize()
	}

	c := &Client{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger,
		payloads: types.NewPayloadRegistry(),
		state:    types.StateIdle,
		queue:    newDispatchQueue(cfg.EventBufferSize),
		done:     make(chan struct{}),
		runDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.reconnect = newReconnectPolicy(cfg.ReconnectInterval(), cfg.MaxAttempts())
	c.router = newRouter(c.logger, c.metrics)
	c.metrics.state(types.StateIdle)

	go c.run()
	return c
}

// run is the dispatcher loop.
func (c *Client) run() {
	defer close(c.runDone)
	for {
		select {
		case <-c.queue.wake:
		case <-c.done:
			return
		}
		for batch := c.queue.drain(); len(batch) > 0; batch = c.queue.drain() {
			for _, d := range batch {
				// The flag is raised before done is checked so that Close
				// either sees it or the handler never starts.
				c.dispatching.Store(true)
				select {
				case <-c.done:
					c.dispatching.Store(false)
					return
				default:
				}
				switch {
				case d.env != nil:
					c.router.dispatchMessage(*d.env)
				case d.event != nil:
					c.router.dispatchEvent(*d.event)
				}
				c.dispatching.Store(false)
			}
		}
	}
}

func (c *Client) enqueue(d dispatch) {
	c.queue.push(d)
}

func (c *Client) emit(name types.EventName, err error) {
	c.enqueue(dispatch{event: &types.Event{Name: name, Err: err, At: time.Now()}})
}

// setStateLocked must be called with c.mu held.
func (c *Client) setStateLocked(s types.ReadyState) {
	c.state = s
	c.metrics.state(s)
}

// Connect opens a new connection, closing any existing one first. It
// returns once the transport is open, or with the dial error. A failed
// Connect still goes through the close path, so it is retried by the
// reconnection policy.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.ErrClientClosed
	}
	c.manualClose = false
	c.reconnect.stopTimer()
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.ErrClientClosed
	}
	prev := c.sess
	if prev != nil {
		prev.superseded = true
		c.sess = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
	}
	c.attemptSeq++
	attempt := c.attemptSeq
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout())
	c.dialCancel = cancel
	c.setStateLocked(types.StateConnecting)
	c.mu.Unlock()
	defer cancel()

	if prev != nil {
		c.logger.Debug().Uint64("session", prev.id).Msg("closing previous connection")
		prev.shutdown()
	}

	c.logger.Debug().Str("url", c.cfg.URL).Msg("connecting")
	conn, err := c.dialer.Dial(dialCtx, c.cfg.URL)

	c.mu.Lock()
	if c.closed || c.attemptSeq != attempt {
		// Disconnect or a newer Connect ran while dialing.
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		if err != nil {
			return err
		}
		return types.ErrSuperseded
	}
	c.dialCancel = nil

	if err != nil {
		c.setStateLocked(types.StateClosed)
		manual := c.manualClose
		c.mu.Unlock()

		c.logger.Warn().Err(err).Str("url", c.cfg.URL).Msg("connect failed")
		c.emit(types.EventError, err)
		c.emit(types.EventClose, nil)
		if !manual {
			c.scheduleReconnect()
		}
		return fmt.Errorf("connect %s: %w", c.cfg.URL, err)
	}

	c.sessSeq++
	sess := newSession(c.sessSeq, conn)
	c.sess = sess
	c.reconnect.reset()
	c.setStateLocked(types.StateOpen)
	c.wg.Add(2)
	c.mu.Unlock()

	c.metrics.opened()
	c.logger.Info().Str("url", c.cfg.URL).Uint64("session", sess.id).Msg("connected")

	c.emit(types.EventOpen, nil)
	go c.heartbeat(sess)
	go c.readLoop(sess)
	return nil
}

// readLoop delivers inbound frames until the connection ends.
func (c *Client) readLoop(sess *session) {
	defer c.wg.Done()

	for {
		frame, err := sess.conn.ReadMessage()
		if err != nil {
			c.handleClose(sess, err)
			return
		}
		sess.touch()

		env, err := types.ParseEnvelope(frame)
		if err == nil {
			// Types with a registered schema must decode into it.
			_, err = env.Payload(c.payloads)
		}
		if err != nil {
			c.metrics.parseError()
			c.logger.Warn().Err(err).Int("bytes", len(frame)).Msg("dropping malformed frame")
			continue
		}
		if env.Type == types.TypePong {
			sess.lastPong.Store(time.Now().UnixNano())
		}
		c.metrics.received(c.typeLabel(env.Type))
		if !c.queue.pushMessage(dispatch{env: &env}, sess.stop, c.done) {
			c.logger.Debug().Uint64("session", sess.id).Str("type", env.Type).Msg("connection closing, frame not dispatched")
		}
	}
}

// typeLabel bounds the metric label set to types the client knows about.
func (c *Client) typeLabel(msgType string) string {
	if c.payloads.Known(msgType) || c.router.handlerCount(msgType) > 0 {
		return msgType
	}
	return "other"
}

// handleClose runs once per session when its read loop ends.
func (c *Client) handleClose(sess *session, readErr error) {
	c.mu.Lock()
	if sess.superseded {
		c.mu.Unlock()
		sess.shutdown()
		return
	}
	if c.sess == sess {
		c.sess = nil
		c.setStateLocked(types.StateClosed)
	}
	local, localErr := sess.local, sess.localErr
	// A session closed by Disconnect stays manual even if Connect has
	// already cleared the flag for its successor.
	manual := c.manualClose || (local && localErr == nil)
	c.mu.Unlock()

	sess.shutdown()

	switch {
	case local && localErr != nil:
		c.emit(types.EventError, localErr)
	case !local && !errors.Is(readErr, io.EOF):
		c.logger.Warn().Err(readErr).Uint64("session", sess.id).Msg("connection error")
		c.emit(types.EventError, readErr)
	}

	c.logger.Info().Uint64("session", sess.id).Bool("manual", manual).Msg("connection closed")
	c.emit(types.EventClose, nil)

	if !manual {
		c.scheduleReconnect()
	}
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed || c.manualClose {
		c.mu.Unlock()
		return
	}
	ok := c.reconnect.schedule(c.fireReconnect)
	attempts := c.reconnect.attempts
	c.mu.Unlock()

	if !ok {
		c.metrics.exhausted()
		c.logger.Error().Int("attempts", attempts).Msg("reconnect attempts exhausted, giving up")
		c.emit(types.EventReconnectExhausted, nil)
		return
	}
	c.logger.Info().
		Int("attempt", attempts).
		Int("max", c.cfg.MaxAttempts()).
		Dur("delay", c.cfg.ReconnectInterval()).
		Msg("reconnect scheduled")
}

func (c *Client) fireReconnect(token uint64) {
	c.mu.Lock()
	if c.closed || c.manualClose || !c.reconnect.claim(token) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.metrics.reconnecting()
	if err := c.dial(context.Background()); err != nil {
		c.logger.Debug().Err(err).Msg("reconnect attempt failed")
	}
}

// Disconnect closes the connection on purpose: no reconnect follows and a
// pending reconnect is cancelled. Safe to call at any time, any number of
// times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	c.reconnect.cancel()
	c.attemptSeq++
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	sess := c.sess
	if sess == nil {
		if c.state == types.StateConnecting {
			c.setStateLocked(types.StateClosed)
		}
		c.mu.Unlock()
		return
	}
	sess.local = true
	c.setStateLocked(types.StateClosing)
	c.mu.Unlock()

	c.logger.Debug().Uint64("session", sess.id).Msg("disconnecting")
	sess.shutdown()

	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
		c.setStateLocked(types.StateClosed)
	}
	c.mu.Unlock()
}

// Close disconnects and stops the dispatcher. The client cannot be reused.
// Close waits for the client goroutines; a handler that is running when
// Close is called, including one calling Close itself, is not waited for.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Disconnect()
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	if !c.dispatching.Load() {
		<-c.runDone
	}
}

// IsConnected reports whether a connection exists and is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && c.state == types.StateOpen
}

// ReadyState returns the current connection state.
func (c *Client) ReadyState() types.ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On registers fn for inbound envelopes of msgType.
func (c *Client) On(msgType string, fn types.MessageHandler) types.Subscription {
	return c.router.on(msgType, fn)
}

// Off removes the given registrations for msgType, or all of them when
// none are given.
func (c *Client) Off(msgType string, subs ...types.Subscription) {
	c.router.off(msgType, subs)
}

// AddEventListener registers fn for a lifecycle event.
func (c *Client) AddEventListener(name types.EventName, fn types.EventHandler) types.Subscription {
	return c.router.addListener(name, fn)
}

// RemoveEventListener removes the given registrations for name, or all of
// them when none are given.
func (c *Client) RemoveEventListener(name types.EventName, subs ...types.Subscription) {
	c.router.removeListener(name, subs)
}

// OnPayload registers fn for msgType with the payload decoded through the
// client's registry: a pointer to the registered type, or json.RawMessage
// for types without a schema.
func (c *Client) OnPayload(msgType string, fn func(payload any, env types.Envelope) error) types.Subscription {
	return c.On(msgType, func(env types.Envelope) error {
		payload, err := env.Payload(c.payloads)
		if err != nil {
			return err
		}
		return fn(payload, env)
	})
}

// Payloads returns the registry used to decode typed payloads.
func (c *Client) Payloads() *types.PayloadRegistry { return c.payloads }

// Config returns the effective configuration.
func (c *Client) Config() config.ClientConfig { return c.cfg }

// Stats is a point-in-time view of the client.
type Stats struct {
	State            types.ReadyState
	Connected        bool
	Attempts         int
	ReconnectPending bool
	ConnectedAt      time.Time
	LastPong         time.Time
	Types            []string
}

// Stats returns current connection statistics.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	st := Stats{
		State:            c.state,
		Connected:        c.sess != nil && c.state == types.StateOpen,
		Attempts:         c.reconnect.attempts,
		ReconnectPending: c.reconnect.pending(),
	}
	if c.sess != nil {
		st.ConnectedAt = c.sess.openedAt
		if p := c.sess.lastPong.Load(); p != 0 {
			st.LastPong = time.Unix(0, p)
		}
	}
	c.mu.Unlock()

	st.Types = c.router.types()
	return st
}
