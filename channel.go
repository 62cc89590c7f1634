package racefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/st-keller/racefeed-client/diagnostics"
	"github.com/st-keller/racefeed-client/logger"
	"github.com/st-keller/racefeed-client/message"
	"github.com/st-keller/racefeed-client/state"
	"github.com/st-keller/racefeed-client/transport"
)

const (
	DefaultMaxAttempts       = 5
	DefaultBaseDelay         = time.Second
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultDialTimeout       = 10 * time.Second

	// ConnectivityService is the key dial outcomes are tracked under.
	ConnectivityService = "feed"
)

// Config holds channel configuration. URL and SessionID are required; zero
// durations and counts take the defaults above. A negative
// KeepaliveInterval disables keepalive.
type Config struct {
	URL       string           // feed base, e.g. "ws://localhost:8000"
	Stream    transport.Stream // defaults to telemetry
	SessionID string
	DriverID  string // optional driver filter

	MaxAttempts       int
	BaseDelay         time.Duration // retry n waits BaseDelay*n
	KeepaliveInterval time.Duration
	DialTimeout       time.Duration

	Origin string
	TLS    transport.TLSFiles // for wss:// with mTLS
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL required")
	}
	if c.SessionID == "" {
		return fmt.Errorf("SessionID required")
	}
	if c.Stream != "" && !c.Stream.Valid() {
		return fmt.Errorf("Stream must be telemetry or broadcast, got %q", c.Stream)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("MaxAttempts must be >= 0")
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("BaseDelay must be >= 0")
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("DialTimeout must be >= 0")
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("TLS: %w", err)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = transport.StreamTelemetry
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	return c
}

// timer is the cancellable handle returned by a schedule func.
type timer interface {
	Stop() bool
}

type scheduleFunc func(d time.Duration, f func()) timer

func afterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// Option customizes a Channel.
type Option func(*Channel)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// WithLogger sets the logger lifecycle events are written to.
func WithLogger(l *logger.Logger) Option {
	return func(c *Channel) { c.log = l }
}

// WithConnectivity shares a connectivity tracker, e.g. with a snapshot client.
func WithConnectivity(t *diagnostics.ConnectivityTracker) Option {
	return func(c *Channel) { c.connectivity = t }
}

// Channel owns one logical connection to a race feed.
type Channel struct {
	id           string
	config       Config
	endpoint     string
	dialer       transport.Dialer
	log          *logger.Logger
	events       *diagnostics.RecentEvents
	connectivity *diagnostics.ConnectivityTracker
	schedule     scheduleFunc
	now          func() time.Time

	mu       sync.Mutex
	state    state.ConnectionState
	attempts int
	lastPong time.Time

	// gen identifies the current connection attempt; callbacks carrying an
	// older gen are ignored.
	gen        uint64
	conn       transport.Conn
	cancelDial context.CancelFunc

	retryTimer     timer
	retrySeq       uint64
	keepaliveTimer timer
	keepaliveSeq   uint64

	// Subscriber dispatch (dispatch.go)
	sub         *subscription
	queue       []delivery
	dispatching bool
}

// New creates an Idle channel. Nothing is dialed until Connect.
func New(config Config, opts ...Option) (*Channel, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config = config.withDefaults()

	endpoint, err := transport.Endpoint(config.URL, config.Stream, config.SessionID, config.DriverID)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	c := &Channel{
		id:       uuid.NewString(),
		config:   config,
		endpoint: endpoint,
		schedule: afterFunc,
		now:      time.Now,
		state:    state.Idle,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.log == nil {
		c.log = logger.Nop()
	}
	if c.connectivity == nil {
		c.connectivity = diagnostics.NewConnectivityTracker()
	}
	if c.dialer == nil {
		dialer := &transport.WebSocketDialer{Origin: config.Origin}
		if config.TLS.Enabled() {
			tlsConfig, err := transport.BuildTLSConfig(config.TLS)
			if err != nil {
				return nil, fmt.Errorf("failed to build TLS config: %w", err)
			}
			dialer.TLSConfig = tlsConfig
		}
		c.dialer = dialer
	}
	c.events = diagnostics.NewRecentEvents(c.log.With("channel_id", c.id, "stream", string(config.Stream)), 100)

	return c, nil
}

// ID returns the channel's unique ID.
func (c *Channel) ID() string { return c.id }

// Endpoint returns the URL the channel dials.
func (c *Channel) Endpoint() string { return c.endpoint }

// State returns the current lifecycle state.
func (c *Channel) State() state.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of retries since the last Open.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// LastPong returns when the last pong arrived (zero if none).
func (c *Channel) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// setStateLocked records a transition and queues it for the subscriber
// ahead of anything that follows it. Caller holds c.mu.
func (c *Channel) setStateLocked(to state.ConnectionState) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	change := state.Change{From: from, To: to}
	c.events.Debug("State changed", map[string]interface{}{
		"from": from.String(),
		"to":   to.String(),
	})
	c.enqueueLocked(delivery{change: &change})
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Connect starts connecting when the channel is Idle, Closed or Failed and is
// a no-op otherwise. It does not block; watch OnStateChange for Open.
// Connecting while a retry is pending cancels the timer and dials now,
// keeping the attempt count; any other Connect starts a fresh retry budget.
func (c *Channel) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.CanConnect() {
		c.events.Debug("Connect ignored", map[string]interface{}{
			"state": c.state.String(),
		})
		return
	}
	if c.retryTimer == nil {
		c.attempts = 0
	}
	c.stopRetryLocked()
	c.dialLocked("connect")
}

// Disconnect closes the channel and cancels any pending retry or keepalive
// before returning, so nothing scheduled earlier can reopen it. It is a no-op
// when there is nothing to release.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	switch c.state {
	case state.Idle, state.Closing, state.Failed:
		c.mu.Unlock()
		return
	case state.Closed:
		if c.retryTimer == nil {
			c.mu.Unlock()
			return
		}
	}

	c.setStateLocked(state.Closing)
	c.gen++
	gen := c.gen
	c.stopRetryLocked()
	c.stopKeepaliveLocked()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var closeErr error
	if conn != nil {
		closeErr = conn.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fields := map[string]interface{}{"endpoint": c.endpoint}
	if closeErr != nil {
		fields["close_error"] = closeErr.Error()
	}
	c.events.Info("Disconnected", fields)
	if c.gen == gen && c.state == state.Closing {
		c.setStateLocked(state.Closed)
	}
}

// dialLocked moves to Connecting and dials in the background.
// Caller holds c.mu.
func (c *Channel) dialLocked(reason string) {
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithTimeout(context.Background(), c.config.DialTimeout)
	c.cancelDial = cancel
	c.setStateLocked(state.Connecting)

	attemptID := uuid.NewString()
	c.events.Info("Connecting", map[string]interface{}{
		"endpoint":   c.endpoint,
		"reason":     reason,
		"attempt":    c.attempts,
		"attempt_id": attemptID,
	})

	go c.dial(ctx, cancel, gen, attemptID)
}

func (c *Channel) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, attemptID string) {
	defer cancel()

	startTime := c.now()
	conn, err := c.dialer.Dial(ctx, c.endpoint)
	latency := c.now().Sub(startTime)

	c.mu.Lock()
	if gen != c.gen || c.state != state.Connecting {
		// Superseded by Disconnect or a newer Connect.
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	c.cancelDial = nil

	if err != nil {
		c.connectivity.TrackFailure(ConnectivityService, c.endpoint, latency, err.Error())
		c.events.Warn("Dial failed", map[string]interface{}{
			"attempt_id": attemptID,
			"error":      err.Error(),
			"latency_ms": latency.Milliseconds(),
		})
		c.enqueueLocked(delivery{err: &TransportError{Op: "dial", Err: err}})
		c.failLocked(err)
		c.mu.Unlock()
		return
	}

	c.connectivity.TrackSuccess(ConnectivityService, c.endpoint, latency)
	c.conn = conn
	c.attempts = 0
	c.setStateLocked(state.Open)
	c.armKeepaliveLocked(gen)
	c.events.Info("Connected", map[string]interface{}{
		"attempt_id": attemptID,
		"latency_ms": latency.Milliseconds(),
	})
	c.mu.Unlock()

	// The feed pushes updates in reply to client traffic, so say hello first.
	_ = c.write(gen, conn, message.Ping())
	go c.readLoop(gen, conn)
}

// ============================================================================
// INBOUND
// ============================================================================

func (c *Channel) readLoop(gen uint64, conn transport.Conn) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			c.connLost(gen, "read", err)
			return
		}
		c.handleFrame(gen, conn, frame)
	}
}

// handleFrame parses one frame. Malformed frames are reported and dropped
// without touching the connection state.
func (c *Channel) handleFrame(gen uint64, conn transport.Conn, frame []byte) {
	msg, err := message.Parse(frame)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.events.Warn("Dropping malformed frame", map[string]interface{}{
			"error": err.Error(),
			"bytes": len(frame),
		})
		c.enqueueLocked(delivery{err: &ParseError{Frame: frame, Err: err}})
		c.mu.Unlock()
		return
	}

	switch msg.Type {
	case message.TypePong:
		c.lastPong = c.now()
		c.mu.Unlock()
		return
	case message.TypePing:
		c.mu.Unlock()
		_ = c.write(gen, conn, message.Pong())
		return
	}

	c.enqueueLocked(delivery{msg: &msg})
	c.mu.Unlock()
}

// ============================================================================
// OUTBOUND
// ============================================================================

// Send writes msg when the channel is Open and returns ErrNotConnected
// otherwise. A failed write is handled like a dropped connection and the
// TransportError is returned.
func (c *Channel) Send(msg message.Outbound) error {
	c.mu.Lock()
	if c.state != state.Open || c.conn == nil {
		current := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotConnected, current)
	}
	conn, gen := c.conn, c.gen
	c.mu.Unlock()

	return c.write(gen, conn, msg)
}

func (c *Channel) write(gen uint64, conn transport.Conn, msg message.Outbound) error {
	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(frame); err != nil {
		c.connLost(gen, "write", err)
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// ============================================================================
// FAILURE AND RETRY
// ============================================================================

// connLost handles the end of connection gen. Only the first report for a
// generation counts; a clean close is not forwarded as an error.
func (c *Channel) connLost(gen uint64, op string, err error) {
	c.mu.Lock()
	if gen != c.gen || (c.state != state.Open && c.state != state.Connecting) {
		c.mu.Unlock()
		return
	}

	if errors.Is(err, transport.ErrClosed) {
		c.events.Warn("Connection closed by peer", map[string]interface{}{
			"endpoint": c.endpoint,
		})
	} else {
		c.events.Warn("Transport error", map[string]interface{}{
			"op":    op,
			"error": err.Error(),
		})
		c.enqueueLocked(delivery{err: &TransportError{Op: op, Err: err}})
	}

	conn := c.conn
	c.conn = nil
	c.failLocked(err)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// failLocked retires the current generation and either schedules a retry or
// gives up. Caller holds c.mu and has already released c.conn.
func (c *Channel) failLocked(cause error) {
	c.gen++
	c.stopKeepaliveLocked()

	if c.attempts >= c.config.MaxAttempts {
		c.setStateLocked(state.Failed)
		c.events.Error("Giving up on feed", map[string]interface{}{
			"attempts": c.attempts,
			"error":    cause.Error(),
		})
		c.enqueueLocked(delivery{err: fmt.Errorf("%w after %d attempts: %v", ErrConnectionExhausted, c.attempts, cause)})
		return
	}

	c.attempts++
	delay := c.config.BaseDelay * time.Duration(c.attempts)
	c.setStateLocked(state.Closed)
	c.scheduleRetryLocked(delay)
	c.events.Warn("Retry scheduled", map[string]interface{}{
		"attempt":      c.attempts,
		"max_attempts": c.config.MaxAttempts,
		"retry_in":     delay.String(),
	})
}

func (c *Channel) scheduleRetryLocked(delay time.Duration) {
	c.stopRetryLocked()
	seq := c.retrySeq
	c.retryTimer = c.schedule(delay, func() { c.onRetryFire(seq) })
}

// stopRetryLocked cancels the pending retry; a timer that already fired sees
// a stale seq and does nothing.
func (c *Channel) stopRetryLocked() {
	c.retrySeq++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Channel) onRetryFire(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.retrySeq || c.retryTimer == nil || c.state != state.Closed {
		return
	}
	c.retryTimer = nil
	c.dialLocked("retry")
}

// ============================================================================
// KEEPALIVE
// ============================================================================

func (c *Channel) armKeepaliveLocked(gen uint64) {
	if c.config.KeepaliveInterval <= 0 {
		return
	}
	c.stopKeepaliveLocked()
	seq := c.keepaliveSeq
	c.keepaliveTimer = c.schedule(c.config.KeepaliveInterval, func() { c.onKeepaliveFire(seq, gen) })
}

func (c *Channel) stopKeepaliveLocked() {
	c.keepaliveSeq++
	if c.keepaliveTimer != nil {
		c.keepaliveTimer.Stop()
		c.keepaliveTimer = nil
	}
}

// onKeepaliveFire sends a ping and re-arms. A failed ping goes through the
// same path as a transport error.
func (c *Channel) onKeepaliveFire(seq, gen uint64) {
	c.mu.Lock()
	if seq != c.keepaliveSeq || gen != c.gen || c.state != state.Open || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.armKeepaliveLocked(gen)
	c.mu.Unlock()

	_ = c.write(gen, conn, message.Ping())
}

// ============================================================================
// DIAGNOSTICS
// ============================================================================

// Diagnostics is a point-in-time health view of the channel.
type Diagnostics struct {
	ID           string                  `json:"id"`
	Endpoint     string                  `json:"endpoint"`
	State        string                  `json:"state"`
	Attempts     int                     `json:"attempts"`
	MaxAttempts  int                     `json:"max_attempts"`
	LastPong     time.Time               `json:"last_pong"`
	Events       []diagnostics.Event     `json:"events"`
	Connectivity []diagnostics.Summary   `json:"connectivity"`
	Certificates []transport.Certificate `json:"certificates,omitempty"`
}

// Diagnostics returns recent events, dial health and, for mTLS feeds,
// certificate expiry.
func (c *Channel) Diagnostics() Diagnostics {
	c.mu.Lock()
	d := Diagnostics{
		ID:          c.id,
		Endpoint:    c.endpoint,
		State:       c.state.String(),
		Attempts:    c.attempts,
		MaxAttempts: c.config.MaxAttempts,
		LastPong:    c.lastPong,
	}
	c.mu.Unlock()

	d.Events = c.events.Entries()
	d.Connectivity = c.connectivity.Summaries()
	d.Certificates = c.config.TLS.Certificates(c.now())
	return d
}
