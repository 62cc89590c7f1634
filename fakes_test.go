package racefeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/st-keller/racefeed-client/message"
	"github.com/st-keller/racefeed-client/state"
	"github.com/st-keller/racefeed-client/transport"
	"github.com/st-keller/racefeed-client/types"
)

const waitTimeout = 2 * time.Second

// --- scheduler -------------------------------------------------------------

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.stopped
}

// fire runs the callback even if the timer was stopped, which is what a
// real timer does when Stop loses the race with expiry.
func (t *fakeTimer) fire() { t.f() }

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) schedule(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// withDuration returns timers scheduled for exactly d, oldest first.
func (c *fakeClock) withDuration(d time.Duration) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if t.d == d {
			out = append(out, t)
		}
	}
	return out
}

func (c *fakeClock) last(t *testing.T) *fakeTimer {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		t.Fatalf("no timer scheduled")
	}
	return c.timers[len(c.timers)-1]
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.d)
	}
	return out
}

// --- transport -------------------------------------------------------------

type fakeConn struct {
	inbound   chan []byte
	readErr   chan error
	closed    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	writes     []string
	writeErr   error
	closeCalls int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	case err := <-c.readErr:
		return nil, err
	case <-c.closed:
		return nil, transport.ErrClosed
	}
}

func (c *fakeConn) WriteFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, string(frame))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closeCalls++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(frame string) { c.inbound <- []byte(frame) }

func (c *fakeConn) drop(err error) { c.readErr <- err }

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type dialResult struct {
	conn transport.Conn
	err  error
}

type pendingDial struct {
	ctx      context.Context
	endpoint string
	result   chan dialResult
}

func (p *pendingDial) open() *fakeConn {
	conn := newFakeConn()
	p.result <- dialResult{conn: conn}
	return conn
}

func (p *pendingDial) fail(err error) {
	p.result <- dialResult{err: err}
}

type fakeDialer struct {
	dials chan *pendingDial
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dials: make(chan *pendingDial, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (transport.Conn, error) {
	p := &pendingDial{ctx: ctx, endpoint: endpoint, result: make(chan dialResult, 1)}
	d.dials <- p
	select {
	case r := <-p.result:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) next(t *testing.T) *pendingDial {
	t.Helper()
	select {
	case p := <-d.dials:
		return p
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for dial")
	}
	return nil
}

func (d *fakeDialer) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case p := <-d.dials:
		t.Fatalf("unexpected dial to %s", p.endpoint)
	case <-time.After(wait):
	}
}

// --- subscriber ------------------------------------------------------------

type recorder struct {
	messages chan message.Inbound
	errs     chan error
	changes  chan state.Change

	mu  sync.Mutex
	log []string
}

func newRecorder() *recorder {
	return &recorder{
		messages: make(chan message.Inbound, 64),
		errs:     make(chan error, 64),
		changes:  make(chan state.Change, 64),
	}
}

func (r *recorder) subscriber() types.Subscriber {
	return types.Subscriber{
		OnMessage: func(msg message.Inbound) {
			r.append("msg:" + msg.Type)
			r.messages <- msg
		},
		OnError: func(err error) {
			r.append("err")
			r.errs <- err
		},
		OnStateChange: func(change state.Change) {
			r.append("state:" + change.String())
			r.changes <- change
		},
	}
}

func (r *recorder) append(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, s)
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func recv[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for callback")
	}
	var zero T
	return zero
}

func expectNone[T any](t *testing.T, ch chan T, wait time.Duration) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected callback %v", v)
	case <-time.After(wait):
	}
}

// --- channel ---------------------------------------------------------------

func newTestChannel(t *testing.T, mutate func(*Config)) (*Channel, *fakeDialer, *fakeClock) {
	t.Helper()
	cfg := Config{
		URL:               "ws://feed.test",
		SessionID:         "12345",
		DriverID:          "HAM",
		BaseDelay:         time.Second,
		KeepaliveInterval: -1,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	dialer := newFakeDialer()
	c, err := New(cfg, WithDialer(dialer))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clock := &fakeClock{}
	c.schedule = clock.schedule
	t.Cleanup(c.Disconnect)
	return c, dialer, clock
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitState(t *testing.T, c *Channel, want state.ConnectionState) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return c.State() == want })
}

// waitDispatched blocks until every queued callback has been delivered.
func waitDispatched(t *testing.T, c *Channel) {
	t.Helper()
	waitFor(t, "dispatch queue to drain", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return !c.dispatching && len(c.queue) == 0
	})
}

// openChannel connects and completes the dial.
func openChannel(t *testing.T, c *Channel, d *fakeDialer) *fakeConn {
	t.Helper()
	c.Connect()
	conn := d.next(t).open()
	waitState(t, c, state.Open)
	return conn
}
