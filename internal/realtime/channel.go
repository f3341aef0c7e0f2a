package realtime

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// State is the connection state of a Channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Scheduler runs f after d and returns a function cancelling it.
type Scheduler func(d time.Duration, f func()) (cancel func())

func timerScheduler(d time.Duration, f func()) func() {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

// Options configure a Channel.
type Options struct {
	// BaseDelay is the first reconnect delay; attempt n waits BaseDelay*2^n.
	BaseDelay time.Duration
	// MaxAttempts is the number of reconnects before giving up.
	MaxAttempts int
	Schedule    Scheduler
	Logger      *zap.Logger
}

func (o *Options) setDefaults() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = 3 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Schedule == nil {
		o.Schedule = timerScheduler
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// StateFunc observes state changes. terminal is set once reconnects are
// exhausted; the channel must be reopened to resume.
type StateFunc func(s State, terminal bool)

// EventFunc receives validated events.
type EventFunc func(ev Event)

// Channel is a subscription to a cafe's event channel that reconnects with
// exponential backoff. Events are decoded and validated before reaching
// listeners; malformed ones are logged and dropped.
type Channel struct {
	sub    Subscriber
	cafeID string
	name   string
	opts   Options
	lg     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	attempts    int
	terminal    bool
	closed      bool
	gen         uint64
	conn        io.Closer
	cancelRetry func()
	nextID      int
	events      map[int]EventFunc
	states      map[int]StateFunc
}

// Open subscribes to the channel of cafeID and returns immediately in the
// connecting state. Connection failures are handled by the reconnect loop.
func Open(ctx context.Context, sub Subscriber, cafeID string, opts Options) (*Channel, error) {
	if cafeID == "" {
		return nil, errors.New("cafe id required")
	}
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Channel{
		sub:    sub,
		cafeID: cafeID,
		name:   ChannelName(cafeID),
		opts:   opts,
		lg:     opts.Logger.Named("channel").With(zap.String("channel", ChannelName(cafeID))),
		ctx:    ctx,
		cancel: cancel,
		events: map[int]EventFunc{},
		states: map[int]StateFunc{},
	}
	c.connect()
	return c, nil
}

// CafeID returns the cafe the channel belongs to.
func (c *Channel) CafeID() string { return c.cafeID }

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of reconnects scheduled since the last
// successful connection.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Terminal reports whether the channel gave up reconnecting.
func (c *Channel) Terminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}

// OnEvent binds f to every validated event. The returned function unbinds it.
func (c *Channel) OnEvent(f EventFunc) (unbind func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.events[id] = f
	return func() {
		c.mu.Lock()
		delete(c.events, id)
		c.mu.Unlock()
	}
}

// OnState binds f to state changes. The returned function unbinds it.
func (c *Channel) OnState(f StateFunc) (unbind func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.states[id] = f
	return func() {
		c.mu.Lock()
		delete(c.states, id)
		c.mu.Unlock()
	}
}

// Close unbinds all listeners, cancels a pending reconnect and ends the
// subscription, whatever the current state.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateDisconnected
	c.gen++
	if c.cancelRetry != nil {
		c.cancelRetry()
		c.cancelRetry = nil
	}
	conn := c.conn
	c.conn = nil
	clear(c.events)
	clear(c.states)
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Channel) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.cancelRetry = nil
	notify := c.setState(StateConnecting)
	c.mu.Unlock()
	notify()

	conn, err := c.sub.Subscribe(c.ctx, c.name, &channelHandler{c: c, gen: gen})
	if err != nil {
		c.disconnected(gen, errors.Wrap(err, "subscribe"))
		return
	}

	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()
}

func (c *Channel) connected(gen uint64) {
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.attempts = 0
	notify := c.setState(StateConnected)
	c.mu.Unlock()

	c.lg.Debug("Connected")
	notify()
}

func (c *Channel) disconnected(gen uint64, err error) {
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return
	}
	// Invalidate callbacks of the dropped subscription.
	c.gen++
	conn := c.conn
	c.conn = nil

	if c.attempts < c.opts.MaxAttempts {
		delay := c.opts.BaseDelay << c.attempts
		c.attempts++
		c.cancelRetry = c.opts.Schedule(delay, c.connect)
		c.lg.Warn("Disconnected, reconnect scheduled",
			zap.Error(err),
			zap.Int("attempt", c.attempts),
			zap.Duration("delay", delay),
		)
	} else {
		c.terminal = true
		c.lg.Error("Disconnected, giving up", zap.Error(err), zap.Int("attempts", c.attempts))
	}
	notify := c.setState(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	notify()
}

func (c *Channel) message(gen uint64, name string, payload []byte) {
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return
	}
	listeners := make([]EventFunc, 0, len(c.events))
	for _, f := range c.events {
		listeners = append(listeners, f)
	}
	c.mu.Unlock()

	ev, err := Decode(name, payload)
	if err != nil {
		c.lg.Warn("Dropped malformed event", zap.String("event", name), zap.Error(err))
		return
	}
	for _, f := range listeners {
		f(ev)
	}
}

// setState must be called with c.mu held. The returned function delivers
// the change to listeners and must be called without the lock.
func (c *Channel) setState(s State) func() {
	c.state = s
	terminal := c.terminal
	listeners := make([]StateFunc, 0, len(c.states))
	for _, f := range c.states {
		listeners = append(listeners, f)
	}
	return func() {
		for _, f := range listeners {
			f(s, terminal)
		}
	}
}

type channelHandler struct {
	c   *Channel
	gen uint64
}

func (h *channelHandler) Connected()                  { h.c.connected(h.gen) }
func (h *channelHandler) Disconnected(err error)      { h.c.disconnected(h.gen, err) }
func (h *channelHandler) Message(ev string, p []byte) { h.c.message(h.gen, ev, p) }
