package realtime

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeSubscriber struct {
	mu       sync.Mutex
	err      error
	channels []string
	handlers []Handler
	conns    []*fakeConn
}

func (s *fakeSubscriber) Subscribe(_ context.Context, channel string, h Handler) (io.Closer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, channel)
	if s.err != nil {
		return nil, s.err
	}
	conn := &fakeConn{}
	s.handlers = append(s.handlers, h)
	s.conns = append(s.conns, conn)
	return conn, nil
}

func (s *fakeSubscriber) last() Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[len(s.handlers)-1]
}

func (s *fakeSubscriber) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// manualScheduler records scheduled reconnects and runs them on demand.
type manualScheduler struct {
	delays    []time.Duration
	pending   func()
	cancelled int
}

func (m *manualScheduler) schedule(d time.Duration, f func()) func() {
	m.delays = append(m.delays, d)
	m.pending = f
	return func() {
		m.cancelled++
		m.pending = nil
	}
}

func (m *manualScheduler) fire(t *testing.T) {
	t.Helper()
	require.NotNil(t, m.pending, "no reconnect scheduled")
	f := m.pending
	m.pending = nil
	f()
}

func openTestChannel(t *testing.T, sub Subscriber, sched *manualScheduler) *Channel {
	t.Helper()
	ch, err := Open(context.Background(), sub, "cafe-1", Options{
		BaseDelay: 3 * time.Second,
		Schedule:  sched.schedule,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func TestOpen_RequiresCafeID(t *testing.T) {
	_, err := Open(context.Background(), &fakeSubscriber{}, "", Options{})
	require.Error(t, err)
}

func TestChannel_Connects(t *testing.T) {
	sub := &fakeSubscriber{}
	ch := openTestChannel(t, sub, &manualScheduler{})

	assert.Equal(t, []string{"cafe-cafe-1-orders"}, sub.channels)
	assert.Equal(t, StateConnecting, ch.State())

	sub.last().Connected()
	assert.Equal(t, StateConnected, ch.State())
	assert.Equal(t, 0, ch.Attempts())
}

func TestChannel_Backoff(t *testing.T) {
	sub := &fakeSubscriber{}
	sched := &manualScheduler{}
	ch := openTestChannel(t, sub, sched)

	for range 5 {
		sub.last().Disconnected(errors.New("dropped"))
		assert.Equal(t, StateDisconnected, ch.State())
		assert.False(t, ch.Terminal())
		sched.fire(t)
	}
	assert.Equal(t, []time.Duration{
		3 * time.Second,
		6 * time.Second,
		12 * time.Second,
		24 * time.Second,
		48 * time.Second,
	}, sched.delays)
	assert.Equal(t, 6, sub.calls())

	sub.last().Disconnected(errors.New("dropped again"))
	assert.Len(t, sched.delays, 5, "no sixth reconnect")
	assert.Nil(t, sched.pending)
	assert.True(t, ch.Terminal())
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestChannel_ConnectResetsAttempts(t *testing.T) {
	sub := &fakeSubscriber{}
	sched := &manualScheduler{}
	ch := openTestChannel(t, sub, sched)

	sub.last().Disconnected(errors.New("dropped"))
	sched.fire(t)
	sub.last().Disconnected(errors.New("dropped"))
	sched.fire(t)
	assert.Equal(t, 2, ch.Attempts())

	sub.last().Connected()
	assert.Equal(t, 0, ch.Attempts())

	sub.last().Disconnected(errors.New("dropped"))
	assert.Equal(t, 3*time.Second, sched.delays[len(sched.delays)-1])
}

func TestChannel_SubscribeErrorSchedulesReconnect(t *testing.T) {
	sub := &fakeSubscriber{err: errors.New("refused")}
	sched := &manualScheduler{}
	ch := openTestChannel(t, sub, sched)

	assert.Equal(t, StateDisconnected, ch.State())
	assert.Equal(t, []time.Duration{3 * time.Second}, sched.delays)

	sub.mu.Lock()
	sub.err = nil
	sub.mu.Unlock()
	sched.fire(t)
	sub.last().Connected()
	assert.Equal(t, StateConnected, ch.State())
}

func TestChannel_StaleHandlerIgnored(t *testing.T) {
	sub := &fakeSubscriber{}
	sched := &manualScheduler{}
	ch := openTestChannel(t, sub, sched)

	stale := sub.last()
	stale.Disconnected(errors.New("dropped"))
	assert.True(t, sub.conns[0].isClosed())
	sched.fire(t)

	var got []Event
	ch.OnEvent(func(ev Event) { got = append(got, ev) })

	stale.Connected()
	assert.Equal(t, StateConnecting, ch.State())
	stale.Message(NameOrderStatusUpdated, []byte(`{"orderId":"o1","status":"READY","orderNumber":"ORD1"}`))
	assert.Empty(t, got)
	stale.Disconnected(errors.New("late"))
	assert.Equal(t, 1, ch.Attempts())
}

func TestChannel_Close(t *testing.T) {
	sub := &fakeSubscriber{}
	sched := &manualScheduler{}
	ch := openTestChannel(t, sub, sched)

	var states []State
	ch.OnState(func(s State, _ bool) { states = append(states, s) })
	var events int
	ch.OnEvent(func(Event) { events++ })

	sub.last().Disconnected(errors.New("dropped"))
	require.NotNil(t, sched.pending)

	require.NoError(t, ch.Close())
	assert.Equal(t, 1, sched.cancelled)
	assert.Nil(t, sched.pending)
	assert.Equal(t, StateDisconnected, ch.State())
	assert.Equal(t, []State{StateDisconnected}, states)

	// Listeners are unbound.
	sub.last().Message(NameOrderStatusUpdated, []byte(`{"orderId":"o1","status":"READY","orderNumber":"ORD1"}`))
	assert.Zero(t, events)
	require.NoError(t, ch.Close())
}

func TestChannel_CloseWhileConnected(t *testing.T) {
	sub := &fakeSubscriber{}
	ch := openTestChannel(t, sub, &manualScheduler{})
	sub.last().Connected()

	require.NoError(t, ch.Close())
	assert.True(t, sub.conns[0].isClosed())

	sub.last().Disconnected(errors.New("after close"))
	assert.False(t, ch.Terminal())
	assert.Equal(t, 1, sub.calls())
}

func TestChannel_Events(t *testing.T) {
	sub := &fakeSubscriber{}
	ch := openTestChannel(t, sub, &manualScheduler{})
	sub.last().Connected()

	var all []Event
	unbind := Feed(ch, func(ev Event) { all = append(all, ev) })

	var tracked []*OrderStatusUpdated
	TrackOrder(ch, "o1", func(u *OrderStatusUpdated) { tracked = append(tracked, u) })

	h := sub.last()
	h.Message(NameOrderCreated, []byte(`{"id":"o1","orderNumber":"ORD123456ABC","customerName":"Asha","total":413,"orderType":"DINE_IN","status":"PENDING","createdAt":"2025-06-15T12:00:00Z"}`))
	h.Message(NameOrderStatusUpdated, []byte(`{"orderId":"o1","status":"READY","orderNumber":"ORD123456ABC"}`))
	h.Message(NameOrderStatusUpdated, []byte(`{"orderId":"o2","status":"READY","orderNumber":"ORD123456XYZ"}`))
	// Missing orderNumber.
	h.Message(NameOrderStatusUpdated, []byte(`{"orderId":"o1","status":"READY"}`))
	h.Message("order-deleted", []byte(`{}`))
	h.Message(NameOrderCreated, []byte(`not json`))

	require.Len(t, all, 3)
	assert.IsType(t, &OrderCreated{}, all[0])
	require.Len(t, tracked, 1)
	assert.Equal(t, "READY", tracked[0].Status)

	unbind()
	h.Message(NameOrderStatusUpdated, []byte(`{"orderId":"o1","status":"COMPLETED","orderNumber":"ORD123456ABC"}`))
	assert.Len(t, all, 3)
	assert.Len(t, tracked, 2)
}

func TestChannel_StateListener(t *testing.T) {
	sub := &fakeSubscriber{}
	sched := &manualScheduler{}
	ch, err := Open(context.Background(), sub, "cafe-1", Options{MaxAttempts: 1, Schedule: sched.schedule})
	require.NoError(t, err)
	defer ch.Close()

	type change struct {
		s        State
		terminal bool
	}
	var changes []change
	ch.OnState(func(s State, terminal bool) { changes = append(changes, change{s, terminal}) })

	sub.last().Connected()
	sub.last().Disconnected(errors.New("dropped"))
	sched.fire(t)
	sub.last().Disconnected(errors.New("dropped"))

	assert.Equal(t, []change{
		{StateConnected, false},
		{StateDisconnected, false},
		{StateConnecting, false},
		{StateDisconnected, true},
	}, changes)
}
