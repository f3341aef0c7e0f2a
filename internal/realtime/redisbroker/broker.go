// Package redisbroker implements the realtime pub-sub primitive with Redis
// PUBLISH and SUBSCRIBE.
package redisbroker

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/cafe-orders/internal/realtime"
)

var _ realtime.Broker = (*Broker)(nil)

// Broker publishes and subscribes over a Redis client it owns.
type Broker struct {
	client redis.UniversalClient
	lg     *zap.Logger
}

// New connects to redisURL and verifies the connection.
func New(ctx context.Context, redisURL string, lg *zap.Logger) (*Broker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	b := NewFromClient(redis.NewClient(opts), lg)
	if err := b.Ping(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// NewFromClient wraps an existing client. Close closes it.
func NewFromClient(client redis.UniversalClient, lg *zap.Logger) *Broker {
	return &Broker{client: client, lg: lg.Named("redis")}
}

// Publish sends the event to every subscriber of channel.
func (b *Broker) Publish(ctx context.Context, channel, event string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, encodeEnvelope(event, payload)).Err(); err != nil {
		return errors.Wrapf(err, "publish %q", channel)
	}
	return nil
}

// Subscribe listens on channel until the returned io.Closer is closed or
// the connection drops, which is reported once through h.Disconnected.
func (b *Broker) Subscribe(ctx context.Context, channel string, h realtime.Handler) (io.Closer, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		ps:     b.client.Subscribe(ctx, channel),
		cancel: cancel,
		lg:     b.lg.With(zap.String("channel", channel)),
	}
	go s.run(ctx, h)
	return s, nil
}

// Ping checks the connection.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "ping redis")
	}
	return nil
}

// Close closes the client.
func (b *Broker) Close() error {
	return b.client.Close()
}

type subscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	closed atomic.Bool
	lg     *zap.Logger
}

func (s *subscription) run(ctx context.Context, h realtime.Handler) {
	if err := s.confirm(ctx); err != nil {
		s.drop(h, err)
		return
	}
	h.Connected()

	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			s.drop(h, err)
			return
		}
		event, payload, err := decodeEnvelope([]byte(msg.Payload))
		if err != nil {
			s.lg.Warn("Dropped message", zap.Error(err))
			continue
		}
		h.Message(event, payload)
	}
}

// confirm waits for the server to acknowledge the subscription.
func (s *subscription) confirm(ctx context.Context) error {
	v, err := s.ps.Receive(ctx)
	if err != nil {
		return errors.Wrap(err, "subscribe")
	}
	switch m := v.(type) {
	case *redis.Subscription:
		return nil
	case error:
		return errors.Wrap(m, "subscribe")
	default:
		return errors.Errorf("unexpected reply %T", v)
	}
}

func (s *subscription) drop(h realtime.Handler, err error) {
	if s.closed.Load() {
		return
	}
	_ = s.Close()
	h.Disconnected(err)
}

func (s *subscription) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()
	return s.ps.Close()
}
