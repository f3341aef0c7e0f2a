// Package amqpbroker implements the realtime pub-sub primitive on a
// RabbitMQ topic exchange. Each subscription gets its own exclusive,
// auto-deleted queue bound with the channel name as routing key.
package amqpbroker

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/xenking/cafe-orders/internal/realtime"
)

// DefaultExchange is used when no exchange name is configured.
const DefaultExchange = "cafe.orders"

var _ realtime.Broker = (*Broker)(nil)

// Broker publishes and subscribes over one AMQP connection.
type Broker struct {
	conn     *amqp.Connection
	exchange string
	lg       *zap.Logger

	mu  sync.Mutex
	pub *amqp.Channel
}

// Dial connects to url and declares the topic exchange.
func Dial(url, exchange string, lg *zap.Logger) (*Broker, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	b := &Broker{conn: conn, exchange: exchange, lg: lg.Named("amqp")}

	ch, err := b.publishChannel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %q", exchange)
	}
	return b, nil
}

// publishChannel returns the shared publishing channel, reopening it after
// a channel-level error closed it.
func (b *Broker) publishChannel() (*amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pub != nil && !b.pub.IsClosed() {
		return b.pub, nil
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	b.pub = ch
	return ch, nil
}

// Publish sends the event with the channel name as routing key. The event
// name travels in the message type property.
func (b *Broker) Publish(ctx context.Context, channel, event string, payload []byte) error {
	ch, err := b.publishChannel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, b.exchange, channel, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Type:         event,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	if err != nil {
		return errors.Wrapf(err, "publish %q", channel)
	}
	return nil
}

// Subscribe declares a private queue for channel and consumes it until the
// returned io.Closer is closed or the AMQP channel closes.
func (b *Broker) Subscribe(ctx context.Context, channel string, h realtime.Handler) (io.Closer, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "declare queue")
	}
	if err := ch.QueueBind(q.Name, channel, b.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "bind %q", channel)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "consume")
	}

	s := &subscription{
		ch:      ch,
		closeCh: ch.NotifyClose(make(chan *amqp.Error, 1)),
		lg:      b.lg.With(zap.String("channel", channel)),
	}
	go s.run(ctx, deliveries, h)
	return s, nil
}

// Ping reports whether the connection is open.
func (b *Broker) Ping(context.Context) error {
	if b.conn.IsClosed() {
		return errors.New("amqp connection is closed")
	}
	return nil
}

// Close closes the connection and every channel on it.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.pub != nil {
		_ = b.pub.Close()
	}
	b.mu.Unlock()
	return b.conn.Close()
}

type subscription struct {
	ch      *amqp.Channel
	closeCh chan *amqp.Error
	closed  atomic.Bool
	lg      *zap.Logger
}

func (s *subscription) run(ctx context.Context, deliveries <-chan amqp.Delivery, h realtime.Handler) {
	h.Connected()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case d, ok := <-deliveries:
			if !ok {
				s.drop(h)
				return
			}
			if d.Type == "" {
				s.lg.Warn("Dropped message without type")
				continue
			}
			h.Message(d.Type, d.Body)
		}
	}
}

func (s *subscription) drop(h realtime.Handler) {
	if s.closed.Load() {
		return
	}
	err := errors.New("amqp channel closed")
	select {
	case amqpErr, ok := <-s.closeCh:
		if ok && amqpErr != nil {
			err = amqpErr
		}
	case <-time.After(time.Second):
	}
	_ = s.Close()
	h.Disconnected(err)
}

func (s *subscription) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return errors.Wrap(err, "close channel")
	}
	return nil
}
