package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Dispatcher publishes events after the write they describe has committed.
// Publishing never blocks or fails the caller: errors are logged and counted.
type Dispatcher struct {
	pub      Publisher
	lg       *zap.Logger
	timeout  time.Duration
	failures metric.Int64Counter

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher over pub.
func NewDispatcher(pub Publisher, lg *zap.Logger, meter metric.Meter, timeout time.Duration) (*Dispatcher, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	failures, err := meter.Int64Counter("notify.publish.failures",
		metric.WithDescription("Order events that could not be published"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create counter")
	}
	return &Dispatcher{
		pub:      pub,
		lg:       lg.Named("dispatcher"),
		timeout:  timeout,
		failures: failures,
	}, nil
}

// Dispatch publishes ev to the channel of cafeID in the background. Events
// dispatched after Wait has been called are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, cafeID string, ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("event", ev.Name())))
		d.lg.Warn("Dispatcher closed, event dropped",
			zap.String("cafe_id", cafeID),
			zap.String("event", ev.Name()),
		)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		if err := d.publish(ctx, cafeID, ev); err != nil {
			d.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("event", ev.Name())))
			d.lg.Warn("Publish failed",
				zap.String("cafe_id", cafeID),
				zap.String("event", ev.Name()),
				zap.Error(err),
			)
		}
	}()
}

func (d *Dispatcher) publish(ctx context.Context, cafeID string, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	return d.pub.Publish(ctx, ChannelName(cafeID), ev.Name(), Marshal(ev))
}

// Wait stops accepting new events and blocks until in-flight publishes
// finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
