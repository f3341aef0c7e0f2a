package realtime

import (
	"context"
	"io"
)

// Handler receives transport signals for one subscription. Calls for a
// single subscription are never concurrent.
type Handler interface {
	Connected()
	// Disconnected reports a dropped subscription. It is not called after
	// the subscription is closed by its owner.
	Disconnected(err error)
	Message(event string, payload []byte)
}

// Publisher is the publish side of the pub-sub primitive.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload []byte) error
}

// Subscriber is the subscribe side of the pub-sub primitive. Closing the
// returned io.Closer ends the subscription.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, h Handler) (io.Closer, error)
}

// Broker is a pub-sub connection with an explicit lifecycle.
type Broker interface {
	Publisher
	Subscriber
	Ping(ctx context.Context) error
	Close() error
}
