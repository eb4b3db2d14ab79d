package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/councild/councild/council"
)

// Stream is a single-run event channel backed by an in-process pub/sub.
// The producing pipeline publishes lifecycle events in order; exactly one
// consumer (an SSE writer or a websocket client) drains them in the same
// order. Close after the run settles.
type Stream struct {
	runID    string
	topic    string
	pubsub   *gochannel.GoChannel
	messages <-chan *message.Message
	cancel   context.CancelFunc
}

// NewStream creates the stream and subscribes before any event can be
// published, so no event is dropped at startup.
func NewStream(runID string) (*Stream, error) {
	// Blocking publish until the subscriber acks is what guarantees strict
	// FIFO delivery; the producer and consumer always run in separate
	// goroutines.
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		watermill.NopLogger{},
	)

	topic := "council.run." + runID
	ctx, cancel := context.WithCancel(context.Background())
	messages, err := pubsub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to run topic: %w", err)
	}

	return &Stream{
		runID:    runID,
		topic:    topic,
		pubsub:   pubsub,
		messages: messages,
		cancel:   cancel,
	}, nil
}

// Publish implements council.EventSink. It blocks until the consumer acks
// the message or the stream is closed, so events arrive in publish order.
func (s *Stream) Publish(ev council.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.pubsub.Publish(s.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Events exposes the subscriber side. The channel closes when the stream is
// closed.
func (s *Stream) Events() <-chan *message.Message {
	return s.messages
}

func (s *Stream) Close() {
	s.cancel()
	if err := s.pubsub.Close(); err != nil {
		slog.Warn("Failed to close run event stream", "run_id", s.runID, "error", err)
	}
}
