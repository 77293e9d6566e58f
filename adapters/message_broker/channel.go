package message_broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/satriahrh/cocoa-fruit/primeworks/domain"
	"github.com/satriahrh/cocoa-fruit/primeworks/utils/log"
	"go.uber.org/zap"
)

const subscriberBuffer = 100

type subscription struct {
	routingKey string
	ch         chan domain.Message
}

// ChannelMessageBroker implements MessageBroker using Go channels
type ChannelMessageBroker struct {
	topics map[string]map[*subscription]struct{}
	mu     sync.RWMutex
	closed bool
}

// NewChannelMessageBroker creates a new channel-based message broker
func NewChannelMessageBroker() *ChannelMessageBroker {
	return &ChannelMessageBroker{
		topics: make(map[string]map[*subscription]struct{}),
	}
}

// Publish fans message out to every subscriber of topic whose routing key is
// empty or equal to routingKey. It never blocks: a subscriber whose buffer is
// full misses the message.
func (b *ChannelMessageBroker) Publish(ctx context.Context, topic string, routingKey string, message []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("message broker is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := domain.Message{
		Topic:      topic,
		RoutingKey: routingKey,
		Payload:    message,
		Timestamp:  time.Now(),
	}

	for sub := range b.topics[topic] {
		if sub.routingKey != "" && sub.routingKey != routingKey {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			log.WithCtx(ctx).Warn("Subscriber buffer full, message dropped",
				zap.String("topic", topic),
				zap.String("routingKey", routingKey))
		}
	}

	log.WithCtx(ctx).Debug("Message published to topic",
		zap.String("topic", topic),
		zap.String("routingKey", routingKey),
		zap.Int("payload_size", len(message)))
	return nil
}

// Subscribe listens for messages on a topic. The returned channel is closed
// when ctx is done or the broker is closed.
func (b *ChannelMessageBroker) Subscribe(ctx context.Context, topic string, routingKey string) (<-chan domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("message broker is closed")
	}

	sub := &subscription{
		routingKey: routingKey,
		ch:         make(chan domain.Message, subscriberBuffer),
	}
	subs, exists := b.topics[topic]
	if !exists {
		subs = make(map[*subscription]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		b.unsubscribe(topic, sub)
	}()

	log.WithCtx(ctx).Info("Subscribed to topic", zap.String("topic", topic), zap.String("routingKey", routingKey))
	return sub.ch, nil
}

func (b *ChannelMessageBroker) unsubscribe(topic string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
}

// Close closes the message broker and all subscriber channels
func (b *ChannelMessageBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true

	for topic, subs := range b.topics {
		for sub := range subs {
			close(sub.ch)
		}
		log.WithCtx(context.Background()).Debug("Closed topic subscribers", zap.String("topic", topic), zap.Int("subscribers", len(subs)))
	}

	b.topics = make(map[string]map[*subscription]struct{})

	log.WithCtx(context.Background()).Info("Message broker closed")
	return nil
}

// GetTopicCount returns the number of topics with at least one subscriber
func (b *ChannelMessageBroker) GetTopicCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

// IsClosed returns whether the broker is closed
func (b *ChannelMessageBroker) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
