package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher builds a publisher; an empty channel means DefaultChannel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// PublishProductsImported sends evt as JSON.
func (p *RedisPublisher) PublishProductsImported(ctx context.Context, evt ProductsImported) error {
	if p == nil || p.client == nil {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}

// Subscriber relays channel messages to a callback.
type Subscriber struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewSubscriber builds a subscriber; an empty channel means DefaultChannel.
func NewSubscriber(client *redis.Client, channel string, logger *slog.Logger) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{client: client, channel: channel, logger: logger}
}

// Listen subscribes and returns once the subscription is confirmed. Messages
// are handed to fn from a background goroutine until ctx is done.
func (s *Subscriber) Listen(ctx context.Context, fn func(ProductsImported)) error {
	if s == nil || s.client == nil {
		return nil
	}
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("events: subscribe %s: %w", s.channel, err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				evt, err := Decode(msg.Payload)
				if err != nil {
					s.logger.Warn("ignoring malformed event", slog.String("channel", s.channel), slog.Any("error", err))
					continue
				}
				fn(evt)
			}
		}
	}()
	return nil
}
