package store

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

const defaultFeedChannel = "taskboard:changes"

// RedisFeed broadcasts changed paths over a Redis pub/sub channel.
type RedisFeed struct {
	client  *redis.Client
	channel string
}

func NewRedisFeed(client *redis.Client, channel string) *RedisFeed {
	if channel == "" {
		channel = defaultFeedChannel
	}
	return &RedisFeed{client: client, channel: channel}
}

func (f *RedisFeed) Publish(ctx context.Context, path string) error {
	if err := f.client.Publish(ctx, f.channel, path).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Listen calls fn with every path published on the channel until ctx ends.
// It returns once the subscription is confirmed by the server.
func (f *RedisFeed) Listen(ctx context.Context, fn func(path string)) error {
	pubsub := f.client.Subscribe(ctx, f.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", f.channel, err)
	}

	go func() {
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					log.Printf("store: change feed %s closed", f.channel)
					return
				}
				fn(msg.Payload)
			}
		}
	}()
	return nil
}
