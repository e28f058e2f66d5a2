package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/redis/go-redis/v9"
)

// RedisFeed publishes changes to one Redis stream per user and tails it for
// subscribers, so every process sees writes made by any other.
type RedisFeed struct {
	rdb    *redis.Client
	maxLen int64
}

// NewRedisFeed connects to Redis.
func NewRedisFeed(redisURL string) (*RedisFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	// Read timeout must exceed the XRead Block duration (5s)
	// to avoid spurious i/o timeout errors on idle streams.
	opts.ReadTimeout = 10 * time.Second

	return &RedisFeed{rdb: redis.NewClient(opts), maxLen: 1000}, nil
}

// Publish appends the change to the owner's stream.
func (f *RedisFeed) Publish(ctx context.Context, change docstore.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	err = f.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(ownerOf(change.Path)),
		MaxLen: f.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload":        string(payload),
			"published_at":   time.Now().Unix(),
			"schema_version": SchemaVersionV1,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to stream: %w", err)
	}
	return nil
}

// Subscribe tails the owner's stream from its current end. The end is read
// before returning so no change published afterwards is missed.
func (f *RedisFeed) Subscribe(ctx context.Context, target string) (*Subscription, error) {
	key := streamKey(ownerOf(target))

	lastID := "0-0"
	latest, err := f.rdb.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read stream position: %w", err)
	}
	if len(latest) > 0 {
		lastID = latest[0].ID
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan docstore.Change, subscriberBuffer)
	go func() {
		defer close(ch)
		f.tail(ctx, key, lastID, target, ch)
	}()

	return &Subscription{C: ch, cancel: cancel}, nil
}

func (f *RedisFeed) tail(ctx context.Context, key, lastID, target string, out chan<- docstore.Change) {
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := f.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, lastID},
			Count:   50,
			Block:   5 * time.Second,
		}).Result()

		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Blocking reads return a timeout when no messages arrive
			// within the Block duration; this is normal, not an error.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			slog.Error("Failed to read change stream", "stream", key, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				lastID = message.ID

				payloadStr, ok := message.Values["payload"].(string)
				if !ok {
					slog.Error("Invalid change payload", "message_id", message.ID)
					continue
				}
				var change docstore.Change
				if err := json.Unmarshal([]byte(payloadStr), &change); err != nil {
					slog.Error("Failed to unmarshal change", "error", err, "message_id", message.ID)
					continue
				}
				if !Matches(target, change.Path) {
					continue
				}

				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Close closes the Redis client connection.
func (f *RedisFeed) Close() error {
	return f.rdb.Close()
}
