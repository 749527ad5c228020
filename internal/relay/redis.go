package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRelay publishes on one channel per object and keeps checksums in one
// hash per object, field = sequence.
type RedisRelay struct {
	client *redis.Client
	prefix string
}

func NewRedisRelay(redisURL string) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisRelayWithClient(client), nil
}

func NewRedisRelayWithClient(client *redis.Client) *RedisRelay {
	return &RedisRelay{
		client: client,
		prefix: "gridsync:",
	}
}

func (r *RedisRelay) channel(objectID string) string {
	return r.prefix + "rev:" + objectID
}

func (r *RedisRelay) checksumKey(objectID string) string {
	return r.prefix + "checksum:" + objectID
}

// Publish records the message checksum and broadcasts it. A message whose
// checksum disagrees with one already recorded is not broadcast.
func (r *RedisRelay) Publish(ctx context.Context, msg Message) error {
	if err := r.Verify(ctx, msg.ObjectID, msg.Sequence, msg.Checksum); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel(msg.ObjectID), payload).Err(); err != nil {
		return fmt.Errorf("publish revision: %w", err)
	}
	return nil
}

// Verify records checksum for the sequence if nobody has yet, otherwise
// compares it with the recorded one.
func (r *RedisRelay) Verify(ctx context.Context, objectID string, sequence int64, checksum string) error {
	if checksum == "" {
		return nil
	}
	key := r.checksumKey(objectID)
	field := strconv.FormatInt(sequence, 10)

	set, err := r.client.HSetNX(ctx, key, field, checksum).Result()
	if err != nil {
		return fmt.Errorf("record checksum: %w", err)
	}
	if set {
		return nil
	}
	recorded, err := r.client.HGet(ctx, key, field).Result()
	if err != nil {
		return fmt.Errorf("read checksum: %w", err)
	}
	if recorded != checksum {
		return divergence(objectID, sequence, recorded, checksum)
	}
	return nil
}

// Checksum returns the checksum recorded for a sequence, or "" if none.
func (r *RedisRelay) Checksum(ctx context.Context, objectID string, sequence int64) (string, error) {
	recorded, err := r.client.HGet(ctx, r.checksumKey(objectID), strconv.FormatInt(sequence, 10)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read checksum: %w", err)
	}
	return recorded, nil
}

// Subscribe waits for the subscription to be confirmed, so no message
// published after it returns is missed.
func (r *RedisRelay) Subscribe(ctx context.Context, objectID string) (*Subscription, error) {
	pubsub := r.client.Subscribe(ctx, r.channel(objectID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", objectID, err)
	}

	out := make(chan Message, 16)
	go func() {
		defer close(out)
		for raw := range pubsub.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				log.Printf("relay: drop malformed message on %s: %v", raw.Channel, err)
				continue
			}
			out <- msg
		}
	}()
	return &Subscription{ch: out, close: pubsub.Close}, nil
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}

func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
