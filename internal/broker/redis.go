package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hookqueue/hookqueue/internal/config"
)

// RedisBroker implements Broker on a redis list. Instructions are appended
// with RPUSH and consumed with BLPOP, so entries survive process restarts as
// long as redis does.
type RedisBroker struct {
	client   *redis.Client
	queueKey string
	logger   *logrus.Logger
}

// NewRedisClient builds a redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisBroker creates a broker on the given list key. The client should
// already be connected.
func NewRedisBroker(client *redis.Client, queueKey string, logger *logrus.Logger) *RedisBroker {
	if queueKey == "" {
		queueKey = "hookqueue:tasks:default"
	}
	return &RedisBroker{
		client:   client,
		queueKey: queueKey,
		logger:   logger,
	}
}

// Push appends an instruction to the tail of the list.
func (b *RedisBroker) Push(ctx context.Context, instruction string) error {
	if err := b.client.RPush(ctx, b.queueKey, instruction).Err(); err != nil {
		return fmt.Errorf("failed to push instruction: %w", err)
	}
	return nil
}

// PopBlocking takes the head of the list, waiting up to timeout.
func (b *RedisBroker) PopBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := b.client.BLPop(ctx, timeout, b.queueKey).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("failed to pop instruction: %w", err)
	}
	// BLPOP returns [key, value].
	if len(result) < 2 {
		return "", fmt.Errorf("unexpected BLPOP result format")
	}
	return result[1], nil
}

// Depth reports the list length.
func (b *RedisBroker) Depth(ctx context.Context) (int64, error) {
	length, err := b.client.LLen(ctx, b.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return length, nil
}

// Close releases the underlying client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
