package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hookqueue/hookqueue/internal/config"
)

// New builds the broker selected by configuration. The redis backend is
// pinged before returning so a misconfigured address fails at startup
// instead of on the first push.
func New(ctx context.Context, cfg config.BrokerConfig, redisCfg config.RedisConfig, logger *logrus.Logger) (Broker, error) {
	switch cfg.Backend {
	case "memory":
		logger.Info("Using in-memory instruction broker")
		return NewMemoryBroker(cfg.Capacity), nil

	case "rabbitmq":
		b, err := NewRabbitBroker(cfg.AMQPURL, cfg.QueueName, logger)
		if err != nil {
			return nil, err
		}
		logger.WithField("queue", cfg.QueueName).Info("Connected to RabbitMQ broker")
		return b, nil

	case "redis", "":
		client := NewRedisClient(redisCfg)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		logger.WithField("queue", cfg.QueueName).Info("Connected to redis broker")
		return NewRedisBroker(client, cfg.QueueName, logger), nil

	default:
		return nil, fmt.Errorf("unknown broker backend: %s", cfg.Backend)
	}
}
