package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// RabbitBroker implements Broker on a durable RabbitMQ queue. Deliveries are
// acknowledged as soon as they are popped; a crashed worker loses only the
// instruction, never the task, because the due scanner republishes it.
type RabbitBroker struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	logger *logrus.Logger

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewRabbitBroker dials the server and declares the durable queue.
func NewRabbitBroker(url, queue string, logger *logrus.Logger) (*RabbitBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	// Prefetch one so an idle consumer never hoards instructions.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}
	return &RabbitBroker{
		conn:   conn,
		ch:     ch,
		queue:  queue,
		logger: logger,
	}, nil
}

// Push publishes a persistent message to the queue.
func (b *RabbitBroker) Push(ctx context.Context, instruction string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.ch.PublishWithContext(ctx, "", b.queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Body:         []byte(instruction),
	})
	if err != nil {
		return fmt.Errorf("failed to push instruction: %w", err)
	}
	return nil
}

// PopBlocking waits up to timeout for a delivery and acknowledges it.
func (b *RabbitBroker) PopBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	deliveries, err := b.consumer()
	if err != nil {
		return "", err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d, ok := <-deliveries:
		if !ok {
			return "", fmt.Errorf("failed to pop instruction: %w", amqp.ErrClosed)
		}
		if err := d.Ack(false); err != nil {
			return "", fmt.Errorf("failed to ack instruction: %w", err)
		}
		return string(d.Body), nil
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Depth reports the queued message count.
func (b *RabbitBroker) Depth(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.ch.QueueInspect(b.queue)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return int64(q.Messages), nil
}

// Close shuts down the channel and connection.
func (b *RabbitBroker) Close() error {
	if err := b.ch.Close(); err != nil {
		b.conn.Close()
		return fmt.Errorf("failed to close channel: %w", err)
	}
	return b.conn.Close()
}

func (b *RabbitBroker) consumer() (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.deliveries != nil {
		return b.deliveries, nil
	}
	deliveries, err := b.ch.Consume(b.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}
	b.deliveries = deliveries
	return deliveries, nil
}
