package broker

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookqueue/hookqueue/internal/config"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestRedisBroker(t *testing.T) *RedisBroker {
	t.Helper()

	srv := miniredis.RunT(t)
	client := NewRedisClient(config.RedisConfig{
		Host: srv.Host(),
		Port: srv.Port(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisBroker(client, "hookqueue:tasks:test", testLogger())
}

func TestRedisBrokerPushPop(t *testing.T) {
	b := newTestRedisBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Push(ctx, "7:0"))
	require.NoError(t, b.Push(ctx, "8:2"))

	depth, err := b.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	got, err := b.PopBlocking(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "7:0", got)

	got, err = b.PopBlocking(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "8:2", got)

	depth, err = b.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestRedisBrokerPopEmpty(t *testing.T) {
	b := newTestRedisBroker(t)

	got, err := b.PopBlocking(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisBrokerDepthEmpty(t *testing.T) {
	b := newTestRedisBroker(t)

	depth, err := b.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}
