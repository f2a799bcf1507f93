package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"TradeEngine/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRetryDelayDoublesUpToMax(t *testing.T) {
	cfg := Config{RetryDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	cfg.withDefaults()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{12, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.retryDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.withDefaults()

	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, time.Minute, cfg.MaxDelay)
	assert.Equal(t, "tradeengine:queue", cfg.KeyPrefix)
}

func TestParsePayload(t *testing.T) {
	type job struct {
		Symbol string `json:"symbol"`
	}
	got, err := ParsePayload[job](json.RawMessage(`{"symbol":"BTCUSDT"}`))
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", got.Symbol)

	_, err = ParsePayload[job](json.RawMessage(`[`))
	assert.Error(t, err)
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("container test skipped in short mode")
	}
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() {
		_ = client.Close()
		_ = c.Terminate(ctx)
	})
	return client
}

func TestRedisQueueRetriesThenDeadLetters(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()

	q := NewRedisQueue(logger.Nop(), Config{
		Workers:      2,
		RetryLimit:   2,
		RetryDelay:   5 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		KeyPrefix:    "test:q",
	}, client)

	var mu sync.Mutex
	var okSeen []string
	failures := 0
	q.RegisterJob(JobFunc{JobName: "ok", MsgType: "ok", Fn: func(_ context.Context, p json.RawMessage) error {
		var s string
		if err := json.Unmarshal(p, &s); err != nil {
			return err
		}
		mu.Lock()
		okSeen = append(okSeen, s)
		mu.Unlock()
		return nil
	}})
	q.RegisterJob(JobFunc{JobName: "bad", MsgType: "bad", Fn: func(context.Context, json.RawMessage) error {
		mu.Lock()
		failures++
		mu.Unlock()
		return errors.New("always")
	}})

	_, err := q.Enqueue(ctx, "ok", "hello")
	require.NoError(t, err)
	badID, err := q.Enqueue(ctx, "bad", map[string]int{"n": 1})
	require.NoError(t, err)
	require.NoError(t, q.PublishMessage(ctx, "unknown", nil))

	require.NoError(t, q.Start(ctx))
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		s, err := q.Stats(ctx)
		return err == nil && s.DeadLetter == 2 && s.Pending == 0 && s.Retrying == 0
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"hello"}, okSeen)
	assert.Equal(t, 3, failures, "first run plus two retries")
	mu.Unlock()

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 2)
	byType := map[string]Message{}
	for _, m := range dead {
		byType[m.Type] = m
	}
	assert.Equal(t, badID, byType["bad"].ID)
	assert.Equal(t, 3, byType["bad"].Attempts)
	assert.Equal(t, "always", byType["bad"].LastError)
	assert.Equal(t, "no job registered", byType["unknown"].LastError)
}
