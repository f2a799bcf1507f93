package logger

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	digests [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.digests = append(p.digests, payload.([]AggregatedLogEntry))
	return nil
}

func TestCollectorAggregatesRepeats(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "digest", Publisher: pub})
	defer c.Close()

	c.AddLog("error", "order rejected", map[string]interface{}{"attempt": 1}, "engine.go:10")
	c.AddLog("error", "order rejected", map[string]interface{}{"attempt": 2}, "engine.go:10")
	c.AddLog("warn", "stale quote", nil, "engine.go:20")

	require.NoError(t, c.Flush(context.Background()))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.digests, 1)
	assert.Equal(t, "digest", pub.topic)

	digest := pub.digests[0]
	require.Len(t, digest, 2)
	assert.Equal(t, "order rejected", digest[0].Message)
	assert.Equal(t, 2, digest[0].Count)
	assert.Equal(t, 2, digest[0].Fields["attempt"])
	assert.Equal(t, 1, digest[1].Count)
}

func TestCollectorFlushOnEmptyIsNoop(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, Publisher: pub})
	defer c.Close()

	require.NoError(t, c.Flush(context.Background()))
	assert.Empty(t, pub.digests)
}

func TestLoggerFeedsCollector(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "debug")
	pub := &capturePublisher{}
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Publisher: pub, Topic: "t"})

	l.Info("not collected")
	l.Error("collected", String("k", "v"))
	l.Warn("also collected")

	digest := l.collector.Drain()
	l.RemoveCollector()

	require.Len(t, digest, 2)
	assert.Equal(t, "error", digest[0].Level)
	assert.Equal(t, "v", digest[0].Fields["k"])
	assert.Contains(t, buf.String(), "not collected")
}
