package logger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Publisher ships aggregated digests somewhere durable.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush interval
	CountThreshold int           // distinct entries that force an early flush
	Topic          string
	Publisher      Publisher
	OnPublishError func(error)
}

// AggregatedLogEntry groups repeats of the same message from the same call site.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"` // fields of the latest occurrence
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`

	seq int64
}

// LogCollector buffers warn/error logs and publishes them as periodic digests.
type LogCollector struct {
	config  *CollectionConfig
	entries map[string]*AggregatedLogEntry
	mu      sync.Mutex
	flushCh chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	seq     int64
	now     func() time.Time
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	if config.TimeInterval <= 0 {
		config.TimeInterval = 30 * time.Second
	}
	if config.CountThreshold <= 0 {
		config.CountThreshold = 100
	}

	c := &LogCollector{
		config:  config,
		entries: make(map[string]*AggregatedLogEntry),
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	c.wg.Add(1)
	go c.loop()

	return c
}

// AddLog records one occurrence. Occurrences are keyed by level, caller and message;
// differing field values collapse into the same entry.
func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := c.now()
	key := level + "|" + caller + "|" + message

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
		e.Fields = fields
	} else {
		c.seq++
		c.entries[key] = &AggregatedLogEntry{
			seq:       c.seq,
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	full := len(c.entries) >= c.config.CountThreshold
	c.mu.Unlock()

	if full {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

// Drain removes and returns the buffered entries ordered by first occurrence.
func (c *LogCollector) Drain() []AggregatedLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.entries = make(map[string]*AggregatedLogEntry)

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Flush publishes the current digest synchronously.
func (c *LogCollector) Flush(ctx context.Context) error {
	digest := c.Drain()
	if len(digest) == 0 || c.config.Publisher == nil {
		return nil
	}
	return c.config.Publisher.PublishMessage(ctx, c.config.Topic, digest)
}

func (c *LogCollector) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.TimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flushWithTimeout()
		case <-c.flushCh:
			c.flushWithTimeout()
		case <-c.stopCh:
			c.flushWithTimeout()
			return
		}
	}
}

func (c *LogCollector) flushWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil && c.config.OnPublishError != nil {
		c.config.OnPublishError(err)
	}
}

// Close stops the loop after a final flush.
func (c *LogCollector) Close() {
	c.once.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
	})
}
