// Package queue is a small Redis-backed job queue with delayed retries and a
// dead-letter list.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher enqueues a payload for the job registered under msgType.
type Publisher interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// Config controls workers and retry behaviour.
type Config struct {
	Workers      int
	RetryLimit   int
	RetryDelay   time.Duration // first retry; doubles per attempt
	MaxDelay     time.Duration
	PollInterval time.Duration // how often due retries are promoted
	KeyPrefix    string
}

func (c *Config) withDefaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxDelay < c.RetryDelay {
		c.MaxDelay = time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "tradeengine:queue"
	}
}

// Message is the stored envelope.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// retryDelay returns the backoff before retry number attempt (1-based).
func (c Config) retryDelay(attempt int) time.Duration {
	d := c.RetryDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return d
}

// ParsePayload decodes a job payload into T.
func ParsePayload[T any](payload json.RawMessage) (*T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode payload as %T: %w", out, err)
	}
	return &out, nil
}
