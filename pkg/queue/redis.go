package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"TradeEngine/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps pending messages in a list, delayed retries in a sorted set
// scored by due time, and exhausted messages in a dead-letter list.
type RedisQueue struct {
	log    *logger.Logger
	cfg    Config
	client redis.Cmdable
	now    func() time.Time

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewRedisQueue(lgr *logger.Logger, cfg Config, client redis.Cmdable) *RedisQueue {
	cfg.withDefaults()
	return &RedisQueue{
		log:    lgr,
		cfg:    cfg,
		client: client,
		now:    time.Now,
		jobs:   make(map[string]Job),
	}
}

// RegisterJob must happen before Start.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.Type()]; ok {
		r.log.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
}

// Start pings Redis and launches the workers and the retry promoter.
func (r *RedisQueue) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("queue already running")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	r.cancel = stop
	r.running = true
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(runCtx, i)
	}
	r.wg.Add(1)
	go r.promoter(runCtx)

	r.log.Info("redis queue started", logger.Int("workers", r.cfg.Workers), logger.String("prefix", r.cfg.KeyPrefix))
	return nil
}

func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	}
}

// Enqueue stores payload for the job registered under msgType. It does not
// require the queue to be running, so producers may enqueue before Start.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: raw, EnqueuedAt: r.now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.key("messages"), data).Err(); err != nil {
		return "", fmt.Errorf("lpush: %w", err)
	}
	return msg.ID, nil
}

func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	_, err := r.Enqueue(ctx, msgType, payload)
	return err
}

// Stats reports the pending, delayed and dead-lettered counts.
type Stats struct {
	Pending    int64 `json:"pending"`
	Retrying   int64 `json:"retrying"`
	DeadLetter int64 `json:"dead_letter"`
}

func (r *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	var err error
	if s.Pending, err = r.client.LLen(ctx, r.key("messages")).Result(); err != nil {
		return s, err
	}
	if s.Retrying, err = r.client.ZCard(ctx, r.key("retry")).Result(); err != nil {
		return s, err
	}
	s.DeadLetter, err = r.client.LLen(ctx, r.key("dlq")).Result()
	return s, err
}

// DeadLetters returns up to n dead-lettered messages, newest first.
func (r *RedisQueue) DeadLetters(ctx context.Context, n int64) ([]Message, error) {
	raw, err := r.client.LRange(ctx, r.key("dlq"), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(raw))
	for _, s := range raw {
		var m Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *RedisQueue) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		res, err := r.client.BRPop(ctx, time.Second, r.key("messages")).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			r.log.Error("queue brpop", logger.Int("worker", id), logger.Error(err))
			sleep(ctx, time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.log.Error("queue message undecodable", logger.Error(err))
			continue
		}
		r.process(ctx, msg)
	}
}

// process runs the job, then schedules a retry or dead-letters on failure.
func (r *RedisQueue) process(ctx context.Context, msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		msg.LastError = "no job registered"
		r.deadLetter(ctx, msg)
		return
	}

	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		// Put it back untouched; it will run after restart.
		r.push(context.Background(), r.key("messages"), msg)
		return
	}

	msg.Attempts++
	msg.LastError = err.Error()
	if msg.Attempts > r.cfg.RetryLimit {
		r.log.Error("queue message dead-lettered",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int("attempts", msg.Attempts),
			logger.Error(err),
		)
		r.deadLetter(ctx, msg)
		return
	}

	due := r.now().Add(r.cfg.retryDelay(msg.Attempts))
	data, _ := json.Marshal(msg)
	if zerr := r.client.ZAdd(ctx, r.key("retry"), redis.Z{Score: float64(due.UnixMilli()), Member: data}).Err(); zerr != nil {
		r.log.Error("queue schedule retry", logger.String("id", msg.ID), logger.Error(zerr))
		return
	}
	r.log.Warn("queue message retry scheduled",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts),
		logger.Time("due", due),
	)
}

func (r *RedisQueue) deadLetter(ctx context.Context, msg Message) {
	r.push(ctx, r.key("dlq"), msg)
}

func (r *RedisQueue) push(ctx context.Context, key string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := r.client.LPush(ctx, key, data).Err(); err != nil {
		r.log.Error("queue lpush", logger.String("key", key), logger.Error(err))
	}
}

func (r *RedisQueue) promoter(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(r.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.PromoteDue(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("queue promote retries", logger.Error(err))
			}
		}
	}
}

// PromoteDue moves retries whose due time has passed back onto the pending list.
func (r *RedisQueue) PromoteDue(ctx context.Context) error {
	due, err := r.client.ZRangeByScore(ctx, r.key("retry"), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(r.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, member := range due {
		// ZRem wins the race when several engines share a prefix.
		removed, err := r.client.ZRem(ctx, r.key("retry"), member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := r.client.LPush(ctx, r.key("messages"), member).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisQueue) key(suffix string) string {
	return r.cfg.KeyPrefix + ":" + suffix
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

var _ Publisher = (*RedisQueue)(nil)
