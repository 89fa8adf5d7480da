package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Task represents a job to be processed asynchronously.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	Attempt        int
}

// DeadLetter is a task that exhausted its attempts.
type DeadLetter struct {
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Payload        []byte    `json:"payload"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error,omitempty"`
	FailedAt       time.Time `json:"failed_at"`
}

// DeadLetterStore persists dead letters outside Redis.
type DeadLetterStore interface {
	InsertDeadLetter(ctx context.Context, dl DeadLetter) error
}

// Enqueuer publishes tasks to Redis backed queues.
type Enqueuer struct {
	R           redis.UniversalClient
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue inserts the task into the queue. If an idempotency key is supplied the
// task is only enqueued once within the configured deduplication window.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		MaxAttempts: t.MaxAttempts,
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = e.MaxAttempts
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = 10
	}
	msg.AvailableAt = time.Now().Add(t.Delay).UnixNano()

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, keys{e.Prefix}.dedup(kind, msg.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return e.R.ZAdd(ctx, keys{e.Prefix}.queue(kind), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err()
}

// DeadLetters returns up to limit dead letters of kind, newest first.
func (e Enqueuer) DeadLetters(ctx context.Context, kind string, limit int) ([]DeadLetter, error) {
	if e.R == nil {
		return nil, errors.New("queue: redis client not configured")
	}
	kind = sanitizeKind(kind)
	if kind == "" {
		return nil, errors.New("queue: task kind is required")
	}
	if limit <= 0 {
		limit = 50
	}
	raws, err := e.R.LRange(ctx, keys{e.Prefix}.dlq(kind), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(raws))
	for _, raw := range raws {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(raw), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

// Replay moves every dead letter of kind back onto the queue with a fresh
// attempt budget. It returns the number of tasks replayed.
func (e Enqueuer) Replay(ctx context.Context, kind string) (int, error) {
	if e.R == nil {
		return 0, errors.New("queue: redis client not configured")
	}
	kind = sanitizeKind(kind)
	if kind == "" {
		return 0, errors.New("queue: task kind is required")
	}
	dlqKey := keys{e.Prefix}.dlq(kind)
	replayed := 0
	for {
		raw, err := e.R.RPop(ctx, dlqKey).Result()
		if errors.Is(err, redis.Nil) {
			return replayed, nil
		}
		if err != nil {
			return replayed, err
		}
		var dl DeadLetter
		if err := json.Unmarshal([]byte(raw), &dl); err != nil {
			continue
		}
		if err := e.Enqueue(ctx, Task{Kind: kind, Payload: dl.Payload, IdempotencyKey: dl.IdempotencyKey}); err != nil {
			return replayed, err
		}
		replayed++
		deadLetterGauge.WithLabelValues(kind).Dec()
	}
}

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		if c >= 'a' && c <= 'z' {
			continue
		}
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '-' || c == '_' || c == ':' {
			continue
		}
		return ""
	}
	return kind
}

// Worker consumes tasks for a specific kind.
type Worker struct {
	R                 redis.UniversalClient
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	Handler           func(context.Context, Task) error
	RetryBase         time.Duration
	RetryJitter       float64
	DeadLetters       DeadLetterStore
	Logger            zerolog.Logger
}

// Run starts processing tasks until the context is cancelled. Active tasks are
// tracked in a processing set to enable redelivery when workers crash.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return errors.New("queue: worker kind is required")
	}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	retryBase := w.RetryBase
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}

	k := keys{w.Prefix}
	queueKey := k.queue(kind)
	processingKey := k.processing(kind)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	sweep := visibility / 2
	if sweep < 10*time.Millisecond {
		sweep = 10 * time.Millisecond
	}
	requeueTicker := time.NewTicker(sweep)
	defer requeueTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-requeueTicker.C:
			if err := w.requeueExpired(ctx, processingKey, queueKey); err != nil {
				return err
			}
			if depth, err := w.R.ZCard(ctx, queueKey).Result(); err == nil {
				depthGauge.WithLabelValues(kind).Set(float64(depth))
			}
		default:
		}

		res, err := w.R.ZPopMin(ctx, queueKey, 1).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				wg.Wait()
				return nil
			}
			if errors.Is(err, redis.Nil) {
				sleepCtx(ctx, 100*time.Millisecond)
				continue
			}
			return err
		}
		if len(res) == 0 {
			sleepCtx(ctx, 100*time.Millisecond)
			continue
		}
		member, ok := res[0].Member.(string)
		if !ok {
			continue
		}
		msg, err := decodeMessage(member)
		if err != nil {
			w.Logger.Warn().Err(err).Str("kind", kind).Msg("dropping undecodable task")
			continue
		}
		now := time.Now().UnixNano()
		if msg.AvailableAt > now {
			// not due yet, push back and wait
			w.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: member})
			sleep := time.Duration(msg.AvailableAt - now)
			if sleep > time.Second {
				sleep = time.Second
			}
			sleepCtx(ctx, sleep)
			continue
		}

		msg.Attempt++
		rawBytes, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		raw := string(rawBytes)
		deadline := time.Now().Add(visibility)
		if err := w.R.ZAdd(ctx, processingKey, redis.Z{Score: float64(deadline.UnixNano()), Member: raw}).Err(); err != nil {
			return err
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(raw string, m taskMessage) {
			defer func() { <-sem }()
			defer wg.Done()
			jobCtx, cancel := context.WithDeadline(ctx, deadline)
			defer cancel()
			err := w.Handler(jobCtx, Task{Kind: kind, Payload: m.Payload, IdempotencyKey: m.Key, MaxAttempts: m.MaxAttempts, Attempt: m.Attempt})
			// bookkeeping must survive the job deadline
			bgCtx := context.WithoutCancel(ctx)
			if err != nil {
				w.handleFailure(bgCtx, queueKey, processingKey, raw, m, retryBase, err)
				return
			}
			w.ack(bgCtx, processingKey, raw, m)
		}(raw, msg)
	}
}

func (w Worker) handleFailure(ctx context.Context, queueKey, processingKey, raw string, msg taskMessage, base time.Duration, cause error) {
	removed, _ := w.R.ZRem(ctx, processingKey, raw).Result()
	if removed == 0 {
		// already redelivered by the visibility sweep
		return
	}
	log := w.Logger.With().Str("kind", msg.Kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Logger()
	if msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts {
		dl := DeadLetter{
			Kind:           msg.Kind,
			IdempotencyKey: msg.Key,
			Payload:        msg.Payload,
			Attempts:       msg.Attempt,
			LastError:      cause.Error(),
			FailedAt:       time.Now().UTC(),
		}
		if encoded, err := json.Marshal(dl); err == nil {
			_ = w.R.LPush(ctx, keys{w.Prefix}.dlq(msg.Kind), encoded).Err()
		}
		if w.DeadLetters != nil {
			if err := w.DeadLetters.InsertDeadLetter(ctx, dl); err != nil {
				log.Error().Err(err).Msg("persist dead letter")
			}
		}
		if msg.Key != "" {
			_ = w.R.Del(ctx, keys{w.Prefix}.dedup(msg.Kind, msg.Key)).Err()
		}
		processedTotal.WithLabelValues(msg.Kind, "dead").Inc()
		deadLetterGauge.WithLabelValues(msg.Kind).Inc()
		log.Error().Err(cause).Msg("task moved to dead letters")
		return
	}
	delay := Backoff(base, msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	rawBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = w.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: string(rawBytes)}).Err()
	processedTotal.WithLabelValues(msg.Kind, "retry").Inc()
	log.Warn().Err(cause).Dur("delay", delay).Msg("task failed, retrying")
}

func (w Worker) ack(ctx context.Context, processingKey, raw string, msg taskMessage) {
	_ = w.R.ZRem(ctx, processingKey, raw).Err()
	if msg.Key != "" {
		_ = w.R.Del(ctx, keys{w.Prefix}.dedup(msg.Kind, msg.Key)).Err()
	}
	processedTotal.WithLabelValues(msg.Kind, "ok").Inc()
}

func (w Worker) requeueExpired(ctx context.Context, processingKey, queueKey string) error {
	now := float64(time.Now().UnixNano())
	due, err := w.R.ZRangeByScore(ctx, processingKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range due {
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		if removed, _ := w.R.ZRem(ctx, processingKey, raw).Result(); removed == 0 {
			continue
		}
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err()
		w.Logger.Warn().Str("kind", msg.Kind).Int("attempt", msg.Attempt).Msg("task visibility expired, requeued")
	}
	return nil
}

type keys struct {
	prefix string
}

func (k keys) queue(kind string) string {
	if k.prefix == "" {
		return fmt.Sprintf("queue:%s", kind)
	}
	return fmt.Sprintf("%s:queue:%s", k.prefix, kind)
}

func (k keys) processing(kind string) string {
	if k.prefix == "" {
		return fmt.Sprintf("queue:%s:processing", kind)
	}
	return fmt.Sprintf("%s:%s:processing", k.prefix, kind)
}

func (k keys) dlq(kind string) string {
	if k.prefix == "" {
		return fmt.Sprintf("queue:%s:dlq", kind)
	}
	return fmt.Sprintf("%s:%s:dlq", k.prefix, kind)
}

func (k keys) dedup(kind, key string) string {
	if k.prefix == "" {
		return fmt.Sprintf("queue:dedup:%s:%s", kind, key)
	}
	return fmt.Sprintf("%s:dedup:%s:%s", k.prefix, kind, key)
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}
