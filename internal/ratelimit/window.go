package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one attempt.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether one more request for key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Window counts attempts per key over a sliding window kept in a Redis sorted
// set. Rejected attempts still count, so a caller hammering a key stays out
// until it backs off for a full window.
type Window struct {
	Client redis.Cmdable
	Prefix string
	Size   time.Duration
	Max    int
	Now    func() time.Time
}

// Allow records an attempt for key.
func (w Window) Allow(ctx context.Context, key string) (Decision, error) {
	now := w.now()
	if w.Client == nil || w.Max <= 0 || w.Size <= 0 {
		return Decision{Allowed: true, Limit: w.Max, Remaining: w.Max, ResetAt: now.Add(w.Size)}, nil
	}

	redisKey := w.Prefix + key
	cutoff := strconv.FormatInt(now.Add(-w.Size).UnixNano(), 10)

	pipe := w.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+cutoff)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	count := pipe.ZCard(ctx, redisKey)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.PExpire(ctx, redisKey, w.Size)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Limit: w.Max, ResetAt: now.Add(w.Size)}, fmt.Errorf("ratelimit: %w", err)
	}

	current := int(count.Val())
	reset := now.Add(w.Size)
	if first := oldest.Val(); len(first) == 1 {
		reset = time.Unix(0, int64(first[0].Score)).Add(w.Size)
	}
	remaining := w.Max - current
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: current <= w.Max, Limit: w.Max, Remaining: remaining, ResetAt: reset}, nil
}

func (w Window) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}
