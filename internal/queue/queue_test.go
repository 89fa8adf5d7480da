package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-offers/internal/queue"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type deadLetters struct {
	mu      sync.Mutex
	entries []queue.DeadLetter
}

func (d *deadLetters) InsertDeadLetter(_ context.Context, dl queue.DeadLetter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, dl)
	return nil
}

func (d *deadLetters) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func TestEnqueueDequeue(t *testing.T) {
	client := newClient(t)
	enq := queue.Enqueuer{R: client, Prefix: "test"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "demo", Payload: []byte("payload"), IdempotencyKey: "1"}))
	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "demo", Payload: []byte("payload"), IdempotencyKey: "1"}))
	depth, err := client.ZCard(ctx, "test:queue:demo").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth, "duplicate idempotency keys are dropped")

	processed := make(chan queue.Task, 1)
	worker := queue.Worker{
		R:                 client,
		Prefix:            "test",
		Kind:              "demo",
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		RetryBase:         10 * time.Millisecond,
		Handler: func(ctx context.Context, task queue.Task) error {
			processed <- task
			cancel()
			return nil
		},
	}

	go func() {
		_ = worker.Run(ctx)
	}()

	select {
	case task := <-processed:
		require.Equal(t, []byte("payload"), task.Payload)
		require.Equal(t, 1, task.Attempt)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for payload")
	}
}

func TestEnqueueRejectsBadKind(t *testing.T) {
	client := newClient(t)
	enq := queue.Enqueuer{R: client}
	require.Error(t, enq.Enqueue(context.Background(), queue.Task{Kind: "Bad Kind"}))
	require.Error(t, queue.Enqueuer{}.Enqueue(context.Background(), queue.Task{Kind: "demo"}))
}

func TestWorkerRetries(t *testing.T) {
	client := newClient(t)
	enq := queue.Enqueuer{R: client, Prefix: "retry"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "demo", Payload: []byte("retry"), IdempotencyKey: "r1", MaxAttempts: 3}))

	var attempts atomic.Int32
	worker := queue.Worker{
		R:                 client,
		Prefix:            "retry",
		Kind:              "demo",
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		RetryBase:         5 * time.Millisecond,
		RetryJitter:       0.1,
		Handler: func(ctx context.Context, task queue.Task) error {
			if attempts.Add(1) == 1 {
				return errors.New("fail first")
			}
			cancel()
			return nil
		},
	}

	go func() { _ = worker.Run(ctx) }()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not retry in time")
	}

	require.GreaterOrEqual(t, attempts.Load(), int32(2))
}

func TestDeadLettersAndReplay(t *testing.T) {
	client := newClient(t)
	store := &deadLetters{}
	enq := queue.Enqueuer{R: client, Prefix: "dlq", MaxAttempts: 2}
	ctx, cancel := context.WithCancel(context.Background())

	worker := queue.Worker{
		R:                 client,
		Prefix:            "dlq",
		Kind:              "alerts",
		VisibilityTimeout: time.Second,
		RetryBase:         5 * time.Millisecond,
		DeadLetters:       store,
		Handler: func(context.Context, queue.Task) error {
			return errors.New("smtp down")
		},
	}
	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{Kind: "alerts", Payload: []byte("body"), IdempotencyKey: "a1"}))
	require.Eventually(t, func() bool { return store.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	entries, err := enq.DeadLetters(context.Background(), "alerts", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a1", entries[0].IdempotencyKey)
	require.Equal(t, 2, entries[0].Attempts)
	require.Equal(t, "smtp down", entries[0].LastError)
	require.Equal(t, []byte("body"), entries[0].Payload)

	n, err := enq.Replay(context.Background(), "alerts")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	depth, err := client.ZCard(context.Background(), "dlq:queue:alerts").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
	entries, err = enq.DeadLetters(context.Background(), "alerts", 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestVisibilityTimeoutRequeue(t *testing.T) {
	client := newClient(t)
	enq := queue.Enqueuer{R: client, Prefix: "vis", DedupTTL: time.Minute, MaxAttempts: 3}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := make(chan int, 4)
	worker := queue.Worker{
		R:                 client,
		Prefix:            "vis",
		Kind:              "slow",
		Concurrency:       2,
		VisibilityTimeout: 100 * time.Millisecond,
		RetryBase:         10 * time.Millisecond,
		Handler: func(jobCtx context.Context, task queue.Task) error {
			attempts <- task.Attempt
			if task.Attempt == 1 {
				<-jobCtx.Done()
				return jobCtx.Err()
			}
			cancel()
			return nil
		},
	}

	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{Kind: "slow", Payload: []byte("payload"), IdempotencyKey: "v1"}))

	require.Equal(t, 1, <-attempts)
	select {
	case second := <-attempts:
		require.Equal(t, 2, second)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not redelivered")
	}
	<-done
}

func TestBackoff(t *testing.T) {
	require.Equal(t, 10*time.Millisecond, queue.Backoff(10*time.Millisecond, 1, 0))
	require.Equal(t, 40*time.Millisecond, queue.Backoff(10*time.Millisecond, 3, 0))
	require.Equal(t, 100*time.Millisecond, queue.Backoff(0, 0, 0))
	d := queue.Backoff(100*time.Millisecond, 2, 0.5)
	require.GreaterOrEqual(t, d, 100*time.Millisecond)
	require.LessOrEqual(t, d, 300*time.Millisecond)
}
