package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/toko-offers/internal/common"
	"github.com/noah-isme/toko-offers/internal/queue"
)

// GuardedSender sends mail through a breaker, retrying transient failures a
// few times before giving up. Once the breaker opens, sends fail fast with
// ErrOpenCircuit and the queue reschedules the task.
type GuardedSender struct {
	Sender      common.EmailSender
	Breaker     *Breaker
	MaxAttempts int
	BaseBackoff time.Duration
	Sleep       func(time.Duration)
}

var _ common.EmailSender = GuardedSender{}

// Send implements common.EmailSender.
func (g GuardedSender) Send(to, subject, html string) error {
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := g.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	send := func(context.Context) error { return g.Sender.Send(to, subject, html) }

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if g.Breaker != nil {
			err = g.Breaker.Do(context.Background(), send)
		} else {
			err = send(context.Background())
		}
		if err == nil || errors.Is(err, ErrOpenCircuit) {
			return err
		}
		if attempt < attempts {
			sleep(queue.Backoff(g.BaseBackoff, attempt, 0.2))
		}
	}
	return err
}
