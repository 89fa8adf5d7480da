package repo

import (
	"context"
	"strings"

	"github.com/noah-isme/toko-offers/internal/queue"
)

// DeadLetterStore archives tasks that exhausted their attempts. It
// implements queue.DeadLetterStore.
type DeadLetterStore struct {
	DB DB
}

// InsertDeadLetter persists dl.
func (s DeadLetterStore) InsertDeadLetter(ctx context.Context, dl queue.DeadLetter) error {
	if s.DB == nil {
		return ErrStoreUnavailable
	}
	var lastError any
	if dl.LastError != "" {
		lastError = dl.LastError
	}
	_, err := s.DB.Exec(ctx, `INSERT INTO queue_dead_letters (kind, idem_key, payload, attempts, last_error, failed_at)
VALUES ($1, $2, $3, $4, $5, $6)`, dl.Kind, dl.IdempotencyKey, dl.Payload, dl.Attempts, lastError, dl.FailedAt)
	return err
}

// CountByKind returns the archived dead letters per task kind.
func (s DeadLetterStore) CountByKind(ctx context.Context) (map[string]int64, error) {
	if s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.DB.Query(ctx, `SELECT kind, COUNT(*) FROM queue_dead_letters GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]int64)
	for rows.Next() {
		var (
			kind  string
			total int64
		)
		if err := rows.Scan(&kind, &total); err != nil {
			return nil, err
		}
		result[strings.TrimSpace(kind)] = total
	}
	return result, rows.Err()
}
