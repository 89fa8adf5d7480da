package repo

import (
	"context"

	"github.com/noah-isme/toko-offers/internal/audit"
)

// AuditStore persists the admin audit trail. It implements audit.Store.
type AuditStore struct {
	DB DB
}

// InsertEntry appends e.
func (s AuditStore) InsertEntry(ctx context.Context, e audit.Entry) error {
	if s.DB == nil {
		return ErrStoreUnavailable
	}
	var metadata any
	if len(e.Metadata) > 0 {
		metadata = []byte(e.Metadata)
	}
	_, err := s.DB.Exec(ctx, `INSERT INTO audit_entries
(id, actor_kind, actor_id, action, resource_type, resource_id, method, path, status, ip, request_id, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, string(e.ActorKind), e.ActorID, e.Action, e.ResourceType, e.ResourceID,
		e.Method, e.Path, e.Status, e.IP, e.RequestID, metadata, e.CreatedAt)
	return err
}

// ListEntries returns entries newest first.
func (s AuditStore) ListEntries(ctx context.Context, limit, offset int) ([]audit.Entry, error) {
	if s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.DB.Query(ctx, `SELECT id, actor_kind, actor_id, action, resource_type, resource_id,
       method, path, status, ip, request_id, metadata, created_at
FROM audit_entries ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, clampPositive(limit, 1, 200), max(offset, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []audit.Entry
	for rows.Next() {
		var (
			e        audit.Entry
			kind     string
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &kind, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.Method, &e.Path, &e.Status, &e.IP, &e.RequestID, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorKind = audit.ActorKind(kind)
		e.Metadata = metadata
		out = append(out, e)
	}
	return out, rows.Err()
}
