// Package audit keeps a trail of administrative changes: range edits,
// restocks and dead-letter replays.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/noah-isme/toko-offers/internal/obs"
)

// ActorKind represents the source of an audited action.
type ActorKind string

const (
	ActorKindUser      ActorKind = "user"
	ActorKindSystem    ActorKind = "system"
	ActorKindAnonymous ActorKind = "anonymous"
)

// ErrStoreRequired is returned when an enabled Service has no Store.
var ErrStoreRequired = errors.New("audit: store not configured")

// Actor describes who performed the action.
type Actor struct {
	Kind   ActorKind
	UserID string
}

// Entry is one audited request.
type Entry struct {
	ID           uuid.UUID       `json:"id"`
	ActorKind    ActorKind       `json:"actor_kind"`
	ActorID      string          `json:"actor_id,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Status       int             `json:"status"`
	IP           string          `json:"ip,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Store persists entries, newest first on read.
type Store interface {
	InsertEntry(ctx context.Context, e Entry) error
	ListEntries(ctx context.Context, limit, offset int) ([]Entry, error)
}

// Service records audit entries when enabled.
type Service struct {
	Store        Store
	Enabled      bool
	SamplingRate float64
	Now          func() time.Time
}

// Record persists an entry for req. Sampled-out requests return nil.
func (s Service) Record(ctx context.Context, actor Actor, action, resourceType, resourceID string, req *http.Request, status int, metadata []byte) error {
	if !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 && rand.Float64() > s.SamplingRate {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return ErrStoreRequired
	}
	if status == 0 {
		status = http.StatusOK
	}
	route := obs.RoutePattern(req)
	if route == "unmatched" {
		route = req.URL.Path
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	entry := Entry{
		ID:           uuid.New(),
		ActorKind:    normalizeActorKind(actor.Kind),
		ActorID:      strings.TrimSpace(actor.UserID),
		Action:       buildAction(action, req.Method, route),
		ResourceType: buildResource(resourceType, route),
		ResourceID:   strings.TrimSpace(resourceID),
		Method:       req.Method,
		Path:         req.URL.Path,
		Status:       status,
		IP:           remoteIP(req),
		RequestID:    middleware.GetReqID(ctx),
		Metadata:     toJSON(metadata, req.URL.RawQuery),
		CreatedAt:    now().UTC(),
	}
	if entry.RequestID == "" {
		entry.RequestID = strings.TrimSpace(req.Header.Get(middleware.RequestIDHeader))
	}
	return s.Store.InsertEntry(ctx, entry)
}

func buildAction(action, method, route string) string {
	if trimmed := strings.TrimSpace(action); trimmed != "" {
		return trimmed
	}
	if route == "" {
		route = "/"
	}
	return strings.ToUpper(method) + " " + route
}

// buildResource derives "admin.stock-records" style names from the route.
func buildResource(resourceType, route string) string {
	if trimmed := strings.TrimSpace(resourceType); trimmed != "" {
		return trimmed
	}
	route = strings.Trim(strings.TrimSpace(route), "/")
	if route == "" {
		return "unknown"
	}
	var kept []string
	for i, seg := range strings.Split(route, "/") {
		if (i == 0 && seg == "api") || (i == 1 && seg == "v1") || strings.HasPrefix(seg, "{") {
			continue
		}
		kept = append(kept, seg)
	}
	if len(kept) == 0 {
		return "unknown"
	}
	return strings.Join(kept, ".")
}

func normalizeActorKind(kind ActorKind) ActorKind {
	switch kind {
	case ActorKindUser, ActorKindSystem:
		return kind
	default:
		return ActorKindAnonymous
	}
}

func remoteIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func toJSON(metadata []byte, query string) json.RawMessage {
	if len(metadata) > 0 {
		return metadata
	}
	if strings.TrimSpace(query) == "" {
		return nil
	}
	data, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil
	}
	return data
}

// MemoryStore keeps entries in process for fixture mode.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// InsertEntry implements Store.
func (m *MemoryStore) InsertEntry(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

// ListEntries implements Store.
func (m *MemoryStore) ListEntries(_ context.Context, limit, offset int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		return nil, nil
	}
	out := make([]Entry, 0, limit)
	for i := len(m.entries) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}
