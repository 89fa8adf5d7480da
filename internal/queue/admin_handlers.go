package queue

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-offers/internal/common"
)

// AdminHandler exposes queue inspection endpoints for operators.
type AdminHandler struct {
	Queue    Enqueuer
	PageSize int
	Logger   zerolog.Logger
}

func (h *AdminHandler) kind(w http.ResponseWriter, r *http.Request) (string, bool) {
	kind := sanitizeKind(strings.TrimSpace(chi.URLParam(r, "kind")))
	if kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "kind is required", nil)
		return "", false
	}
	return kind, true
}

// ListDLQ handles GET /admin/queues/{kind}/dlq.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue unavailable", nil)
		return
	}
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	limit := common.QueryInt(r.URL.Query().Get("limit"), h.pageSize(), 200)
	if limit <= 0 {
		limit = h.pageSize()
	}
	entries, err := h.Queue.DeadLetters(r.Context(), kind, limit)
	if err != nil {
		h.Logger.Error().Err(err).Str("kind", kind).Msg("list dead letters")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "list dead letters failed", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"kind": kind, "data": entries})
}

// ReplayDLQ handles POST /admin/queues/{kind}/dlq/replay.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue unavailable", nil)
		return
	}
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	n, err := h.Queue.Replay(r.Context(), kind)
	if err != nil {
		h.Logger.Error().Err(err).Str("kind", kind).Int("replayed", n).Msg("replay dead letters")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "replay failed", map[string]int{"replayed": n})
		return
	}
	h.Logger.Info().Str("kind", kind).Int("replayed", n).Msg("dead letters replayed")
	common.JSON(w, http.StatusOK, map[string]any{"kind": kind, "replayed": n})
}

// Stats handles GET /admin/queues/{kind}.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue unavailable", nil)
		return
	}
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	k := keys{h.Queue.Prefix}
	ready, err := h.Queue.R.ZCard(ctx, k.queue(kind)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	inflight, err := h.Queue.R.ZCard(ctx, k.processing(kind)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	dead, err := h.Queue.R.LLen(ctx, k.dlq(kind)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}

	var lagMillis int64
	oldest, err := h.Queue.R.ZRangeWithScores(ctx, k.queue(kind), 0, 0).Result()
	if err == nil && len(oldest) > 0 {
		ts := time.Unix(0, int64(oldest[0].Score))
		if ts.Before(time.Now()) {
			lagMillis = time.Since(ts).Milliseconds()
		}
	}
	depthGauge.WithLabelValues(kind).Set(float64(ready))
	deadLetterGauge.WithLabelValues(kind).Set(float64(dead))

	common.JSON(w, http.StatusOK, map[string]any{
		"kind":          kind,
		"ready":         ready,
		"processing":    inflight,
		"dlq":           dead,
		"oldest_lag_ms": lagMillis,
	})
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}
