package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-offers/internal/audit"
	"github.com/noah-isme/toko-offers/internal/common"
)

type failingStore struct{ audit.MemoryStore }

func (*failingStore) InsertEntry(context.Context, audit.Entry) error { return errors.New("db down") }

func TestServiceRecord(t *testing.T) {
	store := &audit.MemoryStore{}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := audit.Service{Store: store, Enabled: true, SamplingRate: 1, Now: func() time.Time { return now }}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/stock-records/abc?reason=count", nil)
	req.RemoteAddr = "10.0.0.2:54321"
	req.Header.Set("X-Request-Id", "req-123")
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{"/api/v1/admin/stock-records/{id}"}
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	require.NoError(t, svc.Record(req.Context(), audit.Actor{Kind: audit.ActorKindUser, UserID: "admin-1"}, "", "", "abc", req, 0, nil))

	rows, err := store.ListEntries(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	e := rows[0]
	require.Equal(t, audit.ActorKindUser, e.ActorKind)
	require.Equal(t, "admin-1", e.ActorID)
	require.Equal(t, "PUT /api/v1/admin/stock-records/{id}", e.Action)
	require.Equal(t, "admin.stock-records", e.ResourceType)
	require.Equal(t, http.StatusOK, e.Status)
	require.Equal(t, "10.0.0.2", e.IP)
	require.Equal(t, "req-123", e.RequestID)
	require.Equal(t, now, e.CreatedAt)
	require.JSONEq(t, `{"query":"reason=count"}`, string(e.Metadata))
}

func TestServiceDisabledAndMisconfigured(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	require.NoError(t, audit.Service{}.Record(req.Context(), audit.Actor{}, "", "", "", req, 200, nil))
	err := audit.Service{Enabled: true}.Record(req.Context(), audit.Actor{}, "", "", "", req, 200, nil)
	require.ErrorIs(t, err, audit.ErrStoreRequired)
}

func TestRecorderMiddleware(t *testing.T) {
	store := &audit.MemoryStore{}
	rec := audit.Recorder{Service: audit.Service{Store: store, Enabled: true}}

	r := chi.NewRouter()
	r.With(rec.Middleware(audit.RouteConfig{
		Action:          "range.create",
		ResourceType:    "range",
		ResourceIDParam: "id",
		MetadataFunc: func(_ *http.Request, status int) map[string]any {
			return map[string]any{"status": status}
		},
	})).Post("/ranges/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/ranges/r-1", nil)
	req = req.WithContext(common.WithUserID(req.Context(), "admin-1"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	rows, err := store.ListEntries(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "range.create", rows[0].Action)
	require.Equal(t, "r-1", rows[0].ResourceID)
	require.Equal(t, http.StatusCreated, rows[0].Status)
	require.JSONEq(t, `{"status":201}`, string(rows[0].Metadata))

	failing := audit.Recorder{Service: audit.Service{Store: &failingStore{}, Enabled: true}, Logger: zerolog.Nop()}
	h := failing.Middleware(audit.RouteConfig{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/x", nil))
	require.Equal(t, http.StatusNoContent, w.Code, "store failures never change the response")
}

func TestHandlerList(t *testing.T) {
	store := &audit.MemoryStore{}
	for _, action := range []string{"a", "b", "c"} {
		require.NoError(t, store.InsertEntry(context.Background(), audit.Entry{Action: action}))
	}
	w := httptest.NewRecorder()
	audit.Handler{Store: store}.List(w, httptest.NewRequest(http.MethodGet, "/audit?limit=2&offset=-4", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []audit.Entry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	require.Equal(t, "c", resp.Data[0].Action, "newest first")

	w = httptest.NewRecorder()
	audit.Handler{}.List(w, httptest.NewRequest(http.MethodGet, "/audit", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
}
