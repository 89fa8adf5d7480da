package audit

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-offers/internal/common"
	"github.com/noah-isme/toko-offers/internal/obs"
)

// Recorder records requests after they have been handled.
type Recorder struct {
	Service Service
	Logger  zerolog.Logger
}

// RouteConfig customises the entry produced for a route.
type RouteConfig struct {
	Action          string
	ResourceType    string
	ResourceIDParam string
	MetadataFunc    func(*http.Request, int) map[string]any
}

// Middleware returns a chi middleware that audits the wrapped route. Failures
// to record are logged and never change the response.
func (r Recorder) Middleware(cfg RouteConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !r.Service.Enabled {
				next.ServeHTTP(w, req)
				return
			}
			rec := obs.NewStatusRecorder(w)
			next.ServeHTTP(rec, req)

			var resourceID string
			if cfg.ResourceIDParam != "" {
				resourceID = chi.URLParam(req, cfg.ResourceIDParam)
			}
			var metadata []byte
			if cfg.MetadataFunc != nil {
				if payload := cfg.MetadataFunc(req, rec.Status()); payload != nil {
					metadata, _ = json.Marshal(payload)
				}
			}
			if err := r.Service.Record(req.Context(), actorOf(req), cfg.Action, cfg.ResourceType, resourceID, req, rec.Status(), metadata); err != nil {
				r.Logger.Warn().Err(err).Str("path", req.URL.Path).Msg("audit record failed")
			}
		})
	}
}

func actorOf(req *http.Request) Actor {
	if userID, ok := common.UserID(req.Context()); ok && userID != "" {
		return Actor{Kind: ActorKindUser, UserID: userID}
	}
	return Actor{Kind: ActorKindAnonymous}
}
