// Package httpapi mounts the six HTTP endpoints spec.md §6 requires the
// core to expose, a thin JSON translation layer over Orchestrator,
// Selector, and the share-token and chat collaborators. Grounded on the
// retrieved Alfred gateway's chi router: request-id, panic recovery, and a
// structured request logger ahead of the routes.
package httpapi

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/windowmeet/core/internal/authz"
	"github.com/windowmeet/core/internal/chatadapter"
	"github.com/windowmeet/core/internal/orchestrator"
	"github.com/windowmeet/core/internal/reminder"
	"github.com/windowmeet/core/internal/sharetoken"
	"github.com/windowmeet/core/internal/store"
)

// Deps bundles the collaborators the boundary routes into. Chat may be nil
// if the Chat Adapter is disabled, in which case /webhook/<secret> and the
// chat-rendering half of /api/share answer accordingly.
type Deps struct {
	Orch          *orchestrator.Orchestrator
	Authz         *authz.Authorizer
	Store         store.Store
	Share         *sharetoken.Store
	Dispatcher    *reminder.Dispatcher
	Chat          *chatadapter.Adapter
	WebhookPath   string
	WebhookSecret string
	TriggerToken  string
	Log           *slog.Logger
}

// NewRouter builds the chi router exposing spec.md §6's six endpoints.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(d.Log))

	h := &handlers{Deps: d}

	r.Post("/api/event/create", h.createEvent)
	r.Post("/api/event/confirm", h.confirmEvent)
	r.Post("/api/event/get-best-time", h.getBestTime)
	r.Post("/api/share", h.share)
	r.Post("/api/reminders", h.triggerReminders)

	if d.Chat != nil {
		path := d.WebhookPath
		if path == "" {
			path = "/webhook/{secret}"
		}
		r.Post(path, requireWebhookSecret(d.WebhookSecret, d.Chat.Handler()))
	}

	return r
}

// requireWebhookSecret rejects any request whose {secret} path parameter
// does not match the configured webhook secret, before it ever reaches the
// bot's own webhook handler (which performs no such check itself).
func requireWebhookSecret(want string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := chi.URLParam(r, "secret")
		if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	}
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(rw, req)
			log.Info("http request",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("request_id", chimw.GetReqID(req.Context())),
				slog.Int("status", rw.Status()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
