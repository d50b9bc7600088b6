package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// requestMeta carries identifiers discovered deeper in the chain back to the
// access log. Context values only flow inward, so the auth middleware fills
// in a shared pointer instead.
type requestMeta struct {
	mu     sync.Mutex
	userID *uuid.UUID
}

type requestMetaKey struct{}

func withRequestMeta(ctx context.Context) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, &requestMeta{})
}

// annotateUser records the authenticated user for the request's log line.
func annotateUser(ctx context.Context, id uuid.UUID) {
	if meta, ok := ctx.Value(requestMetaKey{}).(*requestMeta); ok {
		meta.mu.Lock()
		meta.userID = &id
		meta.mu.Unlock()
	}
}

func loggedUser(ctx context.Context) (uuid.UUID, bool) {
	meta, ok := ctx.Value(requestMetaKey{}).(*requestMeta)
	if !ok {
		return uuid.Nil, false
	}
	meta.mu.Lock()
	defer meta.mu.Unlock()
	if meta.userID == nil {
		return uuid.Nil, false
	}
	return *meta.userID, true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Logger writes one access log line per request: method, matched route, and
// the identifiers this API cares about, which user touched which analysis
// job or training plan.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := withRequestMeta(r.Context())

		next.ServeHTTP(rec, r.WithContext(ctx))

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", rec.bytes,
			"remote_addr", r.RemoteAddr,
		}
		// The route context is populated during routing, so the pattern and
		// params are available once the handler returns.
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				attrs = append(attrs, "route", pattern)
			}
			if jobID := rctx.URLParam("jobID"); jobID != "" {
				attrs = append(attrs, "job_id", jobID)
			}
			if planID := rctx.URLParam("planID"); planID != "" {
				attrs = append(attrs, "plan_id", planID)
			}
		}
		if userID, ok := loggedUser(ctx); ok {
			attrs = append(attrs, "user_id", userID)
		}
		slog.Info("request", attrs...)
	})
}
