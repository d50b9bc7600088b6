package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/anavarrete/formcoach/internal/api/middleware"
	"github.com/anavarrete/formcoach/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler         http.HandlerFunc
	ListTechniquesHandler http.HandlerFunc
	CreateAnalysisHandler http.HandlerFunc
	GetAnalysisHandler    http.HandlerFunc
	RetryAnalysisHandler  http.HandlerFunc
	SynthesizePlanHandler http.HandlerFunc
	GetPlanHandler        http.HandlerFunc
	ReapHandler           http.HandlerFunc

	// MediaDir, when set, is served read-only under /media for local
	// object storage deployments.
	MediaDir string
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	if deps.MediaDir != "" {
		r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(deps.MediaDir))))
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/techniques", orNotImplemented(deps.ListTechniquesHandler))

		r.Post("/api/v1/analyses", orNotImplemented(deps.CreateAnalysisHandler))
		r.Get("/api/v1/analyses/{jobID}", orNotImplemented(deps.GetAnalysisHandler))
		r.Post("/api/v1/analyses/{jobID}/retry", orNotImplemented(deps.RetryAnalysisHandler))

		r.Post("/api/v1/analyses/{jobID}/plan", orNotImplemented(deps.SynthesizePlanHandler))
		r.Get("/api/v1/plans/{planID}", orNotImplemented(deps.GetPlanHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/reap", orNotImplemented(deps.ReapHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
