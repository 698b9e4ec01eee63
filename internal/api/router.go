package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/enaupload/internal/api/middleware"
	"github.com/kiranshivaraju/enaupload/internal/api/response"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	CreateJob      http.HandlerFunc
	CreateShortcut http.HandlerFunc
	ListJobs       http.HandlerFunc
	GetJob         http.HandlerFunc
	JobStatus      http.HandlerFunc
	JobChildren    http.HandlerFunc
	EnqueueJob     http.HandlerFunc
	ReleaseJob     http.HandlerFunc
	CancelJob      http.HandlerFunc
	ModifyJob      http.HandlerFunc
	ReleaseAll     http.HandlerFunc

	ListFiles http.HandlerFunc
	GetFile   http.HandlerFunc

	CreateAnalysis   http.HandlerFunc
	ListAnalysis     http.HandlerFunc
	GetAnalysis      http.HandlerFunc
	DeleteAnalysis   http.HandlerFunc
	AnalysisStatus   http.HandlerFunc
	EnqueueAnalysis  http.HandlerFunc
	AnalysisManifest http.HandlerFunc
	ValidateAnalysis http.HandlerFunc

	CreateAnalysisFile http.HandlerFunc
	ListAnalysisFiles  http.HandlerFunc
	GetAnalysisFile    http.HandlerFunc
	DeleteAnalysisFile http.HandlerFunc

	GetEnvironment   http.HandlerFunc
	SetEnvironment   http.HandlerFunc
	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Route("/api/v1/jobs", func(r chi.Router) {
			r.Post("/", orNotImplemented(deps.CreateJob))
			r.Get("/", orNotImplemented(deps.ListJobs))
			r.Post("/shortcuts/{shortcut}", orNotImplemented(deps.CreateShortcut))
			r.Post("/release-all", orNotImplemented(deps.ReleaseAll))

			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", orNotImplemented(deps.GetJob))
				r.Get("/status", orNotImplemented(deps.JobStatus))
				r.Get("/children", orNotImplemented(deps.JobChildren))
				r.Post("/enqueue", orNotImplemented(deps.EnqueueJob))
				r.Post("/release", orNotImplemented(deps.ReleaseJob))
				r.Post("/cancel", orNotImplemented(deps.CancelJob))
				r.Post("/modify", orNotImplemented(deps.ModifyJob))
			})
		})

		r.Get("/api/v1/files", orNotImplemented(deps.ListFiles))
		r.Get("/api/v1/files/{fileID}", orNotImplemented(deps.GetFile))

		r.Route("/api/v1/analysis", func(r chi.Router) {
			r.Post("/", orNotImplemented(deps.CreateAnalysis))
			r.Get("/", orNotImplemented(deps.ListAnalysis))

			r.Route("/{analysisID}", func(r chi.Router) {
				r.Get("/", orNotImplemented(deps.GetAnalysis))
				r.Delete("/", orNotImplemented(deps.DeleteAnalysis))
				r.Get("/status", orNotImplemented(deps.AnalysisStatus))
				r.Post("/enqueue", orNotImplemented(deps.EnqueueAnalysis))
				r.Get("/manifest", orNotImplemented(deps.AnalysisManifest))
				r.Post("/validate", orNotImplemented(deps.ValidateAnalysis))
			})
		})

		r.Post("/api/v1/analysis-files", orNotImplemented(deps.CreateAnalysisFile))
		r.Get("/api/v1/analysis-files", orNotImplemented(deps.ListAnalysisFiles))
		r.Get("/api/v1/analysis-files/{fileID}", orNotImplemented(deps.GetAnalysisFile))
		r.Delete("/api/v1/analysis-files/{fileID}", orNotImplemented(deps.DeleteAnalysisFile))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Get("/api/v1/admin/environment", orNotImplemented(deps.GetEnvironment))
			r.Put("/api/v1/admin/environment", orNotImplemented(deps.SetEnvironment))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
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
