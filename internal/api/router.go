package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/tryon/internal/api/middleware"
	"github.com/kiranshivaraju/tryon/internal/api/response"
)

// ResultsPrefix is the URL path result artifacts are served under.
const ResultsPrefix = "/static/results"

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	// RateLimit is optional; nil disables upload rate limiting.
	RateLimit *mw.RateLimit

	RootHandler   http.HandlerFunc
	HealthHandler http.HandlerFunc
	UploadHandler http.HandlerFunc
	StatusHandler http.HandlerFunc
	Results       http.Handler
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/", orNotImplemented(deps.RootHandler))
	r.Get("/healthz", orNotImplemented(deps.HealthHandler))
	r.Get("/status/{taskID}", orNotImplemented(deps.StatusHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}
		r.Post("/upload", orNotImplemented(deps.UploadHandler))
	})

	if deps.Results != nil {
		r.Handle(ResultsPrefix+"/*", http.StripPrefix(ResultsPrefix, deps.Results))
	}

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "Endpoint not yet implemented")
	}
}
