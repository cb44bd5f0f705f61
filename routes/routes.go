package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/upb/authgate/app"
	authmw "github.com/upb/authgate/middleware"
	"github.com/upb/authgate/utils"
)

// Stage is one named middleware in the global pipeline
type Stage struct {
	Name       string
	Middleware func(http.Handler) http.Handler
}

// Pipeline returns the global middleware in the order it runs. Origin
// validation is the first stage that can refuse a request; the session
// envelope is decoded only for requests that passed it.
func Pipeline(deps *app.Dependencies) []Stage {
	return []Stage{
		{Name: "request_id", Middleware: middleware.RequestID},
		{Name: "recoverer", Middleware: middleware.Recoverer},
		{Name: "request_log", Middleware: authmw.RequestLogger(deps.Logger)},
		{Name: "timeout", Middleware: timeout(deps.Config.Server.RequestTimeout)},
		{Name: "trust_proxy", Middleware: authmw.TrustProxy(deps.Config.Auth.TrustProxyHops)},
		{Name: "origin", Middleware: deps.Allowlist.Middleware},
		{Name: "session", Middleware: deps.Envelope.Middleware},
	}
}

// timeout bounds request handling; a non-positive duration disables it
func timeout(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.Timeout(d)
}

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	for _, stage := range Pipeline(deps) {
		r.Use(stage.Middleware)
	}

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/login", deps.AuthHandler.HandleLogin)
		r.Post("/logout", deps.AuthHandler.HandleLogout)

		r.With(deps.AuthMiddleware.RequireAuth).Get("/me", deps.AuthHandler.HandleMe)
		r.With(deps.AuthMiddleware.OptionalAuth).Get("/session", deps.AuthHandler.HandleSession)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusNotFound, "endpoint not found", nil)
	})

	return r
}
