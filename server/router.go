package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouteMounter lets agent packages attach their sub-routers without the
// server package importing them.
type RouteMounter func(chi.Router)

// Routes constructs the HTTP router with the auth endpoints and any agent
// mounts supplied by the caller.
func (a *App) Routes(mounts ...RouteMounter) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	r.Use(CORSMiddleware(a.Config.Server.CORS, a.Config.InferCORSOrigins()))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware())
	}

	r.Get("/", a.handleIndex)
	r.Get("/healthz", a.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", a.handleLogin)
		r.Get("/callback", a.handleCallback)
		r.Get("/status", a.handleStatus)
		r.Post("/logout", a.handleLogout)
	})

	if a.Dev != nil {
		r.Mount("/dev/oauth2", a.Dev.Routes())
	}

	for _, mount := range mounts {
		mount(r)
	}

	return r
}
