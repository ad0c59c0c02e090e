// Package api is the HTTP transport of an archivist replica.
//
// Analysts talk to the /cluster routes: they heartbeat, pull work and
// report task events. Operators use the /api/v1 routes to retry, skip,
// cancel and pause work, put analysts into maintenance and inspect
// cluster locks.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Juanbuhler/zmlp-sub000/engine"
)

// HeaderAnalystEndpoint names the analyst asking for work on
// PUT /cluster/_queue.
const HeaderAnalystEndpoint = "X-Analyst-Endpoint"

// API serves the engine over HTTP.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
	token  string
}

// Option configures an API.
type Option func(*API)

// WithOperatorToken requires token as a bearer token on /api/v1.
func WithOperatorToken(token string) Option {
	return func(a *API) { a.token = token }
}

// WithLogger sets the logger. Defaults to the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// New creates an API over eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: eng.Logger()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the chi router with all routes mounted.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", a.handleHealth)

	r.Route("/cluster", func(r chi.Router) {
		r.Post("/_ping", a.handlePing)
		r.Put("/_queue", a.handleQueue)
		r.Post("/_event", a.handleEvent)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.requireToken)

		r.Route("/tasks/{taskID}", func(r chi.Router) {
			r.Get("/", a.handleGetTask)
			r.Get("/errors", a.handleTaskErrors)
			r.Post("/_retry", a.handleRetryTask)
			r.Post("/_skip", a.handleSkipTask)
		})

		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", a.handleGetJob)
			r.Get("/tasks", a.handleJobTasks)
			r.Post("/_cancel", a.handleCancelJob)
			r.Post("/_restart", a.handleRestartJob)
			r.Post("/_pause", a.handlePauseJob)
			r.Post("/_resume", a.handleResumeJob)
		})

		r.Get("/analysts", a.handleListAnalysts)
		r.Post("/analysts/_lock", a.handleLockAnalyst)
		r.Post("/analysts/_unlock", a.handleUnlockAnalyst)

		r.Get("/locks/_expired", a.handleExpiredLocks)

		r.Get("/maintenance", a.handleListMaintenance)
		r.Post("/maintenance/{name}/_run", a.handleRunMaintenance)
	})

	return r
}

// Server returns an http.Server for addr serving Handler.
func (a *API) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Store().Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "host": a.eng.Host()})
}

func (a *API) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") && auth[len("Bearer "):] == a.token {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid operator token")
	})
}
