// Package handlers exposes the treasury core over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/aspis-finance/treasury/api/metrics"
	"github.com/aspis-finance/treasury/vault/pkg/audit"
	"github.com/aspis-finance/treasury/vault/pkg/vault"
)

// Config holds the API configuration.
type Config struct {
	Logger   *slog.Logger
	Treasury *vault.Treasury
	Audit    *audit.Store // optional; if nil, the events feed is disabled

	// AllowUnsigned trusts the actor header without a signature. Development
	// only; never enable in production.
	AllowUnsigned bool

	// MaxClockSkew bounds how far a signed request timestamp may drift from
	// server time. Defaults to 5 minutes.
	MaxClockSkew time.Duration

	// RateLimit caps mutating requests per client IP. Zero disables limiting.
	RateLimit rate.Limit
	RateBurst int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Treasury == nil {
		return errors.New("treasury is required")
	}
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = 5 * time.Minute
	}
	if cfg.RateLimit > 0 && cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	return nil
}

// API carries the dependencies shared by all handlers.
type API struct {
	log      *slog.Logger
	cfg      Config
	treasury *vault.Treasury
	audit    *audit.Store
	limiter  *RateLimiter
}

func New(cfg Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &API{
		log:      cfg.Logger,
		cfg:      cfg,
		treasury: cfg.Treasury,
		audit:    cfg.Audit,
	}
	if cfg.RateLimit > 0 {
		a.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return a, nil
}

// Router builds the chi router with all routes and middleware attached.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", HeaderActor, HeaderTimestamp, HeaderSignature},
		MaxAge:         300,
	}))

	r.Get("/healthz", a.Healthz)
	r.Get("/version", GetVersion)

	r.Route("/pools", func(r chi.Router) {
		r.Get("/", a.ListPools)
		r.With(a.Authenticated, a.RateLimited).Post("/", a.CreatePool)

		r.Route("/{poolID}", func(r chi.Router) {
			r.Get("/", a.GetPool)

			mutating := r.With(a.Authenticated, a.RateLimited)
			mutating.Post("/deposits", a.Deposit)
			mutating.Post("/withdrawals", a.Withdraw)
			mutating.Post("/transfers", a.TransferShareToken)
			mutating.Post("/pause", a.TogglePause)
			mutating.Post("/roles", a.GrantRole)

			r.Route("/proposals", func(r chi.Router) {
				r.Get("/", a.ListProposals)
				r.With(a.Authenticated, a.RateLimited).Post("/", a.CreateProposal)

				r.Route("/{proposalID}", func(r chi.Router) {
					r.Get("/", a.GetProposal)
					mutating := r.With(a.Authenticated, a.RateLimited)
					mutating.Post("/votes", a.Vote)
					mutating.Post("/execute", a.ExecuteProposal)
					mutating.Post("/metadata", a.AnnotateProposal)
				})
			})
		})
	})

	r.Get("/events", a.ListEvents)

	return r
}

// Healthz reports liveness.
func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		a.log.Error("failed to write healthz response", "error", err)
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeErr maps core errors onto HTTP statuses. The error text carries the
// detail; the status distinguishes the kind.
func (a *API) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, vault.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, vault.ErrNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, vault.ErrPaused):
		status = http.StatusLocked
	case errors.Is(err, vault.ErrAlreadyVoted),
		errors.Is(err, vault.ErrNotEnoughVotes),
		errors.Is(err, vault.ErrInvalidProposal):
		status = http.StatusConflict
	case errors.Is(err, vault.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, vault.ErrInvalidRecipient),
		errors.Is(err, vault.ErrWrongPool):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		a.log.Error("handler error", "path", r.URL.Path, "error", err)
	}
	a.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}
