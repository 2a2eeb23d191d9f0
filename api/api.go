// Package api exposes the account security subsystem over REST: login
// with optional MFA challenge, vault key storage, session management,
// and login history.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/aegis/idle"
	"github.com/jmcleod/aegis/mfa"
	"github.com/jmcleod/aegis/probe"
	"github.com/jmcleod/aegis/session"
	"github.com/jmcleod/aegis/vault"
)

//go:embed openapi.yaml
var openapiSpec []byte

// API holds the dependencies needed by the REST handlers.
type API struct {
	directory  Directory
	vault      *vault.Vault
	manager    *mfa.Manager
	registry   *session.Registry
	ledger     *session.Ledger
	supervisor *idle.Supervisor
	prober     probe.Prober
	jwtSecret  []byte
	audit      *auditLogger
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events and handler
// failures. If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
		a.logger = logger
	}
}

// WithSupervisor sets the idle-session supervisor fed by the auth
// middleware. Without one, sessions get no inactivity watchdog.
func WithSupervisor(s *idle.Supervisor) Option {
	return func(a *API) {
		a.supervisor = s
	}
}

// WithProber overrides the device/location probe.
func WithProber(p probe.Prober) Option {
	return func(a *API) {
		a.prober = p
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		a.now = now
	}
}

// New creates a new API instance.
func New(directory Directory, v *vault.Vault, manager *mfa.Manager, registry *session.Registry, ledger *session.Ledger, jwtSecret []byte, opts ...Option) *API {
	a := &API{
		directory: directory,
		vault:     v,
		manager:   manager,
		registry:  registry,
		ledger:    ledger,
		prober:    probe.RequestProber{},
		jwtSecret: jwtSecret,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.audit == nil {
		a.audit = newAuditLogger(a.logger)
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/auth/login", a.Login)
	r.Post("/auth/login/mfa", a.LoginMFA)
	r.With(a.AuthMiddleware).Post("/auth/logout", a.Logout)

	r.Route("/mfa", func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Get("/", a.MFAStatus)
		r.Post("/setup", a.SetupMFA)
		r.Post("/enable", a.EnableMFA)
		r.Delete("/", a.DisableMFA)
	})

	r.Route("/keys/{name}", func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Put("/", a.PutKey)
		r.Get("/", a.GetKey)
		r.Delete("/", a.DeleteKey)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Get("/", a.ListSessions)
		r.Delete("/", a.TerminateOtherSessions)
		r.Delete("/{sessionID}", a.TerminateSession)
	})

	r.With(a.AuthMiddleware).Get("/login-history", a.LoginHistory)

	return r
}
