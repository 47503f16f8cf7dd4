// Package server assembles the services, handlers and background workers
// into one application.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/catalog"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/circulation"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/consistency"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/journal"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/mail"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/membership"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/notification"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/platform/config"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/subscription"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/web"
)

// SessionTTL is how long a login lasts.
const SessionTTL = 14 * 24 * time.Hour

// App holds every long-lived component of the process.
type App struct {
	Config *config.Config
	DB     *store.DB
	Logger *slog.Logger

	Hub      *notification.Hub
	Outbox   *mail.Outbox
	Sessions *web.Sessions
	Renderer *web.Renderer
	Checker  *consistency.Checker

	Notifications notification.Service
	Catalog       catalog.Service
	Circulation   circulation.Service
	Members       membership.Service
	Subscriptions subscription.Service
}

type options struct {
	now func() time.Time
}

type Option func(*options)

// WithClock overrides the time source of every service.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New wires the services on db. The returned App has not started any
// background work; see Run.
func New(cfg *config.Config, db *store.DB, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, DB: db, Logger: logger}
	a.Hub = notification.NewHub(logger)
	a.Outbox = mail.NewOutbox(cfg.Email.From, cfg.Email.ReplyTo).WithClock(o.now)
	a.Sessions = web.NewSessions(cfg.SecretKey, SessionTTL, !cfg.Debug).WithClock(o.now)
	a.Checker = consistency.NewChecker(db, logger)

	a.Notifications = notification.NewService(db, a.Hub, notification.WithClock(o.now))
	a.Catalog = catalog.NewService(db, catalog.WithClock(o.now))
	a.Circulation = circulation.NewService(db, journal.New(), a.Notifications, a.Outbox, cfg.Location,
		circulation.WithClock(o.now),
		circulation.WithLogger(logger),
	)
	a.Members = membership.NewService(db, a.Circulation,
		membership.WithClock(o.now),
		membership.WithLoginLimit(cfg.LoginAttemptsPerMinute),
	)
	a.Sessions.WithAccounts(membership.NewSessionAccounts(a.Members))
	a.Subscriptions = subscription.NewService(db, a.Notifications, a.Outbox, cfg.Location, subscription.WithClock(o.now))

	rd, err := web.NewRenderer(a.Notifications, cfg.Location, logger)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	a.Renderer = rd
	return a, nil
}

// Router builds the HTTP routes.
func (a *App) Router() http.Handler {
	catalogH := catalog.NewHandler(a.Catalog, circulation.NewPatron(a.Circulation), a.Renderer)
	membersH := membership.NewHandler(a.Members, a.Sessions, a.Renderer)
	subsH := subscription.NewHandler(a.Subscriptions, a.Renderer, a.Config.Location)
	circH := circulation.NewHandler(a.Circulation, a.Members, a.Subscriptions, a.Sessions, a.Renderer, a.Config.Location)
	notifH := notification.NewHandler(a.Notifications, a.Hub, a.Members, a.Renderer)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(web.RequestLogger(a.Logger))
	r.Use(middleware.Recoverer)
	r.Use(web.AllowedHosts(a.Config.AllowedHosts))
	r.Use(a.Sessions.Load)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.Renderer.Error(w, r, http.StatusNotFound, "Page not found.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		a.Renderer.Error(w, r, http.StatusMethodNotAllowed, "Method not allowed.")
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		a.Renderer.Render(w, r, http.StatusOK, "home.html", web.Page{})
	})
	r.Get("/healthz", a.handleHealth)
	r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(a.Config.MediaDir))))

	membersH.Routes(r)

	r.Group(func(r chi.Router) {
		r.Use(web.RequireLogin)
		catalogH.Routes(r)
		circH.Routes(r)
		subsH.Routes(r)
		notifH.Routes(r)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(a.Renderer.RequireAdmin)
		catalogH.AdminRoutes(r)
		membersH.AdminRoutes(r)
		subsH.AdminRoutes(r)
		circH.AdminRoutes(r)
		notifH.AdminRoutes(r)
	})
	return r
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := a.DB.PingContext(ctx); err != nil {
		a.Logger.WarnContext(ctx, "health check failed", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
