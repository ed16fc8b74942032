package main

import (
	"net/http"

	"github.com/diewo77/go-brokerage/auth"
	"github.com/diewo77/go-brokerage/httpx"
	"github.com/diewo77/go-brokerage/internal/handlers"
	"github.com/diewo77/go-brokerage/internal/policy"
	"github.com/diewo77/go-brokerage/internal/reporting"
	"github.com/diewo77/go-brokerage/internal/services"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// App is the main application handler that sets up all routes.
type App struct {
	router chi.Router
	secret string
	gate   *policy.AuthGate
	svc    *services.Services
	db     *gorm.DB
}

// NewApp creates a new application with all routes configured.
func NewApp(db *gorm.DB, svc *services.Services, ag *policy.AuthGate, secret string) *App {
	app := &App{
		router: chi.NewRouter(),
		secret: secret,
		gate:   ag,
		svc:    svc,
		db:     db,
	}
	app.setupRoutes()
	return app
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	auth.Middleware(a.secret)(a.router).ServeHTTP(w, r)
}

func (a *App) setupRoutes() {
	r := a.router

	// ─────────────────────────────────────────────────────────────────────────
	// Public routes (no auth required)
	// ─────────────────────────────────────────────────────────────────────────
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/payments/return", handlers.NewPaymentHandler(a.svc.Settlements).Return)

	// ─────────────────────────────────────────────────────────────────────────
	// Contract routes (require logged-in user, party checks run in the services)
	// ─────────────────────────────────────────────────────────────────────────
	deposits := handlers.NewDepositHandler(a.svc.Deposits)
	purchases := handlers.NewPurchaseHandler(a.svc.Purchases)
	rentals := handlers.NewRentalHandler(a.svc.Rentals)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Route("/deposit-contracts", deposits.Routes)
		r.Route("/purchase-contracts", purchases.Routes)
		r.Route("/rental-contracts", rentals.Routes)
	})

	// ─────────────────────────────────────────────────────────────────────────
	// Admin routes
	// ─────────────────────────────────────────────────────────────────────────
	admin := handlers.NewAdminHandler(a.svc, reporting.NewStore(a.db), nil)
	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.RequireAuth, a.gate.RequireAdmin())
		admin.Routes(r)
	})
}
