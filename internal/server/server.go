// Package server assembles all HTTP handlers and starts the server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/matthewbaird/rentals/internal/handler"
	"github.com/matthewbaird/rentals/internal/invite"
	"github.com/matthewbaird/rentals/internal/lease"
	"github.com/matthewbaird/rentals/internal/ledger"
	"github.com/matthewbaird/rentals/internal/notify"
	"github.com/matthewbaird/rentals/internal/payment"
	"github.com/matthewbaird/rentals/internal/store"
)

// Deps holds the services the routes are served from.
type Deps struct {
	Store    *store.Store
	Ledger   *ledger.Service
	Payments *payment.Service
	Invites  *invite.Service
	Leases   *lease.Service
	Hub      *notify.Hub
	Logger   zerolog.Logger
}

// Config holds server configuration.
type Config struct {
	Port int
	Deps Deps
}

// NewRouter registers every route on a chi router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(handler.Recovery(d.Logger))
	r.Use(handler.Logging(d.Logger))
	r.Use(handler.Actor(d.Store))

	r.Get("/healthz", handler.Health(d.Store))

	ph := handler.NewPaymentHandler(d.Payments)
	lh := handler.NewLeaseHandler(d.Leases, d.Ledger)
	ih := handler.NewInviteHandler(d.Invites)
	nh := handler.NewNotificationHandler(d.Store, d.Hub)
	ah := handler.NewActivityHandler(d.Store.Activity(), d.Store)

	r.Route("/v1", func(r chi.Router) {
		// --- Payments ---
		r.Post("/payments/stk/callback", ph.Callback)
		r.Post("/payments/stk/initiate", ph.Initiate)
		r.Get("/payments/{id}", ph.Get)

		// --- Leases & ledger ---
		r.Post("/leases", lh.CreateLease)
		r.Get("/leases", lh.ListLeases)
		r.Get("/leases/{id}", lh.GetLease)
		r.Post("/leases/{id}/end", lh.EndLease)
		r.Get("/leases/{id}/rent-status", lh.RentStatus)
		r.Get("/leases/{id}/payments", ph.ListForLease)
		r.Get("/dashboard/summary", lh.DashboardSummary)

		// --- Invites ---
		r.Post("/invites", ih.CreateInvite)
		r.Get("/invites", ih.ListInvites)
		r.Post("/manager-invites", ih.CreateManagerInvite)
		r.Get("/invites/{token}", ih.Retrieve)
		r.Post("/invites/{token}/verify-otp", ih.VerifyOTP)
		r.Post("/invites/{token}/accept", ih.Accept)
		r.Post("/invites/{token}/cancel", ih.Cancel)

		// --- Notifications ---
		r.Get("/notifications", nh.List)
		r.Get("/notifications/stream", nh.Stream)
		r.Post("/notifications/{id}/read", nh.MarkRead)

		// --- Activity ---
		r.Get("/activity", ah.EntityActivity)
	})
	return r
}

// Run serves the router until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg Config) error {
	log := cfg.Deps.Logger.With().Str("component", "server").Logger()
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(cfg.Deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("starting server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
