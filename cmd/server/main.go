package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/matthewbaird/rentals/internal/config"
	"github.com/matthewbaird/rentals/internal/event"
	"github.com/matthewbaird/rentals/internal/eventbus"
	"github.com/matthewbaird/rentals/internal/gateway"
	"github.com/matthewbaird/rentals/internal/invite"
	"github.com/matthewbaird/rentals/internal/lease"
	"github.com/matthewbaird/rentals/internal/ledger"
	"github.com/matthewbaird/rentals/internal/notify"
	"github.com/matthewbaird/rentals/internal/payment"
	"github.com/matthewbaird/rentals/internal/platform/otel"
	"github.com/matthewbaird/rentals/internal/server"
	"github.com/matthewbaird/rentals/internal/store"
	"github.com/matthewbaird/rentals/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if err := run(ctx, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, logger zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}
	zerolog.DefaultContextLogger = &logger

	shutdownTracing, err := otel.Setup(ctx, "rentals", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("flushing traces")
		}
	}()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("running schema migration: %w", err)
	}
	logger.Info().Msg("database migrated successfully")

	bus := eventbus.New(256, logger)
	bus.Subscribe("log", eventbus.NewLogConsumer(logger))
	recorder := event.NewActivityRecorder(st.Activity())
	recorder.SetPublisher(bus)

	hub := notify.NewHub(logger)
	sink := notify.NewStoreSink(st, hub, logger)
	gw := gateway.New(cfg.Gateway, logger, gateway.WithLocation(cfg.Location()))

	ledgerSvc := ledger.NewService(st, sink, cfg.Location(), logger, ledger.WithRecorder(recorder))
	paymentSvc := payment.NewService(st, gw, sink, cfg.Location(), logger,
		payment.WithRecorder(recorder),
		payment.WithGatewayTimeout(cfg.Gateway.Timeout()),
	)
	inviteSvc := invite.NewService(st, sink, invite.Settings{
		TTL:             cfg.InviteTTL(),
		CodeTTL:         cfg.OTPTTL(),
		CodeDigits:      cfg.OTPDigits,
		FrontendBaseURL: cfg.FrontendBaseURL,
	}, logger, invite.WithRecorder(recorder))
	leaseSvc := lease.NewService(st, logger, lease.WithRecorder(recorder))

	bus.Subscribe("ledger-refresh", worker.NewLedgerRefresher(ledgerSvc, logger))

	sweeper := worker.NewSweeper(cfg.SweepInterval(), logger,
		worker.Job{Name: "expire-invites", Run: inviteSvc.ExpireDue},
		worker.Job{Name: "expire-stale-payments", Run: func(ctx context.Context) (int, error) {
			return paymentSvc.ExpireStale(ctx, cfg.StalePaymentAfter())
		}},
		worker.Job{Name: "scan-overdue", Run: ledgerSvc.ScanOverdue},
	)

	bus.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, server.Config{
			Port: cfg.Port,
			Deps: server.Deps{
				Store:    st,
				Ledger:   ledgerSvc,
				Payments: paymentSvc,
				Invites:  inviteSvc,
				Leases:   leaseSvc,
				Hub:      hub,
				Logger:   logger,
			},
		})
	})
	g.Go(func() error { return sweeper.Run(gctx) })

	err = g.Wait()
	bus.Stop()
	return err
}
