package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/punchamoorthee/ledgersend/internal/api"
	"github.com/punchamoorthee/ledgersend/internal/config"
	"github.com/punchamoorthee/ledgersend/internal/ledger"
	"github.com/punchamoorthee/ledgersend/internal/log"
	"github.com/punchamoorthee/ledgersend/internal/notary"
	"github.com/punchamoorthee/ledgersend/internal/quote"
	"github.com/punchamoorthee/ledgersend/internal/remote"
	"github.com/punchamoorthee/ledgersend/internal/retry"
	"github.com/punchamoorthee/ledgersend/internal/service"
	"github.com/punchamoorthee/ledgersend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Init(log.Options{LogLevel: zerolog.InfoLevel, Out: os.Stderr})
		log.Root.Fatal().Err(err).Msg("invalid configuration")
	}
	initLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		log.Root.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer db.Close()

	// Initialize Layers
	rc := remote.NewClient(remote.Options{Timeout: cfg.HTTPTimeout})
	svc := service.NewPaymentService(
		ledger.NewClient(rc),
		notary.NewCoordinator(rc, retry.Policy{MaxAttempts: cfg.PollAttempts, Interval: cfg.PollInterval}),
		quote.NewClient(rc),
		service.WithJournal(db),
		service.WithDestinationExpiry(cfg.DestinationExpiry),
	)
	handler := api.NewHandler(svc, db)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Root.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Root.Fatal().Err(err).Msg("server failed")
	}
	log.Root.Info().Msg("server stopped")
}

func initLogging(cfg *config.Config) {
	level, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	format, err := log.ParseLoggerType(cfg.LogFormat)
	if err != nil {
		format = log.ConsoleLogger
	}
	log.Init(log.Options{LogLevel: level, Type: format, Out: os.Stderr})
}
