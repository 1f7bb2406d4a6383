package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/tradeguard/internal/api"
	"github.com/punchamoorthee/tradeguard/internal/config"
	"github.com/punchamoorthee/tradeguard/internal/gateway"
	"github.com/punchamoorthee/tradeguard/internal/logger"
	"github.com/punchamoorthee/tradeguard/internal/policy"
	"github.com/punchamoorthee/tradeguard/internal/reputation"
	"github.com/punchamoorthee/tradeguard/internal/service"
	"github.com/punchamoorthee/tradeguard/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithConfig(cfg.Log)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("tradeguard exited")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := cfg.Settings()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var rep reputation.Provider
	if cfg.Reputation.BaseURL != "" {
		rep = reputation.NewClient(cfg.Reputation, log.With().Str("component", "reputation").Logger())
	} else {
		log.Warn().Msg("no reputation service configured, every release needs QR proof")
		rep = reputation.NewStatic(policy.TrustSignals{})
	}

	gw := gateway.NewStub(log.With().Str("component", "gateway").Logger())
	svc := service.New(st, rep, gw, log, settings)
	handler := api.NewHandler(svc, st, api.NewAuthenticator(cfg.JWTSecret), log)
	if cfg.JWTSecret == "" {
		log.Warn().Msg("AUTH_JWT_SECRET unset, trusting X-Actor-ID headers")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("driver", cfg.DBDriver).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return service.NewWorker(svc, cfg.WorkerInterval, log).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		return store.OpenSQLite(ctx, cfg.DBSource)
	default:
		pg, err := store.NewPostgresStore(ctx, cfg.DBSource)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return pg, nil
	}
}
