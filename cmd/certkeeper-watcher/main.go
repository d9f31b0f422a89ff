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

	"golang.org/x/sync/errgroup"

	"github.com/edvin/certkeeper/internal/config"
	"github.com/edvin/certkeeper/internal/db"
	"github.com/edvin/certkeeper/internal/generator"
	"github.com/edvin/certkeeper/internal/logging"
	"github.com/edvin/certkeeper/internal/metrics"
	"github.com/edvin/certkeeper/internal/notify"
	"github.com/edvin/certkeeper/internal/reloader"
	"github.com/edvin/certkeeper/internal/selector"
	"github.com/edvin/certkeeper/internal/store"
	"github.com/edvin/certkeeper/internal/watcher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("certkeeper-watcher"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	specs, err := reloader.LoadServices(cfg.ServicesFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.ServicesFile).Msg("failed to load service definitions")
	}
	if len(specs) == 0 {
		logger.Fatal().Str("file", cfg.ServicesFile).Msg("no managed services defined")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	st := store.New(pool)
	sel := selector.New(st, cfg.RenewalMargin())
	rel := reloader.New(st, logger)
	bus := notify.NewPostgresBus(pool, logger)

	layout := generator.Layout{Root: cfg.CertificateRoot}
	acme := &generator.ACMERunner{
		ToolPath:     cfg.ACMEToolPath,
		ContactEmail: cfg.ACMEContactEmail,
		Webroot:      cfg.ACMEWebroot,
		Timeout:      cfg.ACMETimeout,
	}
	gen := generator.New(st, layout, acme, cfg.RenewalMargin(), logger)

	g, gctx := errgroup.WithContext(ctx)

	for _, spec := range specs {
		svc := reloader.NewExecService(spec)
		w := watcher.New(svc, sel, st, rel, bus, cfg.MaxRetryAttempts, logger)
		g.Go(func() error { return w.Run(gctx) })
		logger.Info().Str("service", spec.Name).Strs("domains", spec.Domains).Msg("watcher started")
	}

	sweeper := watcher.NewSweeper(st, gen, cfg.RenewalMargin(), cfg.SweepInterval, logger)
	g.Go(func() error { return sweeper.Run(gctx) })

	metricsServer := metrics.NewServer(cfg.MetricsListenAddr)
	go func() {
		logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("metrics server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info().Msg("shutting down watchers")
		cancel()
	case <-gctx.Done():
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("watcher group exited with error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)
}
