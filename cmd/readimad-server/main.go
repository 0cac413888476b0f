package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/EmbeddedMhawar/Readimad/internal/config"
	"github.com/EmbeddedMhawar/Readimad/internal/grpcapi"
	"github.com/EmbeddedMhawar/Readimad/internal/httpapi"
	"github.com/EmbeddedMhawar/Readimad/internal/metrics"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/service"
)

func main() {
	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "readimad-server ", log.LstdFlags|log.LUTC)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry := service.NewRegistryService(b.ledger, b.events, service.RegistryConfig{
		Logger:        logger,
		Metrics:       metrics.New(reg),
		LedgerTimeout: cfg.LedgerTimeout,
		MaxBatchSize:  cfg.MaxBatchSize,
	})

	if cfg.Env == "dev" {
		if err := service.SeedDev(ctx, registry, service.SeedDevOptions{RedeemedSerials: cfg.SeedRedeemed}); err != nil {
			return err
		}
	}

	pruner := service.NewEventPruner(b.events, service.PrunerConfig{
		RetentionDays: cfg.EventRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:   logger,
		Addr:     cfg.HTTPAddr,
		Registry: registry,
		Gatherer: reg,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.GRPCAddr != "" {
		hs := grpcapi.NewServer(grpcapi.Dependencies{
			Logger:   logger,
			Addr:     cfg.GRPCAddr,
			Registry: registry,
		})
		g.Go(hs.Start)
		g.Go(func() error {
			hs.Monitor(gctx)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			hs.Shutdown()
			return nil
		})
	}

	err = g.Wait()
	logger.Printf("shutdown complete")
	return err
}
