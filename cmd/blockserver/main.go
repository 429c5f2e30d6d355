package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blockserver/internal/config"
	"blockserver/internal/dbpool"
	"blockserver/internal/logging"
	"blockserver/internal/metrics"
	"blockserver/internal/server"
	"blockserver/internal/transfer"
	"blockserver/internal/workerpool"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func Run(ctx context.Context, args []string) error {

	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	logCfg, err := logging.Load(cfg.LoggingConfig)
	if err != nil {
		return fmt.Errorf("failed to load logging config: %w", err)
	}
	if cfg.Debug {
		logCfg.Level = "debug"
	}

	logger, logCloser, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logCloser.Close()

	slog.SetDefault(logger)

	pool, err := config.OpenPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer pool.Close()

	cache, err := config.NewCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer cache.Close()

	backend, err := config.NewTransferBackend(cfg, cache)
	if err != nil {
		return fmt.Errorf("failed to create transfer backend: %w", err)
	}

	workers := workerpool.New(cfg.Transfers)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := workers.Close(closeCtx); err != nil {
			slog.Warn("Transfers still running at exit", "err", err)
		}
	}()

	recorder := metrics.NewRecorder()

	srv, err := server.NewServer(server.NewConfig(
		server.WithBroker(dbpool.NewBroker(pool, cfg.DBAcquireTimeout)),
		server.WithAuthBackend(config.NewAuthBackend(cfg, cache)),
		server.WithDispatcher(transfer.NewDispatcher(backend, workers)),
		server.WithPolicy(cfg.Policy()),
		server.WithMetrics(recorder),
		server.WithTempDir(cfg.TempDir),
		server.WithDefaultQuota(cfg.DefaultQuota),
	))
	if err != nil {
		return fmt.Errorf("failed to create block server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.PrometheusPort),
		Handler:           recorder.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(httpServer.Shutdown(shutdownCtx), metricsServer.Shutdown(shutdownCtx))
	})

	eg.Go(func() error {
		if cfg.PrometheusPort == 0 {
			slog.Debug("Skipping metrics service because no port was configured")
			return nil
		}

		slog.Info("Starting metrics server", "port", cfg.PrometheusPort)
		err := metricsServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	eg.Go(func() error {
		slog.Info("Starting block server", "addr", httpServer.Addr, "dummy", cfg.Dummy, "debug", cfg.Debug)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("Block server started")
	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := Run(ctx, os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		slog.Error("Block server exited with error", "error", err)
		stop()
		os.Exit(1)
	}
}
