package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielpatrickdp/brakeguard/internal/backend"
	"github.com/danielpatrickdp/brakeguard/internal/config"
	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/observability"
	"github.com/danielpatrickdp/brakeguard/internal/serve"
)

func main() {
	paramsPath := flag.String("params", envOr("BRAKEGUARD_PARAMS", "params.yaml"), "path to params YAML")
	flag.Parse()

	os.Exit(run(*paramsPath))
}

// run serves until a signal arrives or a server fails. Listeners come up before the model
// loads, so liveness answers during startup while readiness stays false.
func run(paramsPath string) int {
	cfg, err := config.Load(paramsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	logger := observability.InitLogger(observability.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.Info("starting inference service")

	m, err := observability.InitMetrics()
	if err != nil {
		logger.Error("init metrics", slog.String("error", err.Error()))
		return 1
	}
	pm, err := serve.NewPredictMetrics(m.Provider)
	if err != nil {
		logger.Error("init predict metrics", slog.String("error", err.Error()))
		return 1
	}
	svc := serve.NewService(logger, pm)

	httpServer := &http.Server{
		Addr:         cfg.Serve.HTTPAddr,
		Handler:      serve.NewHTTPServer(svc, m.Handler, logger),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	grpcServer := serve.NewGRPCServer(svc, logger)

	lis, err := net.Listen("tcp", cfg.Serve.GRPCAddr)
	if err != nil {
		logger.Error("listen grpc", slog.String("address", cfg.Serve.GRPCAddr), slog.String("error", err.Error()))
		return 1
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("gRPC server starting", slog.String("address", cfg.Serve.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	go func() {
		logger.Info("HTTP server starting", slog.String("address", cfg.Serve.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Signals are watched from here on so an interrupt also cancels a slow model load.
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := 0
	if err := loadModel(sigCtx, cfg, svc, logger); err != nil {
		if sigCtx.Err() != nil {
			logger.Info("received shutdown signal during model load")
		} else {
			svc.Fail(err)
			code = exitCode(err)
		}
	} else {
		select {
		case <-sigCtx.Done():
			logger.Info("received shutdown signal")
		case err := <-errCh:
			logger.Error("server error", slog.String("error", err.Error()))
			code = 1
		}
	}
	stop()

	logger.Info("shutting down inference service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	grpcServer.GracefulStop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
	}
	if err := m.Provider.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", slog.String("error", err.Error()))
	}

	logger.Info("inference service stopped")
	return code
}

// loadModel resolves and loads the configured run within cfg.Serve.LoadTimeout, then starts serving.
// Cancelling parent abandons the load.
func loadModel(parent context.Context, cfg config.Config, svc *serve.Service, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(parent, cfg.Serve.LoadTimeout)
	defer cancel()

	b, err := backend.Open(ctx, cfg.Tracking)
	if err != nil {
		return err
	}
	defer b.Close()

	bnd, run, err := serve.LoadBundle(ctx, b.Artifacts, b.Tracker, cfg.Serve.RunID, cfg.Tracking.Experiment)
	if err != nil {
		return err
	}
	if err := svc.Load(bnd, run); err != nil {
		return err
	}
	logger.Info("loaded run", slog.String("run_id", run.ID.String()), slog.String("experiment", run.Experiment))
	return svc.Serve()
}

func exitCode(err error) int {
	if fault.Is(err, fault.Config) {
		return 2
	}
	return 1
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
