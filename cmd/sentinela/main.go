package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sentinela-poi/internal/config"
	"sentinela-poi/internal/logging"
	"sentinela-poi/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format, "sentinela-poi")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer logger.Sync()

	svc, err := service.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create service",
			zap.Error(err),
		)
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Single-run mode for external schedulers: one verification, then exit
	// with a status reflecting the run outcome.
	if cfg.Run.RunOnce {
		summary, err := svc.Runner.RunOnce(ctx, time.Now())
		if err != nil || summary.Failed {
			logger.Error("Verification run failed", zap.Error(err))
			svc.Close()
			logger.Sync()
			os.Exit(1)
		}
		return
	}

	serviceErrChan := make(chan error, 1)
	go func() {
		if err := svc.Runner.Start(ctx); err != nil {
			serviceErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel()
	case err := <-serviceErrChan:
		logger.Fatal("Service error",
			zap.Error(err),
		)
	}

	logger.Info("Sentinela stopped")
}
