package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/jwaldner/chainsense/internal/app"
	"github.com/jwaldner/chainsense/internal/config"
	"github.com/jwaldner/chainsense/internal/handlers"
	"github.com/jwaldner/chainsense/internal/logger"
)

func main() {
	cfg := config.Load()

	if err := logger.InitWithOptions(logger.Options{
		Level:      cfg.Logging.LogLevel,
		File:       cfg.Logging.LogFile,
		Format:     cfg.Logging.Format,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    cfg.Logging.Console,
	}); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logger.Always.Printf("🚀 Chainsense options sentiment server starting - Port: %s", cfg.Port)

	if logger.IsVerbose() {
		fmt.Printf("⚠️  VERBOSE LOGGING ENABLED - provider requests will be logged to %s\n", cfg.Logging.LogFile)
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer a.Close()
	logger.Always.Printf("📡 Provider: %s (retries %d, backoff %v, cache size %d)",
		a.Manager.GetProviderName(), cfg.Provider.RetryAttempts, cfg.Provider.RetryBackoff, cfg.Cache.Size)

	reportHandler, err := handlers.NewReportHandler(a.Reports, a.Manager, cfg.TemplatesDir)
	if err != nil {
		log.Fatalf("❌ Failed to load templates: %v", err)
	}

	r := mux.NewRouter()
	reportHandler.Register(r)

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Always.Printf("🌐 Listening on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Always.Printf("🛑 Shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error.Printf("❌ Shutdown failed: %v", err)
		}
	case err := <-errCh:
		if err != nil {
			logger.Error.Printf("❌ Server failed: %v", err)
		}
	}

	logger.Always.Printf("%s", a.Manager.GetPerformanceReport())
}
