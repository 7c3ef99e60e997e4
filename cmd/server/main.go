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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"smartmetal/internal/config"
	"smartmetal/internal/domain"
	"smartmetal/internal/handler"
	_ "smartmetal/internal/llm/claude"
	_ "smartmetal/internal/llm/gemini"
	_ "smartmetal/internal/llm/openai"
	"smartmetal/internal/logger"
	"smartmetal/internal/normalize"
	"smartmetal/internal/notify"
	"smartmetal/internal/port"
	"smartmetal/internal/repository/postgres"
	"smartmetal/internal/router"
	"smartmetal/internal/service"
	s3storage "smartmetal/internal/storage/s3"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	lg, err := logger.New(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = lg.Sync() }()
	zap.ReplaceGlobals(lg)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Model normalization is optional; without backends every document is
	// extracted raw-only.
	var normalizer service.Normalizer
	n, err := normalize.NewFromConfig(cfg, lg)
	switch {
	case errors.Is(err, domain.ErrNoModelBackends):
		lg.Warn("no model backends configured; running raw-only")
	case err != nil:
		return fmt.Errorf("failed to initialize normalizer: %w", err)
	default:
		normalizer = n
	}

	// Run recording is optional.
	var runRepo port.ExtractionRunRepository
	var pinger handler.Pinger
	if cfg.DB.Host != "" {
		db, err := postgres.NewDB(&cfg.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		runRepo = postgres.NewExtractionRunRepo(db)
		pinger = db
	} else {
		lg.Info("database not configured; extraction runs will not be recorded")
	}

	s3Client, err := s3storage.NewS3Client(&cfg.S3)
	if err != nil {
		return fmt.Errorf("failed to initialize S3 client: %w", err)
	}

	notifier, err := notify.New(&cfg.Notify, lg)
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}

	extractionSvc := service.NewExtractionService(&cfg.Extraction, normalizer, runRepo, s3Client, notifier, lg)

	extractionH := handler.NewExtractionHandler(extractionSvc, cfg.S3.Bucket)
	healthH := handler.NewHealthHandler(pinger)

	r := router.Setup(cfg, extractionH, healthH, lg)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		lg.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
