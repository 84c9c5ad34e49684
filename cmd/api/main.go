package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"reviewpulse/api/internal/app"
	"reviewpulse/api/internal/audit"
	"reviewpulse/api/internal/classifier"
	"reviewpulse/api/internal/config"
	"reviewpulse/api/internal/enrich"
	"reviewpulse/api/internal/queue"
	"reviewpulse/api/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	dataStore := store.NewPostgresStore(db)

	// One Redis client feeds both the enrichment queue (producer and
	// consumers) and the audit channel.
	redisClient, err := queue.NewClient(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer redisClient.Close()

	workQueue := queue.New(redisClient, cfg.Enrichment.QueueKey, cfg.Enrichment.QueueCapacity)
	dispatcher := enrich.NewDispatcher(workQueue, logger)
	labelClient := classifier.New(cfg.Classifier)

	for i := 0; i < cfg.Enrichment.Workers; i++ {
		worker := enrich.NewWorker(workQueue, labelClient, dataStore, logger, enrich.WorkerOptions{
			MaxAttempts: cfg.Enrichment.MaxAttempts,
			BaseBackoff: cfg.Enrichment.BaseBackoff,
			CallTimeout: cfg.Classifier.Timeout,
		})
		go worker.Run(ctx)
	}

	recorder := audit.NewRecorder(redisClient, logger)
	drainer := audit.NewDrainer(redisClient, dataStore, logger)
	go drainer.Run(ctx)

	service := app.New(dataStore, dispatcher, recorder, logger)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("review API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("review API stopped")
}
