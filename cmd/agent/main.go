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

	"mirsal/internal/api"
	"mirsal/internal/config"
	"mirsal/internal/connectivity"
	"mirsal/internal/metrics"
	"mirsal/internal/notify"
	"mirsal/internal/queue"
	"mirsal/internal/repository"
	"mirsal/internal/storage"
	"mirsal/internal/transport"
	"mirsal/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger.InitLogger(cfg.Server.Environment)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("agent startup failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The durable store must open; the agent is useless without it.
	db, err := storage.Open(cfg.Storage)
	if err != nil {
		return err
	}

	// Redis is optional infrastructure (rate limiting, UI notifications).
	// The agent keeps capturing requests without it.
	rdb := initRedis(cfg.Redis)

	requestRepo := repository.NewRequestRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	observer := metrics.NewPrometheusObserver()
	sender := transport.NewHTTPSender()
	core := queue.NewCore(requestRepo, sender, observer, queue.Defaults{
		MaxRetries: cfg.Queue.MaxRetries,
		Timeout:    cfg.Queue.RequestTimeout,
		Priority:   cfg.Queue.DefaultPriority,
	})

	hub := queue.NewHub(cfg.Stream.EventBufferSize, cfg.Stream.HubBufferSize)
	monitor := connectivity.NewMonitor(
		cfg.Connectivity.ProbeURL,
		cfg.Connectivity.ProbeInterval,
		cfg.Connectivity.ProbeTimeout,
	)

	notifier := notify.Multi{notify.LogNotifier{}}
	if rdb != nil && cfg.Notify.Channel != "" {
		notifier = append(notifier, notify.NewRedisNotifier(rdb, cfg.Notify.Channel))
	}

	manager := queue.NewManager(core, monitor, notifier, hub, auditRepo, queue.ManagerConfig{
		SendImmediate: cfg.Queue.SendImmediate,
		DrainInterval: cfg.Queue.DrainInterval,
	})

	go func() {
		logger.Info("starting event hub")
		hub.Run()
	}()
	go func() {
		logger.Info("starting connectivity monitor")
		monitor.Run(ctx)
	}()
	go func() {
		logger.Info("starting queue manager")
		manager.Run(ctx)
	}()

	r := api.RegisterRoutes(
		api.NewQueueHandler(manager, auditRepo),
		api.NewStreamHandler(manager),
		api.NewAuditHandler(auditRepo),
		rdb,
		api.RouterConfig{
			SigningKey:        cfg.Auth.SigningKey,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		},
	)

	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("agent listening",
			zap.String("addr", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment),
			zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down agent...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("agent exited properly")
	return nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Warn("redis unreachable, rate limiting and notifications degraded", zap.Error(err))
	}
	return rdb
}
