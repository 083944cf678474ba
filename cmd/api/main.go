package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/funcx-faas/action-provider/internal/config"
	"github.com/funcx-faas/action-provider/internal/db"
	"github.com/funcx-faas/action-provider/internal/executor"
	"github.com/funcx-faas/action-provider/internal/http/handler"
	"github.com/funcx-faas/action-provider/internal/lease"
	"github.com/funcx-faas/action-provider/internal/logging"
	"github.com/funcx-faas/action-provider/internal/metrics"
	"github.com/funcx-faas/action-provider/internal/observability"
	"github.com/funcx-faas/action-provider/internal/scheduler"
	"github.com/funcx-faas/action-provider/internal/service"
)

const serviceVersion = "0.1.0"

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.Config{
		ServiceName:    "funcx-action-provider",
		ServiceVersion: serviceVersion,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       true,
		SampleRate:     1,
	})
	if err != nil {
		logger.Error("init tracing failed", "err", err)
		os.Exit(1)
	}

	// 初始化存储
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	stores, err := db.OpenStores(initCtx, cfg)
	cancel()
	if err != nil {
		logger.Error("open store failed", "driver", cfg.StoreDriver, "err", err)
		os.Exit(1)
	}
	defer stores.Close()

	exec, err := executor.NewHTTPClient(executor.HTTPConfig{
		BaseURL: cfg.ExecutorURL,
		Token:   cfg.ExecutorToken,
	})
	if err != nil {
		logger.Error("init executor client failed", "err", err)
		os.Exit(1)
	}
	defer exec.Close()
	logger.Info("executor configured", "url", cfg.ExecutorURL, "token", logging.Secret(cfg.ExecutorToken))

	// 有 Redis 时启用轮询互斥与计数
	opts := service.Options{
		ResultTimeout:    cfg.ExecutorResultTimeout,
		CheckUUID:        cfg.CheckUUID,
		LogSensitiveData: cfg.LogSensitiveData,
	}
	var rec metrics.Recorder = metrics.Nop{}
	if stores.Redis != nil {
		locker := lease.NewManager(stores.Redis, "").WithRoundTTL(cfg.RoundLeaseTTL)
		opts.Locker = locker
		rec = metrics.NewRedisRecorder(stores.Redis)
		logger.Info("round lease enabled", "owner", locker.Owner(), "ttl", cfg.RoundLeaseTTL)
	}
	opts.Metrics = rec
	svc := service.NewActionService(exec, stores.Groups, opts)

	// 内存存储只有本进程可见，由本进程自己清理
	if local := stores.LocalReaper(); local != nil {
		reaper, err := scheduler.NewReaper(local, scheduler.Options{
			Spec:     cfg.ReaperSpec,
			Timezone: cfg.ReaperTimezone,
			Metrics:  rec,
		})
		if err != nil {
			logger.Error("new reaper failed", "err", err)
			os.Exit(1)
		}
		reaper.Start()
		defer func() { <-reaper.Stop().Done() }()
	}

	// 组装路由
	schema, err := handler.NewInputSchema()
	if err != nil {
		logger.Error("compile input schema failed", "err", err)
		os.Exit(1)
	}
	pingers := map[string]handler.Pinger{}
	for name, p := range stores.Pingers() {
		pingers[name] = p
	}
	engine := handler.NewRouter(handler.RouterDeps{
		URLPrefix: cfg.URLPrefix,
		Provider:  handler.NewProviderHandler(cfg.Provider, schema),
		Actions:   handler.NewActionHandler(svc, schema),
		Health:    handler.NewHealthHandler(pingers),
		Metrics:   handler.NewMetricsHandler(rec),
		Limiter:   handler.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Logger:    logger.With("component", "http"),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting api server", "addr", srv.Addr, "prefix", cfg.URLPrefix, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "err", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing shutdown failed", "err", err)
	}
}
