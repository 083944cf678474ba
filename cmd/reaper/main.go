package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/funcx-faas/action-provider/internal/config"
	"github.com/funcx-faas/action-provider/internal/db"
	"github.com/funcx-faas/action-provider/internal/lease"
	"github.com/funcx-faas/action-provider/internal/logging"
	"github.com/funcx-faas/action-provider/internal/metrics"
	"github.com/funcx-faas/action-provider/internal/scheduler"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	stores, err := db.OpenStores(initCtx, cfg)
	cancel()
	if err != nil {
		logger.Error("open store failed", "driver", cfg.StoreDriver, "err", err)
		os.Exit(1)
	}
	defer stores.Close()

	if stores.Reaper == nil {
		logger.Info("store expires groups natively, nothing to reap", "driver", cfg.StoreDriver)
		return
	}
	if stores.LocalReaper() != nil {
		logger.Info("memory store is reaped inside the api process, nothing to do here")
		return
	}

	opts := scheduler.Options{
		Spec:     cfg.ReaperSpec,
		Timezone: cfg.ReaperTimezone,
	}
	if stores.Redis != nil {
		opts.Locker = lease.NewManager(stores.Redis, "")
		opts.Metrics = metrics.NewRedisRecorder(stores.Redis)
	}
	reaper, err := scheduler.NewReaper(stores.Reaper, opts)
	if err != nil {
		logger.Error("new reaper failed", "err", err)
		os.Exit(1)
	}

	// 启动时先清理一次
	if n, err := reaper.RunOnce(ctx); err != nil {
		logger.Error("initial reap failed", "err", err)
	} else {
		logger.Info("initial reap done", "reaped", n)
	}

	reaper.Start()
	<-ctx.Done()
	logger.Info("shutting down")
	<-reaper.Stop().Done()
}
