// Package scheduler 按 cron 周期清理过期任务组
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/funcx-faas/action-provider/internal/lease"
	"github.com/funcx-faas/action-provider/internal/metrics"
	"github.com/funcx-faas/action-provider/internal/repo"
)

// Locker 多个 reaper 实例时保证每个周期只有一个执行
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type Options struct {
	Spec     string        // cron 表达式，支持 @every
	LockTTL  time.Duration // 抢到后持有的时长，不主动释放
	Timezone string
	Locker   Locker
	Metrics  metrics.Recorder
	Now      func() time.Time
}

// Reaper 负责：周期性删除 TTL 已到的任务组
type Reaper struct {
	store  repo.Reaper
	opts   Options
	cron   *cron.Cron
	logger *slog.Logger
}

func NewReaper(store repo.Reaper, opts Options) (*Reaper, error) {
	if opts.Spec == "" {
		opts.Spec = "@every 1h"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	loc := time.UTC
	if opts.Timezone != "" {
		l, err := time.LoadLocation(opts.Timezone)
		if err != nil {
			return nil, err
		}
		loc = l
	}

	r := &Reaper{
		store:  store,
		opts:   opts,
		logger: slog.Default().With("component", "scheduler.reaper"),
	}
	r.cron = cron.New(cron.WithLocation(loc))
	if _, err := r.cron.AddFunc(opts.Spec, r.tick); err != nil {
		return nil, fmt.Errorf("invalid reaper spec %q: %w", opts.Spec, err)
	}
	return r, nil
}

// Start 启动 cron，不阻塞
func (r *Reaper) Start() {
	r.logger.Info("reaper started", "spec", r.opts.Spec)
	r.cron.Start()
}

// Stop 停止调度，返回的 ctx 在正在执行的任务结束后关闭
func (r *Reaper) Stop() context.Context {
	return r.cron.Stop()
}

func (r *Reaper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.LockTTL)
	defer cancel()
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("reap failed", "err", err)
	}
}

// RunOnce 执行一次清理；没抢到锁时返回 0
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	if r.opts.Locker != nil {
		ok, err := r.opts.Locker.Acquire(ctx, lease.ReaperKey, r.opts.LockTTL)
		if err != nil {
			return 0, fmt.Errorf("acquire reaper lease: %w", err)
		}
		if !ok {
			r.logger.Debug("another reaper holds the lease, skipping")
			return 0, nil
		}
	}
	n, err := r.store.ReapExpired(ctx, r.opts.Now())
	if err != nil {
		return 0, err
	}
	r.opts.Metrics.Inc(ctx, metrics.ReaperRuns)
	r.logger.Info("tick", "reaped", n)
	return n, nil
}
