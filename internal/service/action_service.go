// Package service 批次提交、状态轮询聚合与生命周期操作
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/funcx-faas/action-provider/internal/domain"
	"github.com/funcx-faas/action-provider/internal/executor"
	"github.com/funcx-faas/action-provider/internal/metrics"
	"github.com/funcx-faas/action-provider/internal/observability"
	"github.com/funcx-faas/action-provider/internal/repo"
)

const (
	// ActionPrefix 对外 action id = 前缀 + 任务组 ID
	ActionPrefix = "tg_"
	// UnknownActionID 提交失败时返回的 action id，不对应任何持久化记录
	UnknownActionID = "unknown_task_group"

	defaultResultTimeout = 10 * time.Second
	defaultConflictRetry = 3
)

// RoundLocker 跨进程互斥同一任务组的轮询；ok=false 时本次只读已持久化的状态
type RoundLocker interface {
	LockRound(ctx context.Context, groupID string) (unlock func(), ok bool, err error)
}

type Options struct {
	ResultTimeout    time.Duration // 单个任务结果查询的超时，超时按失败处理
	CheckUUID        bool
	LogSensitiveData bool
	ConflictRetries  uint64 // 版本冲突时整轮重试次数
	Now              func() time.Time
	Locker           RoundLocker
	Metrics          metrics.Recorder
}

type ActionService struct {
	exec   executor.Client
	store  repo.GroupStore
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
}

func NewActionService(exec executor.Client, store repo.GroupStore, opts Options) *ActionService {
	if opts.ResultTimeout <= 0 {
		opts.ResultTimeout = defaultResultTimeout
	}
	if opts.ConflictRetries == 0 {
		opts.ConflictRetries = defaultConflictRetry
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	return &ActionService{
		exec:   exec,
		store:  store,
		opts:   opts,
		logger: slog.Default().With("component", "service.action"),
		tracer: otel.Tracer(observability.TracerName),
	}
}

// ActionID 任务组 ID 对应的 action id
func ActionID(groupID string) string {
	return ActionPrefix + groupID
}

// GroupID 从 action id 取出任务组 ID；前缀不对视为不存在
func GroupID(actionID string) (string, error) {
	id, ok := strings.CutPrefix(actionID, ActionPrefix)
	if !ok || id == "" {
		return "", fmt.Errorf("invalid task group %q: %w", actionID, domain.ErrNotFound)
	}
	return id, nil
}

func (s *ActionService) now() time.Time {
	return s.opts.Now().UTC()
}
