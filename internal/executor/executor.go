// Package executor 定义远程执行服务的客户端契约
// 提交一批任务拿到有序的任务 ID，之后逐个查询结果（等待中/成功/失败 三选一）
package executor

import (
	"context"
	"fmt"

	"github.com/funcx-faas/action-provider/internal/domain"
)

// OutcomeKind 查询结果的三种取值
type OutcomeKind int

const (
	KindPending OutcomeKind = iota
	KindSuccess
	KindFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case KindPending:
		return "pending"
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome 单个任务的查询结果；等待中不是错误
type Outcome struct {
	Kind   OutcomeKind
	Value  any    // KindSuccess 时的结果
	Detail string // KindFailure 时的失败详情
}

func Pending() Outcome { return Outcome{Kind: KindPending} }

func Success(value any) Outcome { return Outcome{Kind: KindSuccess, Value: value} }

func Failure(detail string) Outcome { return Outcome{Kind: KindFailure, Detail: detail} }

// Batch 批量提交的返回：执行器侧的组 ID（可能为空）以及与提交顺序一致的任务 ID
type Batch struct {
	GroupID string
	TaskIDs []string
}

// Client 远程执行器；鉴权/令牌由实现自行处理
type Client interface {
	SubmitBatch(ctx context.Context, tasks []domain.TaskDescriptor) (Batch, error)
	GetResult(ctx context.Context, taskID string) (Outcome, error)
}
