// Package executortest 提供测试用的脚本化执行器
package executortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/funcx-faas/action-provider/internal/domain"
	"github.com/funcx-faas/action-provider/internal/executor"
)

// Fake 按任务 ID 返回预设结果；未设置的任务一律视为等待中
type Fake struct {
	mu sync.Mutex

	GroupID   string
	SubmitErr error
	// NextIDs 非空时 SubmitBatch 原样返回，可用于模拟返回数量与提交数量不一致
	NextIDs []string

	outcomes map[string]executor.Outcome
	errs     map[string]error
	block    map[string]bool

	Submitted [][]domain.TaskDescriptor
	Queried   []string
	seq       int
}

func New() *Fake {
	return &Fake{
		outcomes: make(map[string]executor.Outcome),
		errs:     make(map[string]error),
		block:    make(map[string]bool),
	}
}

// SetOutcome 设置任务的查询结果
func (f *Fake) SetOutcome(taskID string, o executor.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[taskID] = o
	delete(f.errs, taskID)
}

// SetError 让任务查询返回意外错误
func (f *Fake) SetError(taskID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[taskID] = err
}

// Block 让任务查询一直阻塞到 ctx 结束，用于验证超时处理
func (f *Fake) Block(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block[taskID] = true
}

func (f *Fake) SubmitBatch(ctx context.Context, tasks []domain.TaskDescriptor) (executor.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Submitted = append(f.Submitted, tasks)
	if f.SubmitErr != nil {
		return executor.Batch{}, f.SubmitErr
	}
	if f.NextIDs != nil {
		ids := append([]string(nil), f.NextIDs...)
		return executor.Batch{GroupID: f.GroupID, TaskIDs: ids}, nil
	}
	ids := make([]string, len(tasks))
	for i := range tasks {
		f.seq++
		ids[i] = fmt.Sprintf("task%d", f.seq)
	}
	return executor.Batch{GroupID: f.GroupID, TaskIDs: ids}, nil
}

func (f *Fake) GetResult(ctx context.Context, taskID string) (executor.Outcome, error) {
	f.mu.Lock()
	f.Queried = append(f.Queried, taskID)
	blocked := f.block[taskID]
	err := f.errs[taskID]
	o, ok := f.outcomes[taskID]
	f.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return executor.Outcome{}, ctx.Err()
	}
	if err != nil {
		return executor.Outcome{}, err
	}
	if !ok {
		return executor.Pending(), nil
	}
	return o, nil
}

// QueriedIDs 返回查询过的任务 ID 副本
func (f *Fake) QueriedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Queried...)
}

// ResetQueries 清空查询记录
func (f *Fake) ResetQueries() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queried = nil
}
