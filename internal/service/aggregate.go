package service

import (
	"github.com/funcx-faas/action-provider/internal/domain"
)

// Aggregate 由任务组记录推导复合状态，纯函数
//
//	有未完成任务          -> ACTIVE，details {completed, total}
//	全部完成且有任务失败  -> FAILED，details {result: {task_id: 结果或错误}}
//	全部成功              -> SUCCEEDED，details 同上
func Aggregate(g *domain.TaskGroup) *domain.ActionStatus {
	st := &domain.ActionStatus{
		ActionID:  ActionID(g.GroupID),
		StartTime: g.StartTime,
		CreatorID: g.CreatorID,
		MonitorBy: g.MonitorBy,
		ManageBy:  g.ManageBy,
	}
	if !g.ExpiresAt.IsZero() {
		t := g.ExpiresAt
		st.ReleaseAfter = &t
	}

	if !g.AllCompleted() {
		st.Status = domain.StatusActive
		st.DisplayStatus = domain.DisplayActive
		st.Details = map[string]any{
			"completed": g.CompletedCount(),
			"total":     len(g.TaskIDs),
		}
		return st
	}

	results := make(map[string]any, len(g.TaskIDs))
	for _, id := range g.TaskIDs {
		rec := g.Record(id)
		if rec.Failed() {
			results[id] = rec.Error
		} else {
			results[id] = rec.Result
		}
	}
	st.Details = map[string]any{"result": results}
	if g.CompletionTime != nil {
		t := *g.CompletionTime
		st.CompletionTime = &t
	}
	if g.AnyFailed() {
		st.Status = domain.StatusFailed
		st.DisplayStatus = domain.DisplayFailed
	} else {
		st.Status = domain.StatusSucceeded
		st.DisplayStatus = domain.DisplaySucceeded
	}
	return st
}
