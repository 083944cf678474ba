package domain

import (
	"time"
)

// TaskRecord 单个远程任务的持久化完成状态
// Completed 一旦为 true，Result/Error 不再改变
type TaskRecord struct {
	TaskID    string `json:"task_id"`          // 执行器分配的任务 ID
	Result    any    `json:"result,omitempty"` // 成功结果
	Completed bool   `json:"completed"`        // 是否已终结（成功或失败）
	Error     string `json:"error,omitempty"`  // 失败详情
}

// Succeed 标记任务成功完成
func (r *TaskRecord) Succeed(result any) {
	if r.Completed {
		return
	}
	r.Result = result
	r.Error = ""
	r.Completed = true
}

// Fail 标记任务失败完成，失败也算终结
func (r *TaskRecord) Fail(detail string) {
	if r.Completed {
		return
	}
	r.Result = nil
	r.Error = detail
	r.Completed = true
}

// Failed 已完成且带错误
func (r *TaskRecord) Failed() bool {
	return r.Completed && r.Error != ""
}

// TaskGroup 一个批次：提交时创建，只由轮询更新
type TaskGroup struct {
	GroupID        string                 `json:"group_id"`
	CreatorID      string                 `json:"creator_id"`
	MonitorBy      []string               `json:"monitor_by,omitempty"`
	ManageBy       []string               `json:"manage_by,omitempty"`
	StartTime      time.Time              `json:"start_time"`
	CompletionTime *time.Time             `json:"completion_time,omitempty"`
	TaskIDs        []string               `json:"task_ids"` // 创建后固定，顺序与提交顺序一致
	Tasks          map[string]*TaskRecord `json:"tasks"`
	ExpiresAt      time.Time              `json:"expires_at"`
	Version        int64                  `json:"-"` // 乐观并发版本，由 store 维护
}

// NewTaskGroup 为返回的任务 ID 建立全部未完成的记录
func NewTaskGroup(groupID, creatorID string, taskIDs []string, start time.Time) *TaskGroup {
	ids := make([]string, 0, len(taskIDs))
	tasks := make(map[string]*TaskRecord, len(taskIDs))
	for _, id := range taskIDs {
		if _, dup := tasks[id]; dup {
			continue
		}
		ids = append(ids, id)
		tasks[id] = &TaskRecord{TaskID: id}
	}
	return &TaskGroup{
		GroupID:   groupID,
		CreatorID: creatorID,
		StartTime: start.UTC(),
		TaskIDs:   ids,
		Tasks:     tasks,
	}
}

// Record 按任务 ID 取记录；缺失时补一个未完成的记录
func (g *TaskGroup) Record(taskID string) *TaskRecord {
	if g.Tasks == nil {
		g.Tasks = make(map[string]*TaskRecord)
	}
	r, ok := g.Tasks[taskID]
	if !ok {
		r = &TaskRecord{TaskID: taskID}
		g.Tasks[taskID] = r
	}
	return r
}

// Unresolved 按 TaskIDs 顺序返回未完成的任务 ID
func (g *TaskGroup) Unresolved() []string {
	var out []string
	for _, id := range g.TaskIDs {
		if !g.Record(id).Completed {
			out = append(out, id)
		}
	}
	return out
}

// CompletedCount 已终结的任务数
func (g *TaskGroup) CompletedCount() int {
	n := 0
	for _, id := range g.TaskIDs {
		if g.Record(id).Completed {
			n++
		}
	}
	return n
}

// AllCompleted 所有任务都已终结
func (g *TaskGroup) AllCompleted() bool {
	return g.CompletedCount() == len(g.TaskIDs)
}

// AnyFailed 至少一个任务以错误终结
func (g *TaskGroup) AnyFailed() bool {
	for _, id := range g.TaskIDs {
		if g.Record(id).Failed() {
			return true
		}
	}
	return false
}

// Expired TTL 是否已过
func (g *TaskGroup) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && !now.Before(g.ExpiresAt)
}
