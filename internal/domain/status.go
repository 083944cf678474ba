package domain

import "time"

// StatusValue 批次的聚合状态
type StatusValue string

const (
	StatusActive    StatusValue = "ACTIVE"
	StatusSucceeded StatusValue = "SUCCEEDED"
	StatusFailed    StatusValue = "FAILED"
)

const (
	DisplayActive    = "still active"
	DisplayFailed    = "at least one task failed"
	DisplaySucceeded = "all tasks completed"
)

// IsTerminal SUCCEEDED 与 FAILED 为终态
func (s StatusValue) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanTransition 只允许 ACTIVE -> 任意状态；终态不再离开
func CanTransition(from, to StatusValue) bool {
	switch from {
	case StatusActive:
		return to == StatusActive || to == StatusSucceeded || to == StatusFailed
	case StatusSucceeded, StatusFailed:
		return from == to
	}
	return false
}

// ActionStatus 每次查询重新计算的复合状态，不持久化
type ActionStatus struct {
	ActionID       string         `json:"action_id"`
	Status         StatusValue    `json:"status"`
	DisplayStatus  string         `json:"display_status"`
	Details        map[string]any `json:"details"`
	StartTime      time.Time      `json:"start_time"`
	CompletionTime *time.Time     `json:"completion_time"`
	CreatorID      string         `json:"creator_id"`
	MonitorBy      []string       `json:"monitor_by"`
	ManageBy       []string       `json:"manage_by"`
	ReleaseAfter   *time.Time     `json:"release_after,omitempty"`

	// Err 提交失败时的原因，包装 ErrSubmission；不对外输出
	Err error `json:"-"`
}

// IsComplete 是否已到终态，可以 release
func (a *ActionStatus) IsComplete() bool {
	return a.Status.IsTerminal()
}
