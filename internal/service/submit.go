package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/funcx-faas/action-provider/internal/domain"
	"github.com/funcx-faas/action-provider/internal/logging"
	"github.com/funcx-faas/action-provider/internal/metrics"
	"github.com/funcx-faas/action-provider/internal/normalize"
)

// TaskOutputKey 提交成功时 details 中任务 ID 列表的键
const TaskOutputKey = "task_output"

type SubmitRequest struct {
	RequestID string
	Body      map[string]any
	CreatorID string
	MonitorBy []string
	ManageBy  []string
}

// Submit 规范化请求并一次性提交给执行器，记录任务组后立即返回，不等待结果
// 请求体不合法时返回 domain.ErrValidation；执行器或存储失败不返回 error，而是 FAILED 状态
func (s *ActionService) Submit(ctx context.Context, req SubmitRequest) (*domain.ActionStatus, error) {
	ctx, span := s.tracer.Start(ctx, "action.submit")
	defer span.End()

	if s.opts.LogSensitiveData {
		s.logger.InfoContext(ctx, "incoming request", "request_id", req.RequestID, "body", req.Body)
	}
	tasks, err := normalize.FromRequest(req.Body, normalize.Options{CheckUUID: s.opts.CheckUUID})
	if err != nil {
		span.SetStatus(codes.Error, "invalid input")
		s.logger.WarnContext(ctx, "rejected request", "request_id", req.RequestID, "err", err)
		return nil, fmt.Errorf("error parsing input: %w", err)
	}
	span.SetAttributes(attribute.Int("action.task_count", len(tasks)))

	monitorBy := orCreator(req.MonitorBy, req.CreatorID)
	manageBy := orCreator(req.ManageBy, req.CreatorID)
	start := s.now()

	if s.opts.LogSensitiveData {
		for _, td := range tasks {
			s.logger.DebugContext(ctx, "submitting task",
				"function", td.FunctionID, "endpoint", td.EndpointID,
				"args", logging.Abbrev(fmt.Sprint(td.Args), 8, true),
				"kwargs", logging.Abbrev(fmt.Sprint(td.Kwargs), 8, true))
		}
	}

	batch, err := s.exec.SubmitBatch(ctx, tasks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		s.opts.Metrics.Inc(ctx, metrics.SubmitFailed)
		return s.failedSubmit(ctx, start, req.CreatorID, monitorBy, manageBy,
			fmt.Sprintf("Encountered error (%v) submitting tasks", err),
			fmt.Errorf("%w: submit batch: %w", domain.ErrSubmission, err)), nil
	}
	if len(batch.TaskIDs) != len(tasks) {
		s.logger.WarnContext(ctx, "executor returned unexpected number of task ids",
			"submitted", len(tasks), "returned", len(batch.TaskIDs))
	}

	groupID := batch.GroupID
	if groupID == "" {
		groupID = uuid.NewString()
	}
	g := domain.NewTaskGroup(groupID, req.CreatorID, batch.TaskIDs, start)
	if len(g.TaskIDs) != len(batch.TaskIDs) {
		s.logger.WarnContext(ctx, "executor returned duplicate task ids, tracking each once",
			"group_id", groupID, "returned", len(batch.TaskIDs), "tracked", len(g.TaskIDs))
	}
	g.MonitorBy = monitorBy
	g.ManageBy = manageBy
	span.SetAttributes(attribute.String("action.group_id", groupID))

	if err := s.persistNew(ctx, g); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		s.opts.Metrics.Inc(ctx, metrics.SubmitFailed)
		return s.failedSubmit(ctx, start, req.CreatorID, monitorBy, manageBy,
			fmt.Sprintf("Unexpected error (%v) recording task group %s", err, groupID),
			fmt.Errorf("%w: record task group %s: %w", domain.ErrSubmission, groupID, err)), nil
	}
	s.opts.Metrics.Inc(ctx, metrics.Submitted)
	s.logger.InfoContext(ctx, "submitted task group", "group_id", groupID, "tasks", len(g.TaskIDs), "creator", req.CreatorID)

	releaseAfter := g.ExpiresAt
	return &domain.ActionStatus{
		ActionID:      ActionID(groupID),
		Status:        domain.StatusActive,
		DisplayStatus: domain.DisplayActive,
		Details:       map[string]any{TaskOutputKey: append([]string{}, g.TaskIDs...)},
		StartTime:     g.StartTime,
		CreatorID:     g.CreatorID,
		MonitorBy:     g.MonitorBy,
		ManageBy:      g.ManageBy,
		ReleaseAfter:  &releaseAfter,
	}, nil
}

// persistNew 同 ID 已存在时覆盖旧记录
func (s *ActionService) persistNew(ctx context.Context, g *domain.TaskGroup) error {
	err := s.store.Create(ctx, g)
	if !errors.Is(err, domain.ErrDuplicateGroup) {
		return err
	}
	s.logger.WarnContext(ctx, "overwriting existing task group", "group_id", g.GroupID)
	existing, err := s.store.Get(ctx, g.GroupID)
	if errors.Is(err, domain.ErrNotFound) {
		// 期间刚好过期或被删除
		return s.store.Create(ctx, g)
	}
	if err != nil {
		return err
	}
	g.Version = existing.Version
	return s.store.Put(ctx, g)
}

func (s *ActionService) failedSubmit(ctx context.Context, start time.Time, creator string, monitorBy, manageBy []string, msg string, cause error) *domain.ActionStatus {
	s.logger.WarnContext(ctx, "submission failed", "err", cause)
	now := s.now()
	return &domain.ActionStatus{
		ActionID:       UnknownActionID,
		Status:         domain.StatusFailed,
		DisplayStatus:  msg,
		Details:        map[string]any{TaskOutputKey: msg},
		StartTime:      start,
		CompletionTime: &now,
		CreatorID:      creator,
		MonitorBy:      monitorBy,
		ManageBy:       manageBy,
		Err:            cause,
	}
}

func orCreator(ids []string, creator string) []string {
	if len(ids) > 0 {
		return append([]string(nil), ids...)
	}
	return []string{creator}
}
