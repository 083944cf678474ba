package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/funcx-faas/action-provider/internal/domain"
	"github.com/funcx-faas/action-provider/internal/metrics"
)

// Release 重新计算状态；仅终态的任务组可以释放，释放后删除记录并返回最终状态
func (s *ActionService) Release(ctx context.Context, actionID string) (*domain.ActionStatus, error) {
	ctx, span := s.tracer.Start(ctx, "action.release")
	defer span.End()
	span.SetAttributes(attribute.String("action.id", actionID))

	st, err := s.Status(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if !st.IsComplete() {
		span.SetStatus(codes.Error, "not complete")
		return nil, fmt.Errorf("action %s is not complete: %w", actionID, domain.ErrConflict)
	}
	groupID, _ := GroupID(actionID)
	if err := s.store.Delete(ctx, groupID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.opts.Metrics.Inc(ctx, metrics.Released)
	s.logger.InfoContext(ctx, "released task group", "group_id", groupID, "status", st.Status)
	return st, nil
}

// Cancel 已提交的远程任务无法取消
func (s *ActionService) Cancel(ctx context.Context, actionID string) error {
	return fmt.Errorf("action (%s) can not be cancelled: %w", actionID, domain.ErrBadRequest)
}
