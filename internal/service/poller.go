package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/funcx-faas/action-provider/internal/domain"
	"github.com/funcx-faas/action-provider/internal/executor"
	"github.com/funcx-faas/action-provider/internal/metrics"
)

// Status 对任务组跑一轮增量轮询，写回后返回聚合状态
// 每次调用至多一轮；遇到第一个仍在等待的任务即停止本轮
func (s *ActionService) Status(ctx context.Context, actionID string) (*domain.ActionStatus, error) {
	groupID, err := GroupID(actionID)
	if err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "action.poll_round")
	defer span.End()
	span.SetAttributes(attribute.String("action.group_id", groupID))

	st, err := s.pollOnce(ctx, groupID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "poll failed")
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("action.status", string(st.Status)))
	s.opts.Metrics.Inc(ctx, metrics.Polled)
	s.opts.Metrics.Inc(ctx, metrics.StatusCounter(string(st.Status)))
	return st, nil
}

func (s *ActionService) pollOnce(ctx context.Context, groupID string) (*domain.ActionStatus, error) {
	locked := true
	if s.opts.Locker != nil {
		unlock, ok, err := s.opts.Locker.LockRound(ctx, groupID)
		if err != nil {
			// 锁不可用时退化为只靠条件写
			s.logger.WarnContext(ctx, "round lock unavailable", "group_id", groupID, "err", err)
		} else {
			defer unlock()
			locked = ok
		}
	}

	var st *domain.ActionStatus
	attempt := 0
	op := func() error {
		attempt++
		g, err := s.store.Get(ctx, groupID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !locked {
			s.logger.DebugContext(ctx, "round in progress elsewhere, reporting persisted state", "group_id", groupID)
			st = Aggregate(g)
			return nil
		}

		prev := Aggregate(g).Status
		s.pollRound(ctx, g)
		if g.AllCompleted() && g.CompletionTime == nil {
			now := s.now()
			g.CompletionTime = &now
		}
		next := Aggregate(g)
		if !domain.CanTransition(prev, next.Status) {
			s.logger.ErrorContext(ctx, "illegal status transition", "group_id", groupID, "from", prev, "to", next.Status)
		}
		// 即使没有变化也写回，刷新 TTL
		if err := s.store.Put(ctx, g); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				s.logger.InfoContext(ctx, "task group changed during round, retrying", "group_id", groupID, "attempt", attempt)
				return err
			}
			return backoff.Permanent(err)
		}
		st = Aggregate(g)
		return nil
	}

	if err := backoff.Retry(op, s.retryPolicy(ctx)); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("poll task group %s: %w", groupID, err)
	}
	return st, nil
}

func (s *ActionService) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, s.opts.ConflictRetries), ctx)
}

// pollRound 按 TaskIDs 顺序查询未完成任务，遇到等待中的任务即停止
func (s *ActionService) pollRound(ctx context.Context, g *domain.TaskGroup) {
	for _, id := range g.Unresolved() {
		if ctx.Err() != nil {
			// 调用方已放弃，不把未查询的任务记为失败
			return
		}
		o := s.query(ctx, id)
		rec := g.Record(id)
		switch o.Kind {
		case executor.KindPending:
			s.logger.DebugContext(ctx, "task still pending", "group_id", g.GroupID, "task_id", id)
			return
		case executor.KindSuccess:
			rec.Succeed(o.Value)
		case executor.KindFailure:
			s.logger.InfoContext(ctx, "task failed", "group_id", g.GroupID, "task_id", id, "detail", o.Detail)
			rec.Fail(o.Detail)
		}
	}
}

// query 单个任务查询带超时；超时与意外错误都只算这个任务失败
func (s *ActionService) query(ctx context.Context, taskID string) executor.Outcome {
	qctx, cancel := context.WithTimeout(ctx, s.opts.ResultTimeout)
	defer cancel()

	o, err := s.exec.GetResult(qctx, taskID)
	if err == nil {
		return o
	}
	if ctx.Err() != nil {
		return executor.Pending()
	}
	if errors.Is(qctx.Err(), context.DeadlineExceeded) {
		s.logger.WarnContext(ctx, "task result query timed out", "task_id", taskID, "timeout", s.opts.ResultTimeout)
		return executor.Failure(fmt.Sprintf("Task %s timed out after %s waiting for result", taskID, s.opts.ResultTimeout))
	}
	s.logger.WarnContext(ctx, "task result query failed", "task_id", taskID, "err", err)
	return executor.Failure(fmt.Sprintf("Task %s encountered unexpected error: %v", taskID, err))
}
