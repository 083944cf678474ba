package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funcx-faas/action-provider/internal/domain"
	"github.com/funcx-faas/action-provider/internal/executor"
	"github.com/funcx-faas/action-provider/internal/executor/executortest"
	"github.com/funcx-faas/action-provider/internal/metrics"
	"github.com/funcx-faas/action-provider/internal/repo"
)

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (r *countingRecorder) Inc(_ context.Context, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int64)
	}
	r.counts[name]++
}

func (r *countingRecorder) Snapshot(context.Context) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out, nil
}

type fixture struct {
	svc     *ActionService
	exec    *executortest.Fake
	store   *repo.MemoryStore
	metrics *countingRecorder
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		exec:    executortest.New(),
		store:   repo.NewMemoryStore(repo.Options{}),
		metrics: &countingRecorder{},
	}
	f.exec.GroupID = "grp"
	opts := Options{ResultTimeout: time.Second, Metrics: f.metrics}
	for _, m := range mutate {
		m(&opts)
	}
	f.svc = NewActionService(f.exec, f.store, opts)
	return f
}

func twoTaskBody() map[string]any {
	return map[string]any{
		"tasks": []any{
			map[string]any{"endpoint": "e1", "function": "f1", "args": []any{1, 2}},
			map[string]any{"endpoint": "e1", "function": "f2"},
		},
	}
}

func (f *fixture) submit(t *testing.T, body map[string]any) *domain.ActionStatus {
	t.Helper()
	st, err := f.svc.Submit(context.Background(), SubmitRequest{Body: body, CreatorID: "alice"})
	require.NoError(t, err)
	return st
}

func TestSubmit_Active(t *testing.T) {
	f := newFixture(t)
	st := f.submit(t, twoTaskBody())

	assert.Equal(t, "tg_grp", st.ActionID)
	assert.Equal(t, domain.StatusActive, st.Status)
	assert.Equal(t, domain.DisplayActive, st.DisplayStatus)
	assert.Equal(t, []string{"task1", "task2"}, st.Details[TaskOutputKey])
	assert.Equal(t, "alice", st.CreatorID)
	assert.Equal(t, []string{"alice"}, st.MonitorBy)
	assert.Equal(t, []string{"alice"}, st.ManageBy)
	require.NotNil(t, st.ReleaseAfter)
	assert.Nil(t, st.CompletionTime)

	require.Len(t, f.exec.Submitted, 1)
	assert.Equal(t, []any{1, 2}, f.exec.Submitted[0][0].Args)

	g, err := f.store.Get(context.Background(), "grp")
	require.NoError(t, err)
	assert.Equal(t, []string{"task1", "task2"}, g.TaskIDs)
	assert.Len(t, g.Unresolved(), 2)
	assert.Equal(t, int64(1), f.metrics.counts[metrics.Submitted])
}

func TestSubmit_KeepsMonitorAndManage(t *testing.T) {
	f := newFixture(t)
	st, err := f.svc.Submit(context.Background(), SubmitRequest{
		Body:      twoTaskBody(),
		CreatorID: "alice",
		MonitorBy: []string{"bob"},
		ManageBy:  []string{"carol"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, st.MonitorBy)
	assert.Equal(t, []string{"carol"}, st.ManageBy)

	st, err = f.svc.Status(context.Background(), st.ActionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, st.MonitorBy)
	assert.Equal(t, []string{"carol"}, st.ManageBy)
}

func TestSubmit_ValidationError(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), SubmitRequest{
		Body:      map[string]any{"tasks": "[]", "endpoint": "e1"},
		CreatorID: "alice",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, f.exec.Submitted)
}

func TestSubmit_CheckUUID(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.CheckUUID = true })
	_, err := f.svc.Submit(context.Background(), SubmitRequest{Body: twoTaskBody(), CreatorID: "alice"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	body := map[string]any{"endpoint": uuid.NewString(), "function": uuid.NewString()}
	st := f.submit(t, body)
	assert.Equal(t, domain.StatusActive, st.Status)
}

func TestSubmit_ExecutorFailure(t *testing.T) {
	f := newFixture(t)
	f.exec.SubmitErr = errors.New("endpoint offline")

	st := f.submit(t, twoTaskBody())
	assert.Equal(t, UnknownActionID, st.ActionID)
	assert.Equal(t, domain.StatusFailed, st.Status)
	assert.Contains(t, st.DisplayStatus, "endpoint offline")
	assert.NotNil(t, st.CompletionTime)
	assert.ErrorIs(t, st.Err, domain.ErrSubmission)
	assert.ErrorIs(t, st.Err, f.exec.SubmitErr)

	_, err := f.store.Get(context.Background(), "grp")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int64(1), f.metrics.counts[metrics.SubmitFailed])
}

type failingStore struct {
	repo.GroupStore
}

func (failingStore) Create(context.Context, *domain.TaskGroup) error {
	return errors.New("disk full")
}

func TestSubmit_StoreFailure(t *testing.T) {
	exec := executortest.New()
	svc := NewActionService(exec, failingStore{}, Options{})

	st, err := svc.Submit(context.Background(), SubmitRequest{Body: twoTaskBody(), CreatorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, UnknownActionID, st.ActionID)
	assert.Equal(t, domain.StatusFailed, st.Status)
	assert.Contains(t, st.DisplayStatus, "disk full")
	assert.ErrorIs(t, st.Err, domain.ErrSubmission)
}

func TestSubmit_CountMismatchTracksReturnedIDs(t *testing.T) {
	f := newFixture(t)
	f.exec.NextIDs = []string{"a", "b"}
	body := map[string]any{"tasks": []any{
		map[string]any{"endpoint": "e", "function": "f1"},
		map[string]any{"endpoint": "e", "function": "f2"},
		map[string]any{"endpoint": "e", "function": "f3"},
	}}

	st := f.submit(t, body)
	assert.Equal(t, domain.StatusActive, st.Status)

	g, err := f.store.Get(context.Background(), "grp")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, g.TaskIDs)
}

func TestSubmit_DuplicateReturnedIDsTrackedOnceAndLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	f := newFixture(t)
	f.exec.NextIDs = []string{"a", "a", "b"}
	body := map[string]any{"tasks": []any{
		map[string]any{"endpoint": "e", "function": "f1"},
		map[string]any{"endpoint": "e", "function": "f2"},
		map[string]any{"endpoint": "e", "function": "f3"},
	}}

	st := f.submit(t, body)
	assert.Equal(t, []string{"a", "b"}, st.Details[TaskOutputKey])
	assert.Nil(t, st.Err)

	g, err := f.store.Get(context.Background(), "grp")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, g.TaskIDs)
	assert.Contains(t, buf.String(), "executor returned duplicate task ids")
	assert.Contains(t, buf.String(), `"returned":3`)
}

func TestSubmit_GeneratesGroupID(t *testing.T) {
	f := newFixture(t)
	f.exec.GroupID = ""

	st := f.submit(t, twoTaskBody())
	groupID, err := GroupID(st.ActionID)
	require.NoError(t, err)
	_, err = uuid.Parse(groupID)
	assert.NoError(t, err)
}

func TestSubmit_OverwritesDuplicateGroup(t *testing.T) {
	f := newFixture(t)
	f.submit(t, twoTaskBody())
	f.exec.NextIDs = []string{"x"}

	st := f.submit(t, map[string]any{"endpoint": "e", "function": "f"})
	assert.Equal(t, "tg_grp", st.ActionID)

	g, err := f.store.Get(context.Background(), "grp")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, g.TaskIDs)
	assert.Equal(t, int64(2), g.Version)
}

func TestStatus_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.submit(t, twoTaskBody())

	// 第一轮：task1 仍在等待，task2 不被查询
	st, err := f.svc.Status(ctx, st.ActionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, st.Status)
	assert.Equal(t, map[string]any{"completed": 0, "total": 2}, st.Details)
	assert.Equal(t, []string{"task1"}, f.exec.QueriedIDs())

	f.exec.SetOutcome("task1", executor.Success(3))
	f.exec.SetOutcome("task2", executor.Success("ok"))
	st, err = f.svc.Status(ctx, st.ActionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, st.Status)
	assert.Equal(t, domain.DisplaySucceeded, st.DisplayStatus)
	require.NotNil(t, st.CompletionTime)
	results := st.Details["result"].(map[string]any)
	assert.EqualValues(t, 3, results["task1"])
	assert.Equal(t, "ok", results["task2"])
}

func TestStatus_ShortCircuitsOnFirstPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.submit(t, twoTaskBody())
	f.exec.SetOutcome("task2", executor.Success("done"))

	st, err := f.svc.Status(ctx, st.ActionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, st.Status)
	assert.Equal(t, []string{"task1"}, f.exec.QueriedIDs())

	g, err := f.store.Get(ctx, "grp")
	require.NoError(t, err)
	assert.False(t, g.Record("task2").Completed)
}

func TestStatus_IdempotentWithoutChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.submit(t, twoTaskBody())
	f.exec.SetOutcome("task1", executor.Success(1))

	first, err := f.svc.Status(ctx, st.ActionID)
	require.NoError(t, err)
	g1, err := f.store.Get(ctx, "grp")
	require.NoError(t, err)

	second, err := f.svc.Status(ctx, st.ActionID)
	require.NoError(t, err)
	g2, err := f.store.Get(ctx, "grp")
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Details, second.Details)
	assert.Equal(t, g1.Tasks, g2.Tasks)
	assert.Equal(t, g1.Version+1, g2.Version)
}

func TestStatus_CompletedRecordsNeverRequeried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.submit(t, twoTaskBody())
	f.exec.SetOutcome("task1", executor.Success("first"))
	_, err := f.svc.Status(ctx, st.ActionID)
	require.NoError(t, err)

	// 执行器之后改口也不影响已完成记录
	f.exec.SetOutcome("task1", executor.Failure("late failure"))
	f.exec.ResetQueries()
	_, err = f.svc.Status(ctx, st.ActionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"task2"}, f.exec.QueriedIDs())

	g, err := f.store.Get(ctx, "grp")
	require.NoError(t, err)
	assert.Equal(t, "first", g.Record("task1").Result)
	assert.False(t, g.Record("task1").Failed())
}

func TestStatus_FailureAndCompletionTimeStampedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.submit(t, twoTaskBody())
	f.exec.SetOutcome("task1", executor.Failure("ZeroDivisionError"))
	f.exec.SetOutcome("task2", executor.Success(2))

	first, err := f.svc.Status(ctx, st.ActionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, first.Status)
	assert.Equal(t, domain.DisplayFailed, first.DisplayStatus)
	results := first.Details["result"].(map[string]any)
	assert.Equal(t, "ZeroDivisionError", results["task1"])
	require.NotNil(t, first.CompletionTime)

	second, err := f.svc.Status(ctx, st.ActionID)
	require.NoError(t, err)
	assert.True(t, first.CompletionTime.Equal(*second.CompletionTime))
}

func TestStatus_QueryTimeoutCountsAsFailure(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ResultTimeout = 20 * time.Millisecond })
	ctx := context.Background()
	st := f.submit(t, map[string]any{"endpoint": "e", "function": "f"})
	f.exec.Block("task1")

	st, err := f.svc.Status(ctx, st.ActionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, st.Status)
	assert.Contains(t, st.Details["result"].(map[string]any)["task1"], "timed out")
}

func TestStatus_UnexpectedErrorCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	st := f.submit(t, twoTaskBody())
	f.exec.SetError("task1", errors.New("connection reset"))
	f.exec.SetOutcome("task2", executor.Success(1))

	st, err := f.svc.Status(context.Background(), st.ActionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, st.Status)
	assert.Contains(t, st.Details["result"].(map[string]any)["task1"], "connection reset")
}

func TestStatus_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Status(context.Background(), "tg_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Status(context.Background(), "bogus")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Status(context.Background(), "tg_")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// conflictStore 前 n 次 Put 报版本冲突
type conflictStore struct {
	*repo.MemoryStore
	mu sync.Mutex
	n  int
}

func (s *conflictStore) Put(ctx context.Context, g *domain.TaskGroup) error {
	s.mu.Lock()
	if s.n > 0 {
		s.n--
		s.mu.Unlock()
		return domain.ErrVersionConflict
	}
	s.mu.Unlock()
	return s.MemoryStore.Put(ctx, g)
}

func TestStatus_RetriesOnVersionConflict(t *testing.T) {
	store := &conflictStore{MemoryStore: repo.NewMemoryStore(repo.Options{})}
	exec := executortest.New()
	exec.GroupID = "grp"
	svc := NewActionService(exec, store, Options{})
	ctx := context.Background()

	st, err := svc.Submit(ctx, SubmitRequest{Body: twoTaskBody(), CreatorID: "alice"})
	require.NoError(t, err)

	store.n = 2
	_, err = svc.Status(ctx, st.ActionID)
	require.NoError(t, err)
	// 每次重试都是完整的一轮
	assert.Equal(t, []string{"task1", "task1", "task1"}, exec.QueriedIDs())

	store.n = 100
	_, err = svc.Status(ctx, st.ActionID)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}

type stubLocker struct {
	ok       bool
	err      error
	unlocked int
}

func (l *stubLocker) LockRound(context.Context, string) (func(), bool, error) {
	return func() { l.unlocked++ }, l.ok, l.err
}

func TestStatus_SkipsPollingWhenRoundLocked(t *testing.T) {
	locker := &stubLocker{ok: false}
	f := newFixture(t, func(o *Options) { o.Locker = locker })
	st := f.submit(t, twoTaskBody())
	f.exec.SetOutcome("task1", executor.Success(1))

	st, err := f.svc.Status(context.Background(), st.ActionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, st.Status)
	assert.Empty(t, f.exec.QueriedIDs())

	locker.ok = true
	st, err = f.svc.Status(context.Background(), st.ActionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"task1", "task2"}, f.exec.QueriedIDs())
	assert.Equal(t, 2, locker.unlocked)

	// 锁服务出错时照常轮询
	locker.err = errors.New("redis down")
	_, err = f.svc.Status(context.Background(), st.ActionID)
	require.NoError(t, err)
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.submit(t, twoTaskBody())

	_, err := f.svc.Release(ctx, st.ActionID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = f.store.Get(ctx, "grp")
	require.NoError(t, err)

	f.exec.SetOutcome("task1", executor.Success(1))
	f.exec.SetOutcome("task2", executor.Success(2))
	released, err := f.svc.Release(ctx, st.ActionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, released.Status)
	assert.Equal(t, int64(1), f.metrics.counts[metrics.Released])

	_, err = f.svc.Status(ctx, st.ActionID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Release(ctx, st.ActionID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	st := f.submit(t, twoTaskBody())
	err := f.svc.Cancel(context.Background(), st.ActionID)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}
