package repo

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/funcx-faas/action-provider/internal/domain"
)

func newSQLiteStore(t *testing.T, opts Options) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// :memory: 每个连接是独立的库
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s := NewSQLStore(db, SQLite, opts)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	clock := newFakeClock()
	s := newSQLiteStore(t, Options{TTL: time.Hour, Now: clock.Now})
	runStoreContract(t, s, clock)
}

func TestSQLiteStore_Reap(t *testing.T) {
	clock := newFakeClock()
	s := newSQLiteStore(t, Options{TTL: time.Hour, Now: clock.Now})
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, sampleGroup("old")))
	clock.Advance(30 * time.Minute)
	require.NoError(t, s.Create(ctx, sampleGroup("new")))

	n, err := s.ReapExpired(ctx, clock.Now().Add(45*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, "new")
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))
}

func TestDollarPlaceholders(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", dollarPlaceholders("a = ? AND b = ?"))
	assert.Equal(t, "no params", dollarPlaceholders("no params"))
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return NewSQLStore(db, Postgres, Options{TTL: time.Hour, Now: func() time.Time { return now }}), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS task_groups")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_task_groups_expires_at")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Create(t *testing.T) {
	s, mock := newMockStore(t)
	g := sampleGroup("g1")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO task_groups (group_id, creator_id, body, version, expires_at)")).
		WithArgs("g1", "alice", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Create(context.Background(), g))
	assert.Equal(t, int64(1), g.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO task_groups")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Create(context.Background(), sampleGroup("g1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateGroup)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newMockStore(t)
	g := sampleGroup("g1")
	body, err := encodeGroup(g)
	require.NoError(t, err)
	future := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Unix()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body, version, expires_at")).
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows([]string{"body", "version", "expires_at"}).AddRow(body, int64(4), future))

	got, err := s.Get(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Version)
	assert.Equal(t, g.TaskIDs, got.TaskIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissingAndExpired(t *testing.T) {
	s, mock := newMockStore(t)
	past := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC).Unix()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body, version, expires_at")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"body", "version", "expires_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT body, version, expires_at")).
		WithArgs("stale").
		WillReturnRows(sqlmock.NewRows([]string{"body", "version", "expires_at"}).AddRow([]byte(`{}`), int64(1), past))

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Get(context.Background(), "stale")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutConditional(t *testing.T) {
	s, mock := newMockStore(t)
	g := sampleGroup("g1")
	g.Version = 2

	mock.ExpectExec(regexp.QuoteMeta("UPDATE task_groups")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "g1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE task_groups")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "g1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Put(context.Background(), g))
	assert.Equal(t, int64(3), g.Version)

	err := s.Put(context.Background(), g)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.Equal(t, int64(3), g.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteAndReap(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM task_groups WHERE group_id = $1")).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM task_groups WHERE expires_at <= $1")).
		WillReturnResult(sqlmock.NewResult(0, 7))

	require.NoError(t, s.Delete(context.Background(), "gone"))
	n, err := s.ReapExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
