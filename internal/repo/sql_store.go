package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/funcx-faas/action-provider/internal/domain"
)

// Dialect SQL 方言差异：占位符与建表语句
type Dialect struct {
	Name   string
	rebind func(query string) string
	ddl    []string
}

// Postgres 通过 pgx stdlib 使用，占位符为 $n，body 存 JSONB
var Postgres = Dialect{
	Name:   "postgres",
	rebind: dollarPlaceholders,
	ddl: []string{
		`CREATE TABLE IF NOT EXISTS task_groups (
            group_id TEXT PRIMARY KEY,
            creator_id TEXT NOT NULL,
            body JSONB NOT NULL,
            version BIGINT NOT NULL,
            expires_at BIGINT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_task_groups_expires_at ON task_groups(expires_at);`,
	},
}

// SQLite 本地文件存储，占位符为 ?
var SQLite = Dialect{
	Name:   "sqlite",
	rebind: func(q string) string { return q },
	ddl: []string{
		`CREATE TABLE IF NOT EXISTS task_groups (
            group_id TEXT PRIMARY KEY,
            creator_id TEXT NOT NULL,
            body TEXT NOT NULL,
            version INTEGER NOT NULL,
            expires_at INTEGER NOT NULL,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_task_groups_expires_at ON task_groups(expires_at);`,
	},
}

const (
	// 过期的旧记录允许被同 ID 的新批次覆盖
	createGroupSQL = `
		INSERT INTO task_groups (group_id, creator_id, body, version, expires_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (group_id) DO UPDATE
		SET creator_id = excluded.creator_id, body = excluded.body, version = 1,
		    expires_at = excluded.expires_at, updated_at = CURRENT_TIMESTAMP
		WHERE task_groups.expires_at <= ?`
	getGroupSQL = `
		SELECT body, version, expires_at
		FROM task_groups
		WHERE group_id = ?`
	putGroupSQL = `
		UPDATE task_groups
		SET body = ?, version = version + 1, expires_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE group_id = ? AND version = ?`
	deleteGroupSQL = `DELETE FROM task_groups WHERE group_id = ?`
	reapGroupsSQL  = `DELETE FROM task_groups WHERE expires_at <= ?`
)

// SQLStore 基于 database/sql 的实现，Postgres 与 SQLite 共用
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	opts    Options
	logger  *slog.Logger
}

func NewSQLStore(db *sql.DB, dialect Dialect, opts Options) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		opts:    opts.withDefaults(),
		logger:  slog.Default().With("component", "repo."+dialect.Name),
	}
}

// Migrate 确保表结构存在
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, q := range s.dialect.ddl {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name, err)
		}
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, g *domain.TaskGroup) error {
	now := s.opts.Now()
	expires := now.Add(s.opts.TTL).UTC()
	g.ExpiresAt = expires
	body, err := encodeGroup(g)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(createGroupSQL),
		g.GroupID, g.CreatorID, string(body), expires.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("insert task group %s: %w", g.GroupID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert task group %s: %w", g.GroupID, err)
	}
	if n == 0 {
		return duplicate(g.GroupID)
	}
	g.Version = 1
	return nil
}

func (s *SQLStore) Get(ctx context.Context, groupID string) (*domain.TaskGroup, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(getGroupSQL), groupID)
	var (
		body      []byte
		version   int64
		expiresAt int64
	)
	if err := row.Scan(&body, &version, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(groupID)
		}
		return nil, fmt.Errorf("get task group %s: %w", groupID, err)
	}
	return decodeLive(groupID, body, version, time.Unix(expiresAt, 0), s.opts.Now())
}

func (s *SQLStore) Put(ctx context.Context, g *domain.TaskGroup) error {
	expires := s.opts.expiry()
	prev := g.ExpiresAt
	g.ExpiresAt = expires
	body, err := encodeGroup(g)
	if err != nil {
		g.ExpiresAt = prev
		return err
	}
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(putGroupSQL),
		string(body), expires.Unix(), g.GroupID, g.Version)
	if err != nil {
		g.ExpiresAt = prev
		return fmt.Errorf("update task group %s: %w", g.GroupID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		g.ExpiresAt = prev
		return fmt.Errorf("update task group %s: %w", g.GroupID, err)
	}
	if n == 0 {
		g.ExpiresAt = prev
		return versionConflict(g.GroupID, g.Version)
	}
	g.Version++
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, groupID string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(deleteGroupSQL), groupID)
	if err != nil {
		return fmt.Errorf("delete task group %s: %w", groupID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.Warn("attempted to delete unknown task group", "group_id", groupID)
	}
	return nil
}

// ReapExpired 删除 expires_at 已到的记录
func (s *SQLStore) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(reapGroupsSQL), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("reap task groups: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reap task groups: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// dollarPlaceholders 把 ? 依次替换为 $1, $2 ...
func dollarPlaceholders(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
