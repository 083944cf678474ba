package repo

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/funcx-faas/action-provider/internal/domain"
)

// GroupKey 任务组在 Redis 中的 key
func GroupKey(groupID string) string {
	return "taskgroup:" + groupID
}

// 仅当 key 不存在时写入，返回 1 成功 0 已存在
var createGroupScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	redis.call('HSET', KEYS[1], 'version', '1', 'body', ARGV[1])
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1`)

// 仅当版本匹配时整体替换并续期
var putGroupScript = redis.NewScript(`
	local v = redis.call('HGET', KEYS[1], 'version')
	if not v or tonumber(v) ~= tonumber(ARGV[1]) then
		return 0
	end
	redis.call('HSET', KEYS[1], 'version', tostring(tonumber(ARGV[1]) + 1), 'body', ARGV[2])
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
	return 1`)

// RedisStore 每个任务组一个 hash {version, body}，过期交给 key TTL
type RedisStore struct {
	rdb    *redis.Client
	opts   Options
	logger *slog.Logger
}

func NewRedisStore(rdb *redis.Client, opts Options) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		opts:   opts.withDefaults(),
		logger: slog.Default().With("component", "repo.redis"),
	}
}

func (s *RedisStore) Create(ctx context.Context, g *domain.TaskGroup) error {
	g.ExpiresAt = s.opts.expiry()
	body, err := encodeGroup(g)
	if err != nil {
		return err
	}
	n, err := createGroupScript.Run(ctx, s.rdb, []string{GroupKey(g.GroupID)},
		string(body), s.opts.TTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("create task group %s: %w", g.GroupID, err)
	}
	if n == 0 {
		return duplicate(g.GroupID)
	}
	g.Version = 1
	return nil
}

func (s *RedisStore) Get(ctx context.Context, groupID string) (*domain.TaskGroup, error) {
	vals, err := s.rdb.HGetAll(ctx, GroupKey(groupID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get task group %s: %w", groupID, err)
	}
	body, ok := vals["body"]
	if !ok {
		return nil, notFound(groupID)
	}
	version, err := strconv.ParseInt(vals["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("task group %s has bad version %q: %w", groupID, vals["version"], err)
	}
	return decodeGroup([]byte(body), version)
}

func (s *RedisStore) Put(ctx context.Context, g *domain.TaskGroup) error {
	prev := g.ExpiresAt
	g.ExpiresAt = s.opts.expiry()
	body, err := encodeGroup(g)
	if err != nil {
		g.ExpiresAt = prev
		return err
	}
	n, err := putGroupScript.Run(ctx, s.rdb, []string{GroupKey(g.GroupID)},
		g.Version, string(body), s.opts.TTL.Milliseconds()).Int()
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

func (s *RedisStore) Delete(ctx context.Context, groupID string) error {
	n, err := s.rdb.Del(ctx, GroupKey(groupID)).Result()
	if err != nil {
		return fmt.Errorf("delete task group %s: %w", groupID, err)
	}
	if n == 0 {
		s.logger.Warn("attempted to delete unknown task group", "group_id", groupID)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
