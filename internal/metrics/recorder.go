// Package metrics 动作计数器，存放在 Redis，方便多实例汇总
package metrics

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "metrics:actions:"

// 计数器名称
const (
	Submitted    = "submitted"
	SubmitFailed = "submit_failed"
	Polled       = "polled"
	Released     = "released"
	ReaperRuns   = "reaper_runs"
)

// StatusCounter 按聚合状态统计的计数器名
func StatusCounter(status string) string {
	return "status:" + status
}

// Recorder 计数失败不影响请求本身
type Recorder interface {
	Inc(ctx context.Context, name string)
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// Nop 不记录任何东西
type Nop struct{}

func (Nop) Inc(context.Context, string) {}

func (Nop) Snapshot(context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}

type RedisRecorder struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewRedisRecorder(rdb *redis.Client) *RedisRecorder {
	return &RedisRecorder{rdb: rdb, logger: slog.Default().With("component", "metrics")}
}

func (r *RedisRecorder) Inc(ctx context.Context, name string) {
	pipe := r.rdb.TxPipeline()
	pipe.Incr(ctx, keyPrefix+name)
	pipe.HSet(ctx, keyPrefix+"last", map[string]any{
		"time":   time.Now().UTC().Format(time.RFC3339),
		"metric": name,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("increment metric failed", "metric", name, "err", err)
	}
}

// Snapshot 读取全部计数器，key 去掉前缀
func (r *RedisRecorder) Snapshot(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	iter := r.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		name := strings.TrimPrefix(k, keyPrefix)
		if name == "last" {
			continue
		}
		v, err := r.rdb.Get(ctx, k).Int64()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		out[name] = v
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Last 最近一次记录的计数器与时间
func (r *RedisRecorder) Last(ctx context.Context) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, keyPrefix+"last").Result()
}
