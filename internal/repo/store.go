// Package repo 任务组（批次）的持久化
// 所有实现都满足同一契约：
//   - Create 已存在时返回 domain.ErrDuplicateGroup
//   - Get 不存在或已过期时返回 domain.ErrNotFound
//   - Put 整体替换，基于 Version 的条件写；版本不符返回 domain.ErrVersionConflict，成功后刷新 TTL
//   - Delete 不存在时只记录 warning，不返回错误（release 需要可重复调用）
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/funcx-faas/action-provider/internal/domain"
)

// DefaultTTL 防御性回收：创建后 14 天
const DefaultTTL = 14 * 24 * time.Hour

// GroupStore 任务组存储
type GroupStore interface {
	Create(ctx context.Context, g *domain.TaskGroup) error
	Get(ctx context.Context, groupID string) (*domain.TaskGroup, error)
	Put(ctx context.Context, g *domain.TaskGroup) error
	Delete(ctx context.Context, groupID string) error
}

// Reaper 主动清理过期任务组的存储
type Reaper interface {
	ReapExpired(ctx context.Context, now time.Time) (int, error)
}

// Pinger 就绪检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options 各实现共享的参数
type Options struct {
	TTL time.Duration
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) expiry() time.Time {
	return o.Now().Add(o.TTL).UTC()
}

func encodeGroup(g *domain.TaskGroup) ([]byte, error) {
	b, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode task group %s: %w", g.GroupID, err)
	}
	return b, nil
}

func decodeGroup(b []byte, version int64) (*domain.TaskGroup, error) {
	var g domain.TaskGroup
	if err := json.Unmarshal(b, &g); err != nil {
		return nil, fmt.Errorf("decode task group: %w", err)
	}
	if g.Tasks == nil {
		g.Tasks = make(map[string]*domain.TaskRecord)
	}
	g.Version = version
	return &g, nil
}

// decodeLive 解码并以存储层记录的过期时间为准；已过期视为不存在
func decodeLive(groupID string, b []byte, version int64, expiresAt, now time.Time) (*domain.TaskGroup, error) {
	g, err := decodeGroup(b, version)
	if err != nil {
		return nil, err
	}
	g.ExpiresAt = expiresAt.UTC()
	if g.Expired(now) {
		return nil, notFound(groupID)
	}
	return g, nil
}

func notFound(groupID string) error {
	return fmt.Errorf("task group %s: %w", groupID, domain.ErrNotFound)
}

func duplicate(groupID string) error {
	return fmt.Errorf("task group %s: %w", groupID, domain.ErrDuplicateGroup)
}

func versionConflict(groupID string, expected int64) error {
	return fmt.Errorf("task group %s at version %d: %w", groupID, expected, domain.ErrVersionConflict)
}
