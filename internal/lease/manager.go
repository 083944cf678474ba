// Package lease 基于 Redis 的互斥租约
// 轮询用它避免多个进程同时对一个任务组跑一轮；reaper 用它保证每个周期只有一个实例执行
package lease

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// ReaperKey cmd/reaper 每个周期抢占的 key
	ReaperKey = "lease:reaper"
	// DefaultRoundTTL 单轮轮询的租约时长，持有期间按 1/3 周期续租
	DefaultRoundTTL = 30 * time.Second
)

// RoundKey 任务组轮询租约的 key
func RoundKey(groupID string) string {
	return "lease:round:" + groupID
}

var renewScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	else
		return 0
	end`)

var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	else
		return 0
	end`)

type Manager struct {
	rdb      *redis.Client
	owner    string
	roundTTL time.Duration
	logger   *slog.Logger
}

// NewManager owner 为空时生成随机持有者 ID
func NewManager(rdb *redis.Client, owner string) *Manager {
	if owner == "" {
		owner = uuid.NewString()
	}
	return &Manager{
		rdb:      rdb,
		owner:    owner,
		roundTTL: DefaultRoundTTL,
		logger:   slog.Default().With("component", "lease"),
	}
}

// WithRoundTTL 修改轮询租约时长
func (m *Manager) WithRoundTTL(ttl time.Duration) *Manager {
	if ttl > 0 {
		m.roundTTL = ttl
	}
	return m
}

func (m *Manager) Owner() string {
	return m.owner
}

// Acquire 尝试设置租约（仅当不存在时成功），返回是否成功
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.rdb.SetNX(ctx, key, m.owner, ttl).Result()
}

// Renew 仅当持有者匹配时续租，返回是否成功
func (m *Manager) Renew(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, m.rdb, []string{key}, m.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release 仅当持有者匹配释放租约
func (m *Manager) Release(ctx context.Context, key string) (bool, error) {
	n, err := releaseScript.Run(ctx, m.rdb, []string{key}, m.owner).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// LockRound 抢占任务组的轮询租约；ok=false 表示别的进程正在轮询
// 持有期间后台续租，直到调用 unlock；返回的 unlock 总是可以调用
func (m *Manager) LockRound(ctx context.Context, groupID string) (func(), bool, error) {
	key := RoundKey(groupID)
	ok, err := m.Acquire(ctx, key, m.roundTTL)
	if err != nil || !ok {
		return func() {}, ok, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go m.keepAlive(key, groupID, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// 请求 ctx 可能已经结束，释放用独立的短超时
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := m.Release(rctx, key); err != nil {
				m.logger.Warn("release round lease failed", "group_id", groupID, "err", err)
			}
		})
	}, true, nil
}

// keepAlive 每 roundTTL/3 续租一次；租约被别人拿走后停止
func (m *Manager) keepAlive(key, groupID string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := max(m.roundTTL/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(context.Background(), interval)
			ok, err := m.Renew(rctx, key, m.roundTTL)
			cancel()
			if err != nil {
				m.logger.Warn("renew round lease failed", "group_id", groupID, "err", err)
				continue
			}
			if !ok {
				m.logger.Warn("round lease lost", "group_id", groupID)
				return
			}
		}
	}
}
