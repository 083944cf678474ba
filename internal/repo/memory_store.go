package repo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/funcx-faas/action-provider/internal/domain"
)

// MemoryStore 进程内实现，保存序列化后的副本，读写互不共享指针
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]memoryItem
	opts   Options
	logger *slog.Logger
}

type memoryItem struct {
	body      []byte
	version   int64
	expiresAt time.Time
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		items:  make(map[string]memoryItem),
		opts:   opts.withDefaults(),
		logger: slog.Default().With("component", "repo.memory"),
	}
}

func (s *MemoryStore) Create(ctx context.Context, g *domain.TaskGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if it, ok := s.items[g.GroupID]; ok && s.opts.Now().Before(it.expiresAt) {
		return duplicate(g.GroupID)
	}
	g.ExpiresAt = s.opts.expiry()
	body, err := encodeGroup(g)
	if err != nil {
		return err
	}
	s.items[g.GroupID] = memoryItem{body: body, version: 1, expiresAt: g.ExpiresAt}
	g.Version = 1
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, groupID string) (*domain.TaskGroup, error) {
	s.mu.RLock()
	it, ok := s.items[groupID]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(groupID)
	}
	// 被动过滤过期条目
	return decodeLive(groupID, it.body, it.version, it.expiresAt, s.opts.Now())
}

func (s *MemoryStore) Put(ctx context.Context, g *domain.TaskGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[g.GroupID]
	if !ok || it.version != g.Version {
		return versionConflict(g.GroupID, g.Version)
	}
	expires := s.opts.expiry()
	prev := g.ExpiresAt
	g.ExpiresAt = expires
	body, err := encodeGroup(g)
	if err != nil {
		g.ExpiresAt = prev
		return err
	}
	s.items[g.GroupID] = memoryItem{body: body, version: it.version + 1, expiresAt: expires}
	g.Version = it.version + 1
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[groupID]; !ok {
		s.logger.Warn("attempted to delete unknown task group", "group_id", groupID)
		return nil
	}
	delete(s.items, groupID)
	return nil
}

// ReapExpired 删除所有已过期条目
func (s *MemoryStore) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, it := range s.items {
		if !now.Before(it.expiresAt) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
