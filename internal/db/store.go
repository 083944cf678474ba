package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/funcx-faas/action-provider/internal/config"
	"github.com/funcx-faas/action-provider/internal/repo"
)

// Stores 按 STORE_DRIVER 打开的任务组存储及其附属连接
type Stores struct {
	Driver string
	Groups repo.GroupStore
	// Reaper 后端不支持主动清理时为 nil（redis、dynamodb 依赖原生 TTL）
	Reaper repo.Reaper
	// Redis 配置了 REDIS_URL 时可用，供 lease 与 metrics 共用
	Redis *redis.Client

	closers []func()
}

// Pingers 就绪检查需要探测的依赖
func (s *Stores) Pingers() map[string]repo.Pinger {
	out := map[string]repo.Pinger{}
	if p, ok := s.Groups.(repo.Pinger); ok {
		out["store"] = p
	}
	if s.Redis != nil {
		out["redis"] = redisPinger{s.Redis}
	}
	return out
}

// LocalReaper 只有本进程可见的存储（内存）需要由 API 进程自己清理，其余返回 nil
func (s *Stores) LocalReaper() repo.Reaper {
	if s.Driver != config.DriverMemory {
		return nil
	}
	return s.Reaper
}

func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

// OpenStores 打开存储后端，SQL 后端会顺带建表
func OpenStores(ctx context.Context, cfg config.AppConfig) (*Stores, error) {
	logger := slog.Default().With("component", "db")
	opts := repo.Options{TTL: cfg.TaskGroupTTL}
	s := &Stores{Driver: cfg.StoreDriver}

	if cfg.RedisURL != "" {
		rdb, err := ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
		s.Redis = rdb
		s.closers = append(s.closers, func() { _ = rdb.Close() })
	}

	switch cfg.StoreDriver {
	case config.DriverMemory:
		m := repo.NewMemoryStore(opts)
		s.Groups, s.Reaper = m, m
	case config.DriverSQLite:
		sqlDB, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("sqlite init failed: %w", err)
		}
		s.closers = append(s.closers, func() { _ = sqlDB.Close() })
		if err := s.useSQL(ctx, sqlDB, repo.SQLite, opts); err != nil {
			s.Close()
			return nil, err
		}
	case config.DriverPostgres:
		pool, err := Init(ctx, cfg.PostgresDSN)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("postgres init failed: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		sqlDB := OpenSQL(pool)
		s.closers = append(s.closers, func() { _ = sqlDB.Close() })
		if err := s.useSQL(ctx, sqlDB, repo.Postgres, opts); err != nil {
			s.Close()
			return nil, err
		}
	case config.DriverRedis:
		if s.Redis == nil {
			return nil, fmt.Errorf("redis store requires REDIS_URL")
		}
		s.Groups = repo.NewRedisStore(s.Redis, opts)
	case config.DriverDynamoDB:
		client, err := NewDynamoClient(ctx, cfg.AWSRegion, cfg.DynamoEndpoint)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("dynamodb init failed: %w", err)
		}
		s.Groups = repo.NewDynamoStore(client, cfg.DynamoTable, opts)
	default:
		s.Close()
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	logger.Info("task group store ready", "driver", cfg.StoreDriver, "ttl", cfg.TaskGroupTTL, "redis", s.Redis != nil)
	return s, nil
}

func (s *Stores) useSQL(ctx context.Context, sqlDB *sql.DB, dialect repo.Dialect, opts repo.Options) error {
	st := repo.NewSQLStore(sqlDB, dialect, opts)
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("%s migrate failed: %w", dialect.Name, err)
	}
	s.Groups, s.Reaper = st, st
	return nil
}
