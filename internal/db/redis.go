package db

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis 建立 Redis 连接
// url 格式为 "redis://[:password@]host:port[/database]"
// 连接失败时关闭客户端并返回错误
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}
