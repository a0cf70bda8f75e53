package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewClient 建立 Redis 連線，PING 失敗會依設定重試
//
// 參數:
//
//	ctx: 上下文 (取消時停止重試)
//	cfg: 連線配置
//	log: logger
//
// 回傳:
//
//	*goredis.Client: 可直接使用的 client
//	error: 重試次數用盡仍無法連線
func NewClient(ctx context.Context, cfg Config, log *zap.Logger) (*goredis.Client, error) {
	cfg.SetDefaults()

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		// ctx 的 deadline 直接套用到每個命令
		ContextTimeoutEnabled: true,
	})

	var err error
	for i := 0; i < cfg.MaxRetries; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return rdb, nil
		}
		if i < cfg.MaxRetries-1 {
			log.Warn("failed to connect to redis, retrying",
				zap.String("addr", cfg.Addr),
				zap.Int("attempt", i+1),
				zap.Duration("retry_in", cfg.RetryInterval),
				zap.Error(err))
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return nil, fmt.Errorf("connect to redis: %w", ctx.Err())
			case <-time.After(cfg.RetryInterval):
			}
		}
	}
	_ = rdb.Close()
	return nil, fmt.Errorf("failed to connect to redis %s after %d attempts: %w", cfg.Addr, cfg.MaxRetries, err)
}
