package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Client 封裝 *sql.DB (lib/pq driver)
type Client struct {
	db *sql.DB
}

// NewClient 建立 PostgreSQL 連線並設定連線池，連線失敗會依設定重試
func NewClient(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	cfg.SetDefaults()

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	for i := 0; i < cfg.MaxRetries; i++ {
		if err = db.PingContext(ctx); err == nil {
			return &Client{db: db}, nil
		}
		if i < cfg.MaxRetries-1 {
			log.Warn("failed to connect to postgres, retrying",
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", cfg.MaxRetries),
				zap.Duration("retry_in", cfg.RetryInterval),
				zap.Error(err))
			select {
			case <-ctx.Done():
				_ = db.Close()
				return nil, fmt.Errorf("connect to postgres: %w", ctx.Err())
			case <-time.After(cfg.RetryInterval):
			}
		}
	}
	_ = db.Close()
	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", cfg.MaxRetries, err)
}

// DB 回傳底層的 *sql.DB
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close 關閉資料庫連線
func (c *Client) Close() error {
	return c.db.Close()
}
