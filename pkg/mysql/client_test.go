package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 127.0.0.1:1 沒有服務，連線會立刻被拒絕
const unreachableDSN = "test:test@tcp(127.0.0.1:1)/rinha?timeout=200ms"

func TestOpenAndPing_ClosesPoolOnFailure(t *testing.T) {
	ctx := context.Background()
	dialector := mysql.New(mysql.Config{DSN: unreachableDSN, SkipInitializeWithVersion: true})

	db, err := openAndPing(ctx, dialector, &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               logger.Discard,
	})
	require.Error(t, err)
	require.NotNil(t, db)

	rawDB, err := db.DB()
	require.NoError(t, err)
	assert.ErrorContains(t, rawDB.PingContext(ctx), "database is closed")
}

func TestNewClient_GivesUpAfterMaxRetries(t *testing.T) {
	cfg := Config{
		Host:          "127.0.0.1",
		Port:          1,
		User:          "test",
		Password:      "test",
		DBName:        "rinha",
		MaxRetries:    2,
		RetryInterval: time.Millisecond,
		LogLevel:      "silent",
	}
	_, err := NewClient(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestNewClient_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{Host: "127.0.0.1", Port: 1, MaxRetries: 5, RetryInterval: time.Hour, LogLevel: "silent"}
	_, err := NewClient(ctx, cfg, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db", User: "u", Password: "p", DBName: "rinha"}
	cfg.SetDefaults()
	assert.Equal(t, "u:p@tcp(db:3306)/rinha?charset=utf8mb4&parseTime=True&loc=UTC", cfg.DSN())
	assert.Equal(t, 100, cfg.MaxOpenConns)
}
