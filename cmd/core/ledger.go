package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	memory_adapter "github.com/JoeShih716/go-rinha-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-rinha-ledger/internal/app/core/adapter/out/mysql"
	postgres_adapter "github.com/JoeShih716/go-rinha-ledger/internal/app/core/adapter/out/postgres"
	redis_adapter "github.com/JoeShih716/go-rinha-ledger/internal/app/core/adapter/out/redis"
	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-rinha-ledger/internal/config"
	"github.com/JoeShih716/go-rinha-ledger/pkg/mysql"
	"github.com/JoeShih716/go-rinha-ledger/pkg/postgres"
	"github.com/JoeShih716/go-rinha-ledger/pkg/redis"
	"github.com/JoeShih716/go-rinha-ledger/pkg/wal"
)

// closer 關閉時依反向順序呼叫
type closer func() error

// buildLedger 依 ledger.type 建立帳本並開通設定中的客戶
//
// 回傳:
//
//	usecase.Ledger: 帳本實作
//	[]closer: 關閉時需要釋放的資源
//	error: 連線或初始化失敗
func buildLedger(ctx context.Context, cfg *config.Config, log *zap.Logger) (usecase.Ledger, []closer, error) {
	var closers []closer

	switch cfg.Ledger.Type {
	case config.LedgerPostgres:
		client, err := postgres.NewClient(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, client.Close)
		ledger := postgres_adapter.NewPostgresLedger(client)
		if err := ledger.EnsureSchema(ctx, cfg.Clients); err != nil {
			return nil, closers, err
		}
		return ledger, closers, nil

	case config.LedgerMySQL:
		client, err := mysql.NewClient(ctx, cfg.MySQL, log)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, client.Close)
		ledger := mysql_adapter.NewMySQLLedger(client)
		if err := ledger.Migrate(ctx, cfg.Clients); err != nil {
			return nil, closers, err
		}
		return ledger, closers, nil

	case config.LedgerRedis:
		rdb, err := redis.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, rdb.Close)
		ledger := redis_adapter.NewRedisLedger(rdb)
		if err := ledger.Provision(ctx, cfg.Clients); err != nil {
			return nil, closers, err
		}
		return ledger, closers, nil

	case config.LedgerMutex, config.LedgerActor:
		var opts []memory_adapter.Option
		if cfg.Ledger.WALPath != "" {
			walFile, err := wal.NewWAL(cfg.Ledger.WALPath)
			if err != nil {
				return nil, nil, err
			}
			closers = append(closers, walFile.Close)
			opts = append(opts, memory_adapter.WithWAL(walFile))
		}
		if cfg.Ledger.Type == config.LedgerMutex {
			ledger, err := memory_adapter.NewMutexLedger(cfg.ClientMap(), opts...)
			return ledger, closers, err
		}

		ledger, err := memory_adapter.NewActorLedger(cfg.ClientMap(), opts...)
		if err != nil {
			return nil, closers, err
		}
		// actor 在 ctx 取消後處理完剩餘請求才結束，需在 WAL 關閉前等待
		actorCtx, cancel := context.WithCancel(context.Background())
		ledger.Start(actorCtx)
		closers = append(closers, func() error {
			cancel()
			ledger.Wait()
			return nil
		})
		return ledger, closers, nil
	}
	return nil, nil, fmt.Errorf("unknown ledger type %q", cfg.Ledger.Type)
}
