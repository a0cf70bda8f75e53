package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	grpc_adapter "github.com/JoeShih716/go-rinha-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/adapter/in/rest"
	kafka_adapter "github.com/JoeShih716/go-rinha-ledger/internal/app/core/adapter/out/kafka"
	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-rinha-ledger/internal/config"
	grpcpkg "github.com/JoeShih716/go-rinha-ledger/pkg/grpc"
	"github.com/JoeShih716/go-rinha-ledger/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "設定檔路徑 (空字串只使用環境變數)")
	flag.Parse()

	// 1. 載入設定
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, _, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化 Ledger (Driven Adapter)
	ledger, closers, err := buildLedger(ctx, cfg, zl)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				zl.Warn("close resource", zap.Error(err))
			}
		}
	}()
	if err != nil {
		return err
	}
	zl.Info("ledger ready", zap.String("type", string(cfg.Ledger.Type)), zap.Int("clients", len(cfg.Clients)))

	// 3. 初始化 UseCase
	opts := []usecase.Option{
		usecase.WithLogger(zl),
		usecase.WithOperationTimeout(cfg.Ledger.OperationTimeout),
	}
	if cfg.Kafka.Enabled {
		publisher, err := kafka_adapter.NewPublisher(cfg.Kafka, zl)
		if err != nil {
			return err
		}
		closers = append(closers, publisher.Close)
		opts = append(opts, usecase.WithPublisher(publisher))
	}
	core := usecase.NewCoreUseCase(ledger, opts...)

	clientIDs, err := core.Clients(ctx)
	if err != nil {
		return err
	}

	// 4. HTTP Server (Driving Adapter)
	router := rest.NewRouter(rest.NewHandler(core, zl, clientIDs), zl, rest.RouterOptions{
		MaxConcurrency: cfg.HTTP.MaxConcurrency,
		AcquireTimeout: cfg.HTTP.AcquireTimeout,
	})
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		zl.Info("starting http server", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 5. gRPC Server
	var grpcServer *grpcpkg.Server
	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		grpcServer = grpcpkg.NewServer(zl)
		grpc_adapter.RegisterLedgerServiceServer(grpcServer, grpc_adapter.NewGrpcServer(core, clientIDs))
		grpcServer.SetServing("", true)
		grpcServer.SetServing(grpc_adapter.ServiceName, true)
		go func() {
			zl.Info("starting grpc server", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	// Graceful Shutdown
	select {
	case <-ctx.Done():
		zl.Info("shutting down server")
	case err = <-errCh:
		zl.Error("server failed, shutting down", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		zl.Warn("http shutdown", zap.Error(shutdownErr))
	}
	zl.Info("server exited", zap.Duration("shutdown_timeout", cfg.HTTP.ShutdownTimeout), zap.Time("at", time.Now()))
	return err
}
