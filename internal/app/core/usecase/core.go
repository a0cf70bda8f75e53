package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
)

// DefaultOperationTimeout 呼叫端沒有 deadline 時使用
const DefaultOperationTimeout = 2 * time.Second

// CoreUseCase 是核心業務邏輯層 (Transaction Processor)
// 本身不持有可變狀態，可安全地被多個 goroutine 同時呼叫
type CoreUseCase struct {
	ledger    Ledger
	publisher EventPublisher
	logger    *zap.Logger
	timeout   time.Duration
}

// Option 設定 CoreUseCase
type Option func(*CoreUseCase)

// WithPublisher 交易成功後發佈事件
func WithPublisher(p EventPublisher) Option {
	return func(c *CoreUseCase) {
		c.publisher = p
	}
}

// WithLogger 設定 logger
func WithLogger(l *zap.Logger) Option {
	return func(c *CoreUseCase) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOperationTimeout 設定預設的單次操作逾時，<= 0 表示不限制
func WithOperationTimeout(d time.Duration) Option {
	return func(c *CoreUseCase) {
		c.timeout = d
	}
}

func NewCoreUseCase(ledger Ledger, opts ...Option) *CoreUseCase {
	c := &CoreUseCase{
		ledger:  ledger,
		logger:  zap.NewNop(),
		timeout: DefaultOperationTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit 驗證並套用一筆交易
//
// 參數:
//
//	ctx: 上下文
//	clientID: 客戶 ID
//	candidate: 尚未驗證的交易請求
//
// 回傳:
//
//	domain.TransactionResult: 交易後的額度與餘額
//	error: 驗證錯誤 / ErrLimitExceeded / ErrClientNotFound / 儲存層錯誤
func (c *CoreUseCase) Submit(ctx context.Context, clientID int64, candidate domain.Candidate) (domain.TransactionResult, error) {
	tran, err := domain.NewTransaction(clientID, candidate)
	if err != nil {
		return domain.TransactionResult{}, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.ledger.Apply(ctx, tran)
	if err != nil {
		if domain.KindOf(err) == domain.KindStore {
			c.logger.Warn("apply failed",
				zap.Int64("client_id", clientID),
				zap.Bool("timeout", domain.IsTimeout(err)),
				zap.Error(err))
		}
		return domain.TransactionResult{}, err
	}

	c.publish(tran, res)
	return res, nil
}

// Statement 取得客戶對帳單
func (c *CoreUseCase) Statement(ctx context.Context, clientID int64) (*domain.Statement, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	st, err := c.ledger.Snapshot(ctx, clientID)
	if err != nil {
		if domain.KindOf(err) == domain.KindStore {
			c.logger.Warn("snapshot failed", zap.Int64("client_id", clientID), zap.Error(err))
		}
		return nil, err
	}
	return st, nil
}

// Clients 回傳所有已開通的客戶 ID
func (c *CoreUseCase) Clients(ctx context.Context) ([]int64, error) {
	clients, err := c.ledger.LoadAllClients(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(clients))
	for id := range clients {
		ids = append(ids, id)
	}
	return ids, nil
}

// publish 交易已提交，發佈失敗只記錄不影響結果
func (c *CoreUseCase) publish(tran *domain.Transaction, res domain.TransactionResult) {
	if c.publisher == nil {
		return
	}
	// 不沿用請求的 ctx，避免請求結束後被取消
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.publisher.PublishTransactionApplied(ctx, domain.NewTransactionApplied(tran, res)); err != nil {
		c.logger.Error("publish transaction applied",
			zap.Int64("client_id", tran.ClientID),
			zap.String("ref_id", tran.RefID.String()),
			zap.Error(err))
	}
}

func (c *CoreUseCase) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
