package usecase

import (
	"context"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
)

// Ledger 是帳務系統的介面 (Ledger Store)
//
// 所有實作都必須保證:
//   - 同一客戶的 Apply 逐筆序列化，不同客戶互不阻塞
//   - Apply 全有或全無，失敗時餘額與交易紀錄完全不變
//   - Snapshot 的餘額與交易清單來自同一個一致的時間點
type Ledger interface {
	// Apply 套用一筆已驗證的交易，回傳交易後的額度與餘額
	Apply(ctx context.Context, tran *domain.Transaction) (domain.TransactionResult, error)
	// Snapshot 取得客戶對帳單
	Snapshot(ctx context.Context, clientID int64) (*domain.Statement, error)
	// LoadAllClients 載入所有客戶
	LoadAllClients(ctx context.Context) (map[int64]*domain.Client, error)
}

// EventPublisher 發佈交易完成事件 (best effort)
type EventPublisher interface {
	PublishTransactionApplied(ctx context.Context, event domain.TransactionApplied) error
}
