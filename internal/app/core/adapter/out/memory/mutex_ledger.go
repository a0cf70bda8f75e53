package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-rinha-ledger/pkg/wal"
)

// MutexLedger 是一個使用「每個客戶一把鎖」實現的帳本
//
// 結構:
//
//	clients: 客戶資料 Map (建立後 key 不再變動，讀取不需全域鎖)
//	locks: 每個客戶一個容量 1 的 channel，當作可被 ctx 取消的 Mutex
//	seq: 全域遞增的交易序號
//	wal: Write-Ahead Log 實例 (可為 nil)
type MutexLedger struct {
	clients map[int64]*clientState
	locks   map[int64]chan struct{}
	seq     atomic.Uint64
	wal     *wal.WAL
	now     func() time.Time
}

// NewMutexLedger 建立一個新的 MutexLedger 實例
//
// 參數:
//
//	clients: 初始客戶資料 Map (會複製，不會持有呼叫端的指標)
//	opts: WithWAL / WithClock
//
// 回傳:
//
//	*MutexLedger: MutexLedger 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewMutexLedger(clients map[int64]*domain.Client, opts ...Option) (*MutexLedger, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ledger := &MutexLedger{
		clients: newClientStates(clients),
		locks:   make(map[int64]chan struct{}, len(clients)),
		wal:     o.wal,
		now:     o.now,
	}
	for id := range ledger.clients {
		ledger.locks[id] = make(chan struct{}, 1)
	}
	maxSeq, err := replayWAL(ledger.wal, ledger.clients)
	if err != nil {
		return nil, err
	}
	ledger.seq.Store(maxSeq)
	return ledger, nil
}

// lock 取得客戶的獨佔鎖，ctx 到期時放棄並回傳逾時的 StoreError
func (m *MutexLedger) lock(ctx context.Context, clientID int64) (*clientState, func(), error) {
	st, ok := m.clients[clientID]
	if !ok {
		return nil, nil, domain.ErrClientNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, domain.NewStoreError("acquire client lock", err)
	}
	l := m.locks[clientID]
	select {
	case l <- struct{}{}:
		return st, func() { <-l }, nil
	case <-ctx.Done():
		return nil, nil, domain.NewStoreError("acquire client lock", ctx.Err())
	}
}

// Apply 套用交易 (Level 1: 每個客戶一把鎖)
//
// 參數:
//
//	ctx: 上下文
//	tran: 已驗證的交易，成功時會填入 Sequence 與 OccurredAt
//
// 回傳:
//
//	domain.TransactionResult: 交易後的額度與餘額
//	error: ErrClientNotFound / ErrLimitExceeded / StoreError
func (m *MutexLedger) Apply(ctx context.Context, tran *domain.Transaction) (domain.TransactionResult, error) {
	st, unlock, err := m.lock(ctx, tran.ClientID)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	defer unlock()

	next, err := st.client.Admits(tran.SignedEffect())
	if err != nil {
		return domain.TransactionResult{}, err
	}

	rec := *tran
	rec.Sequence = m.seq.Add(1)
	rec.OccurredAt = st.stamp(m.now())

	// 1. 寫入 WAL (Critical Path)，失敗時記憶體狀態不變
	if m.wal != nil {
		if err := m.wal.Write(&rec); err != nil {
			return domain.TransactionResult{}, domain.NewStoreError("write wal", err)
		}
	}

	// 2. 更新記憶體
	st.commit(rec, next)
	tran.Sequence, tran.OccurredAt = rec.Sequence, rec.OccurredAt
	return st.client.Result(), nil
}

// Snapshot 取得對帳單，會等待同一客戶進行中的 Apply 完成 (受 ctx 限制)
//
// 參數:
//
//	ctx: 上下文
//	clientID: 客戶 ID
//
// 回傳:
//
//	*domain.Statement: 對帳單
//	error: ErrClientNotFound / 逾時的 StoreError
func (m *MutexLedger) Snapshot(ctx context.Context, clientID int64) (*domain.Statement, error) {
	st, unlock, err := m.lock(ctx, clientID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return st.statement(m.now()), nil
}

// LoadAllClients 回傳所有客戶目前狀態的複本
func (m *MutexLedger) LoadAllClients(ctx context.Context) (map[int64]*domain.Client, error) {
	out := make(map[int64]*domain.Client, len(m.clients))
	for id := range m.clients {
		st, unlock, err := m.lock(ctx, id)
		if err != nil {
			return nil, err
		}
		c := st.client
		unlock()
		out[id] = &c
	}
	return out, nil
}

var _ usecase.Ledger = (*MutexLedger)(nil)
