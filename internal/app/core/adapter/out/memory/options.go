package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-rinha-ledger/pkg/wal"
)

// Option 設定記憶體帳本
type Option func(*options)

type options struct {
	wal *wal.WAL
	now func() time.Time
}

func defaultOptions() options {
	return options{now: time.Now}
}

// WithWAL 啟用 Write-Ahead Log，交易會先寫入 WAL 再更新記憶體
func WithWAL(w *wal.WAL) Option {
	return func(o *options) {
		o.wal = w
	}
}

// WithClock 替換時間來源 (測試用)
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// clientState 單一客戶的帳戶與交易紀錄，只能在持有該客戶的鎖 (或 actor goroutine 內) 存取
type clientState struct {
	client  domain.Client
	history []domain.Transaction
}

// stamp 指定交易時間，保證同一客戶的時間不會倒退，讓時間順序與 Sequence 一致
func (s *clientState) stamp(now time.Time) time.Time {
	now = now.UTC()
	if n := len(s.history); n > 0 {
		if last := s.history[n-1].OccurredAt; now.Before(last) {
			return last
		}
	}
	return now
}

// commit 更新餘額並附加交易紀錄，只保留最近 domain.StatementSize 筆
// (完整紀錄在 WAL 裡)
func (s *clientState) commit(tran domain.Transaction, balance int64) {
	s.client.Balance = balance
	if len(s.history) == domain.StatementSize {
		copy(s.history, s.history[1:])
		s.history = s.history[:domain.StatementSize-1]
	}
	s.history = append(s.history, tran)
}

// statement 最近的交易在前，最多 domain.StatementSize 筆
func (s *clientState) statement(takenAt time.Time) *domain.Statement {
	n := len(s.history)
	size := min(n, domain.StatementSize)
	recent := make([]domain.Transaction, 0, size)
	for i := n - 1; i >= n-size; i-- {
		recent = append(recent, s.history[i])
	}
	return domain.NewStatement(s.client.Balance, s.client.Limit, takenAt, recent)
}

func newClientStates(clients map[int64]*domain.Client) map[int64]*clientState {
	states := make(map[int64]*clientState, len(clients))
	for id, c := range clients {
		states[id] = &clientState{client: *c}
	}
	return states
}

// replayWAL 從 WAL 檔案恢復帳本狀態 (單執行緒，不需 Lock)
//
// 回傳:
//
//	uint64: WAL 中最大的 Sequence
//	error: 恢復過程錯誤
func replayWAL(w *wal.WAL, states map[int64]*clientState) (uint64, error) {
	if w == nil {
		return 0, nil
	}
	var maxSeq uint64
	err := w.ReadAll(func(jsonRaw []byte) error {
		var tran domain.Transaction
		if err := json.Unmarshal(jsonRaw, &tran); err != nil {
			return err
		}
		st, ok := states[tran.ClientID]
		if !ok {
			return fmt.Errorf("wal sequence %d: %w", tran.Sequence, domain.ErrClientNotFound)
		}
		next, err := st.client.Admits(tran.SignedEffect())
		if err != nil {
			return fmt.Errorf("wal sequence %d: %w", tran.Sequence, err)
		}
		st.commit(tran, next)
		maxSeq = max(maxSeq, tran.Sequence)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recover from wal: %w", err)
	}
	return maxSeq, nil
}
