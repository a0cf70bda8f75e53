package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	// DescriptionMinLen 描述最短長度
	DescriptionMinLen = 1
	// DescriptionMaxLen 描述最長長度
	DescriptionMaxLen = 10
	// StatementSize 對帳單最多回傳的交易筆數
	StatementSize = 10
)

// TransactionKind 交易類型
// 直接使用對外的單字元代碼 ('c' / 'd')，寫入 DB 與 WAL 都不需轉換
type TransactionKind byte

const (
	// 入帳
	KindCredit TransactionKind = 'c'
	// 扣款
	KindDebit TransactionKind = 'd'
)

// ParseKind 將外部傳入的類型代碼轉成 TransactionKind
func ParseKind(code string) (TransactionKind, error) {
	switch code {
	case "c":
		return KindCredit, nil
	case "d":
		return KindDebit, nil
	}
	return 0, invalidf(KindInvalidKind, "tipo must be 'c' or 'd', got %q", code)
}

// Code 回傳單字元代碼
func (k TransactionKind) Code() string {
	return string(rune(k))
}

func (k TransactionKind) Valid() bool {
	return k == KindCredit || k == KindDebit
}

// Candidate 尚未驗證的交易請求 (由 HTTP / gRPC 轉入)
type Candidate struct {
	Value       int64
	Kind        string
	Description string
}

// Transaction 已被接受的帳務異動，寫入後不可變
type Transaction struct {
	// Sequence: 由 Ledger Store 分配的插入順序，時間相同時用來決定先後
	Sequence uint64 `json:"sequence"`
	// ClientID: 所屬客戶
	ClientID int64 `json:"client_id"`
	// Value: 金額 (永遠為正，正負由 Kind 決定)
	Value int64 `json:"value"`
	// OccurredAt: 由 Store 在持有客戶鎖時寫入
	OccurredAt time.Time `json:"occurred_at"`
	// Description: 1..10
	Description string `json:"description"`
	// RefID: 外部追蹤號 (UUID)
	RefID uuid.UUID       `json:"ref_id"`
	Kind  TransactionKind `json:"kind"`
}

// NewTransaction 依序驗證 kind、description、value，通過後建立交易
//
// 參數:
//
//	clientID: 客戶 ID
//	c: 尚未驗證的交易請求
//
// 回傳:
//
//	*Transaction: 驗證後的交易 (Sequence / OccurredAt 尚未指定)
//	error: ErrInvalidKind / ErrInvalidDescription / ErrInvalidValue
func NewTransaction(clientID int64, c Candidate) (*Transaction, error) {
	kind, err := ParseKind(c.Kind)
	if err != nil {
		return nil, err
	}
	if err := ValidateDescription(c.Description); err != nil {
		return nil, err
	}
	if c.Value <= 0 {
		return nil, invalidf(KindInvalidValue, "valor must be a positive integer, got %d", c.Value)
	}
	return &Transaction{
		RefID:       uuid.New(),
		ClientID:    clientID,
		Value:       c.Value,
		Kind:        kind,
		Description: c.Description,
	}, nil
}

// ValidateDescription 長度以 byte 計算
func ValidateDescription(desc string) error {
	if n := len(desc); n < DescriptionMinLen || n > DescriptionMaxLen {
		return invalidf(KindInvalidDescription,
			"descricao length must be between %d and %d, got %d", DescriptionMinLen, DescriptionMaxLen, n)
	}
	return nil
}

// SignedEffect 入帳為正，扣款為負
func (t *Transaction) SignedEffect() int64 {
	if t.Kind == KindDebit {
		return -t.Value
	}
	return t.Value
}

// TransactionResult 交易成功後客戶的額度與餘額
type TransactionResult struct {
	Limit   int64
	Balance int64
}

// Statement 某一時間點的對帳單
// Balance / Limit / Recent 必須來自同一次一致的讀取
type Statement struct {
	Balance int64
	Limit   int64
	TakenAt time.Time
	// Recent 依 (OccurredAt DESC, Sequence DESC) 排序，最多 StatementSize 筆
	Recent []Transaction
}

// NewStatement 依 (OccurredAt DESC, Sequence DESC) 排序 recent，最多保留 StatementSize 筆
func NewStatement(balance, limit int64, takenAt time.Time, recent []Transaction) *Statement {
	slices.SortStableFunc(recent, func(a, b Transaction) int {
		switch {
		case a.Newer(&b):
			return -1
		case b.Newer(&a):
			return 1
		}
		return 0
	})
	if len(recent) > StatementSize {
		recent = recent[:StatementSize]
	}
	return &Statement{
		Balance: balance,
		Limit:   limit,
		TakenAt: takenAt.UTC(),
		Recent:  recent,
	}
}

// Newer 判斷 t 是否比 other 新
func (t *Transaction) Newer(other *Transaction) bool {
	if !t.OccurredAt.Equal(other.OccurredAt) {
		return t.OccurredAt.After(other.OccurredAt)
	}
	return t.Sequence > other.Sequence
}
