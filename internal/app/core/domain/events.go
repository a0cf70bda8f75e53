package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionApplied 交易提交後對外發佈的事件
type TransactionApplied struct {
	RefID       uuid.UUID `json:"ref_id"`
	Sequence    uint64    `json:"sequence"`
	ClientID    int64     `json:"cliente_id"`
	Value       int64     `json:"valor"`
	Kind        string    `json:"tipo"`
	Description string    `json:"descricao"`
	OccurredAt  time.Time `json:"realizada_em"`
	Balance     int64     `json:"saldo"`
	Limit       int64     `json:"limite"`
}

func NewTransactionApplied(tran *Transaction, res TransactionResult) TransactionApplied {
	return TransactionApplied{
		RefID:       tran.RefID,
		Sequence:    tran.Sequence,
		ClientID:    tran.ClientID,
		Value:       tran.Value,
		Kind:        tran.Kind.Code(),
		Description: tran.Description,
		OccurredAt:  tran.OccurredAt,
		Balance:     res.Balance,
		Limit:       res.Limit,
	}
}
