package rest

import (
	"encoding/json"
	"time"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
)

// transactionRequest POST /clientes/{id}/transacoes 的 body
// Valor 用 json.Number 才能分辨 1 與 1.5；Descricao 用指標才能分辨 null 與 ""
type transactionRequest struct {
	Valor     json.Number `json:"valor"`
	Tipo      string      `json:"tipo"`
	Descricao *string     `json:"descricao"`
}

type transactionResponse struct {
	Limite int64 `json:"limite"`
	Saldo  int64 `json:"saldo"`
}

type statementResponse struct {
	Saldo             balanceResponse       `json:"saldo"`
	UltimasTransacoes []statementTransaction `json:"ultimas_transacoes"`
}

type balanceResponse struct {
	Total       int64  `json:"total"`
	DataExtrato string `json:"data_extrato"`
	Limite      int64  `json:"limite"`
}

type statementTransaction struct {
	Valor       int64  `json:"valor"`
	Tipo        string `json:"tipo"`
	Descricao   string `json:"descricao"`
	RealizadaEm string `json:"realizada_em"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newStatementResponse(st *domain.Statement) statementResponse {
	recent := make([]statementTransaction, 0, len(st.Recent))
	for _, t := range st.Recent {
		recent = append(recent, statementTransaction{
			Valor:       t.Value,
			Tipo:        t.Kind.Code(),
			Descricao:   t.Description,
			RealizadaEm: t.OccurredAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return statementResponse{
		Saldo: balanceResponse{
			Total:       st.Balance,
			DataExtrato: st.TakenAt.UTC().Format(time.RFC3339Nano),
			Limite:      st.Limit,
		},
		UltimasTransacoes: recent,
	}
}
