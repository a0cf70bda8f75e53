package grpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
)

// Client LedgerService 的客戶端
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// SubmitTransaction 送出一筆交易
func (c *Client) SubmitTransaction(ctx context.Context, clientID int64, candidate domain.Candidate, opts ...grpc.CallOption) (domain.TransactionResult, error) {
	in, err := structpb.NewStruct(map[string]any{
		"client_id": clientID,
		"valor":     candidate.Value,
		"tipo":      candidate.Kind,
		"descricao": candidate.Description,
	})
	if err != nil {
		return domain.TransactionResult{}, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodSubmitTransaction, in, out, opts...); err != nil {
		return domain.TransactionResult{}, err
	}

	fields := out.GetFields()
	limite, err := intField(fields, "limite")
	if err != nil {
		return domain.TransactionResult{}, fmt.Errorf("decode response: %w", err)
	}
	saldo, err := intField(fields, "saldo")
	if err != nil {
		return domain.TransactionResult{}, fmt.Errorf("decode response: %w", err)
	}
	return domain.TransactionResult{Limit: limite, Balance: saldo}, nil
}

// GetStatement 取得對帳單 (只包含對外欄位，Sequence / RefID 為零值)
func (c *Client) GetStatement(ctx context.Context, clientID int64, opts ...grpc.CallOption) (*domain.Statement, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetStatement, wrapperspb.Int64(clientID), out, opts...); err != nil {
		return nil, err
	}
	st, err := decodeStatement(clientID, out)
	if err != nil {
		return nil, fmt.Errorf("decode statement: %w", err)
	}
	return st, nil
}

func decodeStatement(clientID int64, s *structpb.Struct) (*domain.Statement, error) {
	saldo := s.GetFields()["saldo"].GetStructValue()
	if saldo == nil {
		return nil, fmt.Errorf("saldo is required")
	}
	fields := saldo.GetFields()
	total, err := intField(fields, "total")
	if err != nil {
		return nil, err
	}
	limite, err := intField(fields, "limite")
	if err != nil {
		return nil, err
	}
	takenAt, err := timeField(fields, "data_extrato")
	if err != nil {
		return nil, err
	}

	list := s.GetFields()["ultimas_transacoes"].GetListValue().GetValues()
	recent := make([]domain.Transaction, 0, len(list))
	for i, v := range list {
		f := v.GetStructValue().GetFields()
		valor, err := intField(f, "valor")
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		tipo, err := stringField(f, "tipo")
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		kind, err := domain.ParseKind(tipo)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		desc, err := stringField(f, "descricao")
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		at, err := timeField(f, "realizada_em")
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		recent = append(recent, domain.Transaction{
			ClientID:    clientID,
			Value:       valor,
			Kind:        kind,
			Description: desc,
			OccurredAt:  at,
		})
	}
	return &domain.Statement{Balance: total, Limit: limite, TakenAt: takenAt, Recent: recent}, nil
}

func timeField(fields map[string]*structpb.Value, name string) (time.Time, error) {
	s, err := stringField(fields, name)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", name, err)
	}
	return t, nil
}
