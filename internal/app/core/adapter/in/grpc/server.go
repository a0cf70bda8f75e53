package grpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/usecase"
)

type GrpcServer struct {
	core  *usecase.CoreUseCase
	known map[int64]struct{}
}

// NewGrpcServer clientIDs 為 nil 時不檢查客戶是否已開通，交給核心判斷
func NewGrpcServer(core *usecase.CoreUseCase, clientIDs []int64) *GrpcServer {
	s := &GrpcServer{core: core}
	if clientIDs != nil {
		s.known = make(map[int64]struct{}, len(clientIDs))
		for _, id := range clientIDs {
			s.known[id] = struct{}{}
		}
	}
	return s
}

func (s *GrpcServer) SubmitTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	// 1. 解析欄位
	fields := req.GetFields()
	clientID, err := intField(fields, "client_id")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if !s.provisioned(clientID) {
		return nil, toStatus(domain.ErrClientNotFound)
	}
	valor, err := intField(fields, "valor")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	tipo, err := stringField(fields, "tipo")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	descricao, err := stringField(fields, "descricao")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	// 2. 執行交易
	res, err := s.core.Submit(ctx, clientID, domain.Candidate{Value: valor, Kind: tipo, Description: descricao})
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"limite": res.Limit,
		"saldo":  res.Balance,
	})
}

func (s *GrpcServer) GetStatement(ctx context.Context, req *wrapperspb.Int64Value) (*structpb.Struct, error) {
	clientID := req.GetValue()
	if !s.provisioned(clientID) {
		return nil, toStatus(domain.ErrClientNotFound)
	}
	st, err := s.core.Statement(ctx, clientID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStatement(st)
}

func (s *GrpcServer) provisioned(clientID int64) bool {
	if s.known == nil {
		return true
	}
	_, ok := s.known[clientID]
	return ok
}

// toStatus 依錯誤分類轉成 gRPC status
func toStatus(err error) error {
	kind := domain.KindOf(err)
	switch {
	case kind.IsValidation():
		return status.Error(codes.InvalidArgument, err.Error())
	case kind == domain.KindClientNotFound:
		return status.Error(codes.NotFound, err.Error())
	case kind == domain.KindLimitExceeded:
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrStore) && errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, domain.ErrStore) && errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case kind.Retryable():
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}

// intField 取出整數欄位；Struct 的數字都是 float64，帶小數或超出範圍視為錯誤
func intField(fields map[string]*structpb.Value, name string) (int64, error) {
	v, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("%s is required", name)
	}
	num, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	f := num.NumberValue
	if f != math.Trunc(f) || f >= 1<<63 || f < -(1<<63) {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return int64(f), nil
}

// stringField 取出字串欄位，null 或缺少視為錯誤
func stringField(fields map[string]*structpb.Value, name string) (string, error) {
	v, ok := fields[name]
	if !ok {
		return "", fmt.Errorf("%s is required", name)
	}
	str, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%s must be a string", name)
	}
	return str.StringValue, nil
}

func encodeStatement(st *domain.Statement) (*structpb.Struct, error) {
	recent := make([]any, 0, len(st.Recent))
	for _, t := range st.Recent {
		recent = append(recent, map[string]any{
			"valor":        t.Value,
			"tipo":         t.Kind.Code(),
			"descricao":    t.Description,
			"realizada_em": t.OccurredAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return structpb.NewStruct(map[string]any{
		"saldo": map[string]any{
			"total":        st.Balance,
			"data_extrato": st.TakenAt.UTC().Format(time.RFC3339Nano),
			"limite":       st.Limit,
		},
		"ultimas_transacoes": recent,
	})
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
