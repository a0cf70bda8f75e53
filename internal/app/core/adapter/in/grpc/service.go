package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName 完整的 gRPC service 名稱
const ServiceName = "ledger.v1.LedgerService"

const (
	methodSubmitTransaction = "/" + ServiceName + "/SubmitTransaction"
	methodGetStatement      = "/" + ServiceName + "/GetStatement"
)

// LedgerServiceServer 帳本服務的 server 端介面
// 訊息直接使用 protobuf well-known types，不需要另外產生程式碼
type LedgerServiceServer interface {
	// SubmitTransaction Struct{client_id, valor, tipo, descricao} -> Struct{limite, saldo}
	SubmitTransaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// GetStatement 客戶 ID -> Struct{saldo{total, data_extrato, limite}, ultimas_transacoes[]}
	GetStatement(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
}

// RegisterLedgerServiceServer 將實作註冊到 grpc.Server
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// LedgerServiceDesc 手寫的 ServiceDesc
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitTransaction", Handler: submitTransactionHandler},
		{MethodName: "GetStatement", Handler: getStatementHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func submitTransactionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServiceServer).SubmitTransaction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSubmitTransaction}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LedgerServiceServer).SubmitTransaction(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getStatementHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServiceServer).GetStatement(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetStatement}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LedgerServiceServer).GetStatement(ctx, req.(*wrapperspb.Int64Value))
	}
	return interceptor(ctx, in, info, handler)
}
