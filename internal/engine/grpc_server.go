package engine

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/purposegate/internal/domain"
)

// DecisionServiceServer контракт purposegate.v1.DecisionService.
// Сообщения - google.protobuf.Struct той же формы, что и JSON в HTTP, поэтому .proto не нужен.
type DecisionServiceServer interface {
	Decide(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

const decideMethod = "/purposegate.v1.DecisionService/Decide"

var DecisionServiceDesc = grpc.ServiceDesc{
	ServiceName: "purposegate.v1.DecisionService",
	HandlerType: (*DecisionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Decide", Handler: decideHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "purposegate/v1/decision.proto",
}

func RegisterDecisionService(s grpc.ServiceRegistrar, srv DecisionServiceServer) {
	s.RegisterService(&DecisionServiceDesc, srv)
}

func decideHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DecisionServiceServer).Decide(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: decideMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DecisionServiceServer).Decide(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// DecisionServiceClient тонкий клиент (внутренние сервисы, тесты)
type DecisionServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewDecisionServiceClient(cc grpc.ClientConnInterface) *DecisionServiceClient {
	return &DecisionServiceClient{cc: cc}
}

func (c *DecisionServiceClient) Decide(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, decideMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type GRPCDecisionServer struct {
	gw *Gateway
}

func NewGRPCDecisionServer(gw *Gateway) *GRPCDecisionServer {
	return &GRPCDecisionServer{gw: gw}
}

// Decide тот же пайплайн, что и для HTTP. Отказ - это нормальный ответ, а не gRPC ошибка.
func (s *GRPCDecisionServer) Decide(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}

	// В gRPC заголовки приходят через metadata в нижнем регистре
	md, _ := metadata.FromIncomingContext(ctx)

	toolID, malformed := toolFromStruct(req)
	decision := s.gw.Evaluate(ctx, Input{
		ToolID:        toolID,
		Authorization: firstMD(md, "authorization"),
		Purpose:       firstMD(md, PurposeHeader),
		Malformed:     malformed,
		Transport:     TransportGRPC,
	})
	return decisionToStruct(decision), nil
}

func toolFromStruct(req *structpb.Struct) (string, bool) {
	v, ok := req.GetFields()["tool"]
	if !ok {
		return "", false
	}
	s, isString := v.GetKind().(*structpb.Value_StringValue)
	if !isString {
		return "", true
	}
	return s.StringValue, false
}

func firstMD(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func decisionToStruct(d domain.Decision) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"allowed": structpb.NewBoolValue(d.Allowed),
	}
	if d.Allowed {
		fields["tool"] = structpb.NewStringValue(d.ToolID)
		fields["purpose"] = structpb.NewStringValue(d.Purpose)
		fields["minimized"] = structpb.NewBoolValue(d.Minimized)
	} else {
		fields["reason"] = structpb.NewStringValue(string(d.Reason))
	}
	return &structpb.Struct{Fields: fields}
}
