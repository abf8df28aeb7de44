package transportgrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	grpcinterceptors "github.com/dota-pilot1/dota-admin-backend/internal/transport/grpc/interceptors"
	"github.com/dota-pilot1/dota-admin-backend/internal/usecase"
)

// PresenceServiceName is the fully qualified gRPC service name.
const PresenceServiceName = "dota.v1.PresenceService"

// Full method names served by PresenceServer.
const (
	MethodListOnline = "/" + PresenceServiceName + "/ListOnline"
	MethodWhoAmI     = "/" + PresenceServiceName + "/WhoAmI"
)

// PresenceServiceServer is the contract registered under PresenceServiceName.
// Messages use the well-known protobuf types so no generated code is needed.
type PresenceServiceServer interface {
	ListOnline(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	WhoAmI(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// PresenceServer answers presence queries for internal callers.
type PresenceServer struct {
	tracker *usecase.PresenceTracker
}

// NewPresenceServer constructs a presence server over tracker.
func NewPresenceServer(tracker *usecase.PresenceTracker) *PresenceServer {
	return &PresenceServer{tracker: tracker}
}

// ListOnline returns {onlineUsers, count}.
func (s *PresenceServer) ListOnline(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	users := s.tracker.OnlineUsers()
	values := make([]any, len(users))
	for i, user := range users {
		values[i] = user
	}

	resp, err := structpb.NewStruct(map[string]any{
		"onlineUsers": values,
		"count":       len(users),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode presence: %v", err)
	}
	return resp, nil
}

// WhoAmI echoes the authenticated principal.
func (s *PresenceServer) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	principal, ok := grpcinterceptors.PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	authorities := make([]any, len(principal.Authorities))
	for i, authority := range principal.Authorities {
		authorities[i] = authority
	}

	resp, err := structpb.NewStruct(map[string]any{
		"email":       principal.Email,
		"role":        principal.Role,
		"authorities": authorities,
		"online":      s.tracker.IsOnline(principal.Email),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode principal: %v", err)
	}
	return resp, nil
}

// RegisterPresenceServiceServer registers srv on registrar.
func RegisterPresenceServiceServer(registrar grpc.ServiceRegistrar, srv PresenceServiceServer) {
	registrar.RegisterService(&presenceServiceDesc, srv)
}

var presenceServiceDesc = grpc.ServiceDesc{
	ServiceName: PresenceServiceName,
	HandlerType: (*PresenceServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListOnline", Handler: listOnlineHandler},
		{MethodName: "WhoAmI", Handler: whoAmIHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dota/v1/presence.proto",
}

func listOnlineHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PresenceServiceServer).ListOnline(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodListOnline}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PresenceServiceServer).ListOnline(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func whoAmIHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PresenceServiceServer).WhoAmI(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodWhoAmI}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PresenceServiceServer).WhoAmI(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
