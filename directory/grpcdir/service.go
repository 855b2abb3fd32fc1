package grpcdir

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the gRPC service every directory endpoint exposes.
//
// Messages are protobuf BytesValue wrappers holding deterministic CBOR, so
// no protoc toolchain is needed on either side.
const ServiceName = "xdao.channels.directory.v1.Directory"

// Method names.
const (
	MethodProbe         = "Probe"
	MethodCreate        = "Create"
	MethodFund          = "Fund"
	MethodFundToTarget  = "FundToTarget"
	MethodIssueToken    = "IssueToken"
	MethodStoreShard    = "StoreShard"
	MethodShardStatus   = "ShardStatus"
	MethodFetchShard    = "FetchShard"
	MethodSetPage       = "SetPage"
	MethodStorageServer = "StorageServer"
)

var methods = []string{
	MethodProbe,
	MethodCreate,
	MethodFund,
	MethodFundToTarget,
	MethodIssueToken,
	MethodStoreShard,
	MethodShardStatus,
	MethodFetchShard,
	MethodSetPage,
	MethodStorageServer,
}

// signed lists the methods that act for a principal and must carry a
// request signature.
var signed = map[string]bool{
	MethodProbe:        true,
	MethodCreate:       true,
	MethodFund:         true,
	MethodFundToTarget: true,
	MethodIssueToken:   true,
	MethodStoreShard:   true,
	MethodSetPage:      true,
}

func fullMethod(method string) string { return "/" + ServiceName + "/" + method }

// DirectoryServer handles one raw request for method.
type DirectoryServer interface {
	Handle(ctx context.Context, method string, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// ServerOptions raises the message limits to match the client's
// DefaultMaxMsgBytes.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(DefaultMaxMsgBytes),
		grpc.MaxSendMsgSize(DefaultMaxMsgBytes),
	}
}

// RegisterDirectoryServer registers srv on s.
func RegisterDirectoryServer(s grpc.ServiceRegistrar, srv DirectoryServer) {
	s.RegisterService(&Directory_ServiceDesc, srv)
}

func methodHandler(method string) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return srv.(DirectoryServer).Handle(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return srv.(DirectoryServer).Handle(ctx, method, req.(*wrapperspb.BytesValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func methodDescs() []grpc.MethodDesc {
	out := make([]grpc.MethodDesc, 0, len(methods))
	for _, m := range methods {
		out = append(out, grpc.MethodDesc{MethodName: m, Handler: methodHandler(m)})
	}
	return out
}

// Directory_ServiceDesc is the grpc.ServiceDesc for the directory service.
var Directory_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DirectoryServer)(nil),
	Methods:     methodDescs(),
	Streams:     []grpc.StreamDesc{},
	Metadata:    "directory.proto",
}
