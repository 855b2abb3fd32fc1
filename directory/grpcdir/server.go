package grpcdir

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/channels/directory"
	"xdao.co/channels/identity"
	"xdao.co/channels/internal/codec"
)

// Server exposes a directory.Client over gRPC. FundToTarget is served only
// when Backend also implements directory.TargetFunder.
type Server struct {
	Backend directory.Client
	Logger  *zap.Logger
}

var _ DirectoryServer = (*Server)(nil)

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Server) Handle(ctx context.Context, method string, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	out, err := s.handle(ctx, method, in.GetValue())
	if err != nil {
		s.logger().Debug("request failed",
			zap.String("method", method),
			zap.String("request_id", requestID(ctx)),
			zap.Error(err))
		return nil, toStatus(err)
	}
	data, err := codec.Marshal(out)
	if err != nil {
		return nil, toStatus(directory.Errorf(directory.CodeInternal, method, "encode reply: %v", err))
	}
	return wrapperspb.Bytes(data), nil
}

func requestID(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if v := md.Get(RequestIDHeader); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (s *Server) handle(ctx context.Context, method string, raw []byte) (any, error) {
	var env envelope
	if err := codec.Unmarshal(raw, &env); err != nil {
		return nil, directory.Errorf(directory.CodeInvalid, method, "decode envelope: %v", err)
	}
	if env.Op != method {
		return nil, directory.Errorf(directory.CodeInvalid, method, "envelope op %q does not match method", env.Op)
	}

	var caller identity.Principal
	if signed[method] {
		if env.Signer == nil || len(env.Signature) == 0 {
			return nil, directory.Errorf(directory.CodeUnauthorized, method, "not authorized: unsigned request")
		}
		msg, err := env.signingBytes()
		if err != nil {
			return nil, directory.Errorf(directory.CodeInvalid, method, "encode envelope: %v", err)
		}
		if !identity.Verify(*env.Signer, msg, env.Signature) {
			return nil, directory.Errorf(directory.CodeUnauthorized, method, "not authorized: bad request signature")
		}
		caller = identity.Verified(*env.Signer)
	}

	decode := func(v any) error {
		if err := codec.Unmarshal(env.Payload, v); err != nil {
			return directory.Errorf(directory.CodeInvalid, method, "decode payload: %v", err)
		}
		return nil
	}

	switch method {
	case MethodProbe:
		return s.Backend.Probe(ctx, caller)
	case MethodCreate:
		var req createRequest
		if err := decode(&req); err != nil {
			return nil, err
		}
		return s.Backend.Create(ctx, caller, req.Token)
	case MethodFund:
		var req directory.FundRequest
		if err := decode(&req); err != nil {
			return nil, err
		}
		return s.Backend.Fund(ctx, caller, req)
	case MethodFundToTarget:
		funder, ok := s.Backend.(directory.TargetFunder)
		if !ok {
			return nil, directory.Errorf(directory.CodeInvalid, method, "backend does not fund to a target quota")
		}
		var req fundToTargetRequest
		if err := decode(&req); err != nil {
			return nil, err
		}
		return funder.FundToTarget(ctx, caller, req.Target, req.Quota)
	case MethodIssueToken:
		var req issueTokenRequest
		if err := decode(&req); err != nil {
			return nil, err
		}
		return s.Backend.IssueToken(ctx, caller, req.Size)
	case MethodStoreShard:
		var req directory.ShardWrite
		if err := decode(&req); err != nil {
			return nil, err
		}
		return s.Backend.StoreShard(ctx, caller, req)
	case MethodShardStatus:
		var req shardIDRequest
		if err := decode(&req); err != nil {
			return nil, err
		}
		return s.Backend.ShardStatus(ctx, req.ID)
	case MethodFetchShard:
		var req shardIDRequest
		if err := decode(&req); err != nil {
			return nil, err
		}
		data, err := s.Backend.FetchShard(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return shardBytes{Data: data}, nil
	case MethodSetPage:
		var req directory.Page
		if err := decode(&req); err != nil {
			return nil, err
		}
		return s.Backend.SetPage(ctx, caller, req)
	case MethodStorageServer:
		url, err := s.Backend.StorageServer(ctx)
		if err != nil {
			return nil, err
		}
		return storageServerReply{URL: url}, nil
	default:
		return nil, directory.Errorf(directory.CodeInvalid, method, "unknown method")
	}
}
