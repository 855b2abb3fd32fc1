// Package grpcdir talks to a channel/storage service over gRPC, and serves
// any directory.Client over the same protocol.
//
// Requests that act for a channel are signed by that channel's key; the
// server verifies the signature before handing a verified principal to its
// backend. Deployed pages are fetched over plain HTTP.
package grpcdir

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/channels/directory"
	"xdao.co/channels/identity"
	"xdao.co/channels/internal/codec"
)

// RequestIDHeader carries the per-call request id.
const RequestIDHeader = "x-request-id"

// DefaultMaxPageBytes bounds the size of a fetched page.
const DefaultMaxPageBytes = 64 << 20

// DefaultMaxMsgBytes bounds one request or reply, and with it the largest
// shard either side will carry.
const DefaultMaxMsgBytes = 256 << 20

type DialOptions struct {
	// Timeout applies per RPC when non-zero and the caller's context has
	// no earlier deadline.
	Timeout time.Duration
	// MaxMsgBytes sets both send and receive limits. Default
	// DefaultMaxMsgBytes.
	MaxMsgBytes int
	// MaxPageBytes bounds FetchDeployed bodies. Default DefaultMaxPageBytes.
	MaxPageBytes int64
	HTTPClient   *http.Client
	Logger       *zap.Logger
	// ContextDialer replaces the network dialer; tests use it with bufconn.
	ContextDialer func(context.Context, string) (net.Conn, error)
}

// Client implements directory.Client and directory.TargetFunder over gRPC.
type Client struct {
	cc      grpc.ClientConnInterface
	closer  func() error
	http    *http.Client
	log     *zap.Logger
	timeout time.Duration
	maxPage int64
}

var (
	_ directory.Client       = (*Client)(nil)
	_ directory.TargetFunder = (*Client)(nil)
)

// Dial connects lazily to target. The connection is plaintext; terminate
// TLS in front of the service.
func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes <= 0 {
		opts.MaxMsgBytes = DefaultMaxMsgBytes
	}
	dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(
		grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
		grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
	))
	if opts.ContextDialer != nil {
		dialOpts = append(dialOpts, grpc.WithContextDialer(opts.ContextDialer))
	}
	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpcdir: dial %s: %w", target, err)
	}
	c := NewClient(cc, opts)
	c.closer = cc.Close
	return c, nil
}

// NewClient wraps an existing connection. Close does not close cc.
func NewClient(cc grpc.ClientConnInterface, opts DialOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maxPage := opts.MaxPageBytes
	if maxPage <= 0 {
		maxPage = DefaultMaxPageBytes
	}
	return &Client{
		cc:      cc,
		http:    httpClient,
		log:     log.Named("grpcdir"),
		timeout: opts.Timeout,
		maxPage: maxPage,
	}
}

func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}

// call encodes req, signs it as signer when signer is non-nil, invokes
// method and decodes the reply into resp.
func (c *Client) call(ctx context.Context, method string, signer identity.Principal, req, resp any) error {
	payload, err := codec.Marshal(req)
	if err != nil {
		return directory.Errorf(directory.CodeInvalid, method, "encode request: %v", err)
	}
	env := envelope{Op: method, Payload: payload, RequestID: uuid.NewString()}
	if signer != nil {
		s, ok := signer.(identity.Signer)
		if !ok {
			return directory.Errorf(directory.CodeInvalid, method, "principal %s cannot sign requests", signer.Handle())
		}
		pub := s.PublicKey()
		env.Signer = &pub
		msg, err := env.signingBytes()
		if err != nil {
			return directory.Errorf(directory.CodeInvalid, method, "encode envelope: %v", err)
		}
		if env.Signature, err = s.Sign(msg); err != nil {
			return directory.Errorf(directory.CodeInvalid, method, "sign request: %v", err)
		}
	}
	data, err := codec.Marshal(env)
	if err != nil {
		return directory.Errorf(directory.CodeInvalid, method, "encode envelope: %v", err)
	}

	ctx = metadata.AppendToOutgoingContext(ctx, RequestIDHeader, env.RequestID)
	if _, has := ctx.Deadline(); !has && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, fullMethod(method), wrapperspb.Bytes(data), out); err != nil {
		derr := fromStatus(method, err)
		c.log.Debug("rpc failed", zap.String("method", method), zap.String("request_id", env.RequestID), zap.Error(derr))
		return derr
	}
	c.log.Debug("rpc", zap.String("method", method), zap.String("request_id", env.RequestID))
	if resp == nil {
		return nil
	}
	if err := codec.Unmarshal(out.GetValue(), resp); err != nil {
		return directory.Errorf(directory.CodeInternal, method, "decode reply: %v", err)
	}
	return nil
}

func (c *Client) Probe(ctx context.Context, channel identity.Principal) (directory.ChannelRecord, error) {
	var rec directory.ChannelRecord
	err := c.call(ctx, MethodProbe, channel, struct{}{}, &rec)
	return rec, err
}

func (c *Client) Create(ctx context.Context, channel identity.Principal, token directory.StorageToken) (directory.ChannelRecord, error) {
	var rec directory.ChannelRecord
	err := c.call(ctx, MethodCreate, channel, createRequest{Token: token}, &rec)
	return rec, err
}

func (c *Client) Fund(ctx context.Context, payer identity.Principal, req directory.FundRequest) (directory.FundReceipt, error) {
	var receipt directory.FundReceipt
	err := c.call(ctx, MethodFund, payer, req, &receipt)
	return receipt, err
}

func (c *Client) FundToTarget(ctx context.Context, delegate identity.Principal, target identity.Handle, quota uint64) (directory.ChannelRecord, error) {
	var rec directory.ChannelRecord
	err := c.call(ctx, MethodFundToTarget, delegate, fundToTargetRequest{Target: target, Quota: quota}, &rec)
	return rec, err
}

func (c *Client) IssueToken(ctx context.Context, delegate identity.Principal, size uint64) (directory.StorageToken, error) {
	var tok directory.StorageToken
	err := c.call(ctx, MethodIssueToken, delegate, issueTokenRequest{Size: size}, &tok)
	return tok, err
}

func (c *Client) StoreShard(ctx context.Context, payer identity.Principal, shard directory.ShardWrite) (directory.ShardReceipt, error) {
	var receipt directory.ShardReceipt
	err := c.call(ctx, MethodStoreShard, payer, shard, &receipt)
	return receipt, err
}

func (c *Client) ShardStatus(ctx context.Context, id string) (directory.ShardStatus, error) {
	var st directory.ShardStatus
	err := c.call(ctx, MethodShardStatus, nil, shardIDRequest{ID: id}, &st)
	return st, err
}

func (c *Client) FetchShard(ctx context.Context, id string) ([]byte, error) {
	var reply shardBytes
	if err := c.call(ctx, MethodFetchShard, nil, shardIDRequest{ID: id}, &reply); err != nil {
		return nil, err
	}
	return reply.Data, nil
}

func (c *Client) SetPage(ctx context.Context, channel identity.Principal, page directory.Page) (directory.PageReceipt, error) {
	var receipt directory.PageReceipt
	err := c.call(ctx, MethodSetPage, channel, page, &receipt)
	return receipt, err
}

func (c *Client) StorageServer(ctx context.Context) (string, error) {
	var reply storageServerReply
	err := c.call(ctx, MethodStorageServer, nil, struct{}{}, &reply)
	return reply.URL, err
}
