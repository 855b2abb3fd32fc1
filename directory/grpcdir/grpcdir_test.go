package grpcdir

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/channels/cidutil"
	"xdao.co/channels/directory"
	"xdao.co/channels/directory/memdir"
	"xdao.co/channels/identity"
	"xdao.co/channels/internal/clock"
	"xdao.co/channels/internal/codec"
)

func newIdentity(t *testing.T, b byte) *identity.Identity {
	t.Helper()
	id, err := identity.FromSeed(identity.Ed25519, bytes.Repeat([]byte{b}, identity.SeedSize))
	require.NoError(t, err)
	return id
}

// serve starts srv on an in-memory listener and returns a connected client.
func serve(t *testing.T, srv DirectoryServer) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(ServerOptions()...)
	RegisterDirectoryServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	c, err := Dial("passthrough:///bufnet", DialOptions{
		Timeout: 5 * time.Second,
		Logger:  zaptest.NewLogger(t),
		ContextDialer: func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestChannelRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := memdir.New(memdir.Config{})
	c := serve(t, &Server{Backend: backend, Logger: zaptest.NewLogger(t)})
	owner, budget := newIdentity(t, 1), newIdentity(t, 2)

	_, err := c.Probe(ctx, owner)
	require.Error(t, err)
	assert.True(t, directory.IsCode(err, directory.CodeNotFound), "got %v", err)

	tok := backend.SeedToken(1 << 10)
	rec, err := c.Create(ctx, owner, tok)
	require.NoError(t, err)
	assert.Equal(t, owner.Handle(), rec.Handle)
	assert.Equal(t, uint64(1<<10), rec.StorageLimit)

	// the server must register the signer's key, not a stand-in
	stored, ok := backend.Channel(owner.Handle())
	require.True(t, ok)
	assert.True(t, stored.Exists)

	_, err = c.Create(ctx, budget, tok)
	assert.True(t, directory.IsCode(err, directory.CodeUnauthorized), "spent token: %v", err)

	backend.SeedChannel(budget, 5000)
	receipt, err := c.Fund(ctx, budget, directory.FundRequest{Target: owner.Handle(), Amount: 100})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), receipt.Applied)

	rec, err = c.FundToTarget(ctx, budget, owner.Handle(), 2000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), rec.StorageLimit)

	_, err = c.Fund(ctx, budget, directory.FundRequest{Target: owner.Handle(), Amount: 1 << 30})
	assert.True(t, directory.IsCode(err, directory.CodeQuotaExhausted), "got %v", err)

	issued, err := c.IssueToken(ctx, owner, 64)
	require.NoError(t, err)
	assert.Equal(t, owner.Handle(), issued.MotherChannel)
	assert.Equal(t, uint64(64), issued.Size)
}

func TestShardRoundTrip(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(time.Unix(0, 0))
	backend := memdir.New(memdir.Config{Clock: clk, ReplicationDelay: time.Second})
	defer backend.Close()
	c := serve(t, &Server{Backend: backend})
	payer := newIdentity(t, 3)
	backend.SeedChannel(payer, 1<<10)

	server, err := c.StorageServer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memdir://shards", server)

	data := []byte("sealed shard bytes")
	id := cidutil.String(data)
	receipt, err := c.StoreShard(ctx, payer, directory.ShardWrite{ID: id, Data: data})
	require.NoError(t, err)
	assert.Equal(t, id, receipt.ID)

	st, err := c.ShardStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, st.Stored)
	assert.False(t, st.Durable)

	clk.Advance(time.Second)
	st, err = c.ShardStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, st.Durable)
	assert.NotEmpty(t, st.Verification)

	got, err := c.FetchShard(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = c.FetchShard(ctx, cidutil.String([]byte("never stored")))
	assert.True(t, directory.IsCode(err, directory.CodeNotFound), "got %v", err)
}

func TestShardAboveDefaultMessageSize(t *testing.T) {
	ctx := context.Background()
	backend := memdir.New(memdir.Config{})
	defer backend.Close()
	c := serve(t, &Server{Backend: backend})
	payer := newIdentity(t, 7)
	backend.SeedChannel(payer, 16<<20)

	data := bytes.Repeat([]byte{0xa5}, 6<<20)
	id := cidutil.String(data)
	_, err := c.StoreShard(ctx, payer, directory.ShardWrite{ID: id, Data: data})
	require.NoError(t, err)

	got, err := c.FetchShard(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, len(data), len(got))
	assert.True(t, bytes.Equal(data, got))
}

func TestPagesOverHTTP(t *testing.T) {
	ctx := context.Background()
	backend := memdir.New(memdir.Config{})
	c := serve(t, &Server{Backend: backend})
	owner := newIdentity(t, 4)
	backend.SeedChannel(owner, 1<<10)

	web := httptest.NewServer(backend.Handler())
	defer web.Close()
	url := directory.PageURL(web.URL, owner.Handle(), directory.DefaultPrefixLength, "index.html")

	_, err := c.FetchDeployed(ctx, url)
	assert.True(t, directory.IsCode(err, directory.CodeNotFound), "got %v", err)

	_, err = c.SetPage(ctx, owner, directory.Page{Name: "index.html", Type: "text/html", Body: []byte("<p>hi</p>")})
	require.NoError(t, err)

	got, err := c.FetchDeployed(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", string(got))
}

func TestFetchDeployedLimit(t *testing.T) {
	backend := memdir.New(memdir.Config{})
	owner := newIdentity(t, 5)
	backend.SeedChannel(owner, 1<<10)
	_, err := backend.SetPage(context.Background(), owner, directory.Page{Name: "big.txt", Body: bytes.Repeat([]byte("x"), 100)})
	require.NoError(t, err)

	web := httptest.NewServer(backend.Handler())
	defer web.Close()

	c := NewClient(nil, DialOptions{MaxPageBytes: 10})
	_, err = c.FetchDeployed(context.Background(), directory.PageURL(web.URL, owner.Handle(), directory.DefaultPrefixLength, "big.txt"))
	assert.True(t, directory.IsCode(err, directory.CodeInvalid), "got %v", err)
}

func TestUnsignablePrincipal(t *testing.T) {
	backend := memdir.New(memdir.Config{})
	c := serve(t, &Server{Backend: backend})
	pub := identity.Verified(newIdentity(t, 6).PublicKey())

	_, err := c.Probe(context.Background(), pub)
	assert.True(t, directory.IsCode(err, directory.CodeInvalid), "got %v", err)
	assert.Zero(t, backend.CountOp(memdir.OpProbe), "request must not leave the client")
}

func TestServerRejectsBadSignature(t *testing.T) {
	backend := memdir.New(memdir.Config{})
	srv := &Server{Backend: backend}
	owner, other := newIdentity(t, 7), newIdentity(t, 8)
	backend.SeedChannel(owner, 10)

	payload, err := codec.Marshal(struct{}{})
	require.NoError(t, err)
	env := envelope{Op: MethodProbe, Payload: payload, RequestID: "r1"}
	pub := owner.PublicKey()
	env.Signer = &pub
	msg, err := env.signingBytes()
	require.NoError(t, err)
	// signed by the wrong key
	env.Signature, err = other.Sign(msg)
	require.NoError(t, err)
	raw, err := codec.Marshal(env)
	require.NoError(t, err)

	_, err = srv.Handle(context.Background(), MethodProbe, wrapperspb.Bytes(raw))
	require.Error(t, err)
	derr := fromStatus(MethodProbe, err)
	assert.True(t, directory.IsCode(derr, directory.CodeUnauthorized), "got %v", derr)
	assert.Contains(t, directory.MessageOf(derr), "not authorized")
	assert.Zero(t, backend.CountOp(memdir.OpProbe))

	env.Signature = nil
	raw, err = codec.Marshal(env)
	require.NoError(t, err)
	_, err = srv.Handle(context.Background(), MethodProbe, wrapperspb.Bytes(raw))
	assert.True(t, directory.IsCode(fromStatus(MethodProbe, err), directory.CodeUnauthorized))

	_, err = srv.Handle(context.Background(), MethodCreate, wrapperspb.Bytes(raw))
	assert.True(t, directory.IsCode(fromStatus(MethodCreate, err), directory.CodeInvalid), "op mismatch: %v", err)
}

// legacyServer answers every call with a bare status message, the way
// services without structured error details do.
type legacyServer struct {
	code codes.Code
	msg  string
}

func (s legacyServer) Handle(context.Context, string, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(s.code, s.msg)
}

func TestLegacyErrorMessages(t *testing.T) {
	owner := newIdentity(t, 9)
	tests := []struct {
		name string
		srv  legacyServer
		want directory.Code
	}{
		{"no such channel", legacyServer{codes.Unknown, "No such channel or shard, or you are not authorized"}, directory.CodeNotFound},
		{"not authorized", legacyServer{codes.Unknown, "not authorized: token already used"}, directory.CodeUnauthorized},
		{"grpc code", legacyServer{codes.ResourceExhausted, "over quota"}, directory.CodeQuotaExhausted},
		{"unavailable", legacyServer{codes.Unavailable, "upstream down"}, directory.CodeUnavailable},
		{"unknown", legacyServer{codes.Unknown, "boom"}, directory.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := serve(t, tt.srv)
			_, err := c.Probe(context.Background(), owner)
			assert.Equal(t, tt.want, directory.CodeOf(err), "got %v", err)
			assert.Equal(t, tt.srv.msg, directory.MessageOf(err))
		})
	}
}

func TestStatusDetailsWinOverMessage(t *testing.T) {
	in := directory.Errorf(directory.CodeQuotaExhausted, "Fund", "not authorized to exceed quota")
	out := fromStatus("Fund", toStatus(in))
	assert.Equal(t, directory.CodeQuotaExhausted, directory.CodeOf(out))

	out = fromStatus("Probe", toStatus(context.DeadlineExceeded))
	assert.Equal(t, directory.CodeUnavailable, directory.CodeOf(out))
}
