// Package memdir is an in-process directory.Client. It keeps channels,
// tokens, pages and shards in memory, records every call, and can be told
// to fail specific operations, which makes it the double for reconciler,
// publisher and shard tests. The CLI also uses it for offline runs.
//
// Quota is modelled as a single remaining allowance per channel: writes and
// transfers debit it, funding credits it.
package memdir

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"xdao.co/channels/cidutil"
	"xdao.co/channels/directory"
	"xdao.co/channels/identity"
	"xdao.co/channels/internal/clock"
	"xdao.co/channels/storage"
)

// Operation names used in Call.Op and FailNext.
const (
	OpProbe         = "probe"
	OpCreate        = "create"
	OpFund          = "fund"
	OpFundToTarget  = "fund_to_target"
	OpIssueToken    = "issue_token"
	OpStoreShard    = "store_shard"
	OpShardStatus   = "shard_status"
	OpFetchShard    = "fetch_shard"
	OpSetPage       = "set_page"
	OpFetchDeployed = "fetch_deployed"
	OpStorageServer = "storage_server"
)

// Mutating reports whether op changes service state.
func Mutating(op string) bool {
	switch op {
	case OpCreate, OpFund, OpFundToTarget, OpIssueToken, OpStoreShard, OpSetPage:
		return true
	}
	return false
}

const pagePath = "/api/v2/page/"

// Config tunes a Directory. Zero values select defaults.
type Config struct {
	// StorageMultiplier scales the quota cost of every stored byte.
	// Default 1.
	StorageMultiplier uint64
	// StorageServer is reported in shard receipts.
	StorageServer string
	// Primary receives shard bytes synchronously. Default: memory.
	Primary storage.CAS
	// Replicas receive shard bytes after ReplicationDelay. A shard is
	// durable once every replica holds it. Default: two memory replicas.
	Replicas         storage.ReplicaSet
	ReplicationDelay time.Duration
	Clock            clock.Clock
	Logger           *zap.Logger
}

// Call is one recorded invocation.
type Call struct {
	Op     string
	Handle identity.Handle
	Amount uint64
	Token  string
	Key    string
}

type channel struct {
	pub   identity.PublicKey
	limit uint64
}

type page struct {
	typ  string
	body []byte
}

type shard struct {
	size  int
	payer identity.Handle
}

// Directory is safe for concurrent use.
type Directory struct {
	cfg Config
	log *zap.Logger
	clk clock.Clock

	mu        sync.Mutex
	channels  map[identity.Handle]*channel
	tokens    map[string]*directory.StorageToken
	pages     map[string]page
	shards    map[string]shard
	calls     []Call
	failures  map[string][]error
	replicate []func() bool
}

var (
	_ directory.Client       = (*Directory)(nil)
	_ directory.TargetFunder = (*Directory)(nil)
)

func New(cfg Config) *Directory {
	if cfg.StorageMultiplier == 0 {
		cfg.StorageMultiplier = 1
	}
	if cfg.StorageServer == "" {
		cfg.StorageServer = "memdir://shards"
	}
	if cfg.Primary == nil {
		cfg.Primary = storage.NewMemory()
	}
	if cfg.Replicas == nil {
		cfg.Replicas = storage.ReplicaSet{
			{Name: "replica-a", CAS: storage.NewMemory()},
			{Name: "replica-b", CAS: storage.NewMemory()},
		}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{
		cfg:      cfg,
		log:      log.Named("memdir"),
		clk:      clock.OrReal(cfg.Clock),
		channels: make(map[identity.Handle]*channel),
		tokens:   make(map[string]*directory.StorageToken),
		pages:    make(map[string]page),
		shards:   make(map[string]shard),
		failures: make(map[string][]error),
	}
}

// begin records the call and pops an injected failure for op. Callers
// hold d.mu.
func (d *Directory) begin(ctx context.Context, c Call) error {
	d.calls = append(d.calls, c)
	if err := ctx.Err(); err != nil {
		return directory.Errorf(directory.CodeUnavailable, c.Op, "%v", err)
	}
	if queued := d.failures[c.Op]; len(queued) > 0 {
		d.failures[c.Op] = queued[1:]
		return queued[0]
	}
	return nil
}

func noSuchChannel(op string, h identity.Handle) error {
	return directory.Errorf(directory.CodeNotFound, op, "No such channel: %s", h)
}

func (d *Directory) lookup(op string, p identity.Principal) (*channel, error) {
	ch, ok := d.channels[p.Handle()]
	if !ok {
		return nil, noSuchChannel(op, p.Handle())
	}
	return ch, nil
}

func (d *Directory) record(h identity.Handle, ch *channel) directory.ChannelRecord {
	return directory.ChannelRecord{Handle: h, Exists: true, StorageLimit: ch.limit}
}

// debit takes n from ch or fails with quota_exhausted.
func debit(op string, h identity.Handle, ch *channel, n uint64) error {
	if n > ch.limit {
		return directory.Errorf(directory.CodeQuotaExhausted, op, "channel %s has %d bytes of quota, needs %d", h, ch.limit, n)
	}
	ch.limit -= n
	return nil
}

// spend marks token used. Unknown and spent tokens are unauthorized.
func (d *Directory) spend(op, hash string) (*directory.StorageToken, error) {
	tok, ok := d.tokens[hash]
	if !ok {
		return nil, directory.Errorf(directory.CodeUnauthorized, op, "not authorized: unknown storage token")
	}
	if tok.Used {
		return nil, directory.Errorf(directory.CodeUnauthorized, op, "not authorized: storage token already consumed")
	}
	tok.Used = true
	return tok, nil
}

func (d *Directory) Probe(ctx context.Context, p identity.Principal) (directory.ChannelRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, Call{Op: OpProbe, Handle: p.Handle()}); err != nil {
		return directory.ChannelRecord{}, err
	}
	ch, err := d.lookup(OpProbe, p)
	if err != nil {
		return directory.ChannelRecord{Handle: p.Handle()}, err
	}
	return d.record(p.Handle(), ch), nil
}

func (d *Directory) Create(ctx context.Context, p identity.Principal, token directory.StorageToken) (directory.ChannelRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, Call{Op: OpCreate, Handle: p.Handle(), Token: token.Hash}); err != nil {
		return directory.ChannelRecord{}, err
	}
	if _, exists := d.channels[p.Handle()]; exists {
		return directory.ChannelRecord{}, directory.Errorf(directory.CodeConflict, OpCreate, "channel %s already exists", p.Handle())
	}
	tok, err := d.spend(OpCreate, token.Hash)
	if err != nil {
		return directory.ChannelRecord{}, err
	}
	ch := &channel{pub: p.PublicKey(), limit: tok.Size}
	d.channels[p.Handle()] = ch
	d.log.Debug("channel created", zap.String("handle", string(p.Handle())), zap.Uint64("limit", ch.limit))
	return d.record(p.Handle(), ch), nil
}

func (d *Directory) Fund(ctx context.Context, payer identity.Principal, req directory.FundRequest) (directory.FundReceipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := Call{Op: OpFund, Handle: req.Target, Amount: req.Amount}
	if req.Token != nil {
		c.Token = req.Token.Hash
	}
	if err := d.begin(ctx, c); err != nil {
		return directory.FundReceipt{}, err
	}
	target, ok := d.channels[req.Target]
	if !ok {
		return directory.FundReceipt{}, noSuchChannel(OpFund, req.Target)
	}
	if req.Token != nil {
		tok, err := d.spend(OpFund, req.Token.Hash)
		if err != nil {
			return directory.FundReceipt{}, err
		}
		target.limit += tok.Size
		return directory.FundReceipt{Target: req.Target, Applied: tok.Size}, nil
	}
	if req.Amount == 0 {
		return directory.FundReceipt{}, directory.Errorf(directory.CodeInvalid, OpFund, "fund needs an amount or a token")
	}
	if payer.Handle() == req.Target {
		return directory.FundReceipt{}, directory.Errorf(directory.CodeInvalid, OpFund, "a channel cannot fund itself")
	}
	src, err := d.lookup(OpFund, payer)
	if err != nil {
		return directory.FundReceipt{}, err
	}
	if err := debit(OpFund, payer.Handle(), src, req.Amount); err != nil {
		return directory.FundReceipt{}, err
	}
	target.limit += req.Amount
	return directory.FundReceipt{Target: req.Target, Applied: req.Amount}, nil
}

// FundToTarget raises target to quota in one step, drawing the difference
// from delegate. A target already at or above quota is left alone.
func (d *Directory) FundToTarget(ctx context.Context, delegate identity.Principal, target identity.Handle, quota uint64) (directory.ChannelRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, Call{Op: OpFundToTarget, Handle: target, Amount: quota}); err != nil {
		return directory.ChannelRecord{}, err
	}
	ch, ok := d.channels[target]
	if !ok {
		return directory.ChannelRecord{}, noSuchChannel(OpFundToTarget, target)
	}
	if ch.limit >= quota {
		return d.record(target, ch), nil
	}
	src, err := d.lookup(OpFundToTarget, delegate)
	if err != nil {
		return directory.ChannelRecord{}, err
	}
	if err := debit(OpFundToTarget, delegate.Handle(), src, quota-ch.limit); err != nil {
		return directory.ChannelRecord{}, err
	}
	ch.limit = quota
	return d.record(target, ch), nil
}

func (d *Directory) IssueToken(ctx context.Context, delegate identity.Principal, size uint64) (directory.StorageToken, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, Call{Op: OpIssueToken, Handle: delegate.Handle(), Amount: size}); err != nil {
		return directory.StorageToken{}, err
	}
	if size == 0 {
		return directory.StorageToken{}, directory.Errorf(directory.CodeInvalid, OpIssueToken, "token size must be positive")
	}
	src, err := d.lookup(OpIssueToken, delegate)
	if err != nil {
		return directory.StorageToken{}, err
	}
	if err := debit(OpIssueToken, delegate.Handle(), src, size); err != nil {
		return directory.StorageToken{}, err
	}
	tok, err := d.mintLocked(size, delegate.Handle())
	if err != nil {
		return directory.StorageToken{}, directory.Errorf(directory.CodeInternal, OpIssueToken, "%v", err)
	}
	return tok, nil
}

func (d *Directory) mintLocked(size uint64, mother identity.Handle) (directory.StorageToken, error) {
	hash, err := directory.NewTokenHash(nil)
	if err != nil {
		return directory.StorageToken{}, err
	}
	tok := &directory.StorageToken{Hash: hash, Size: size, MotherChannel: mother}
	d.tokens[hash] = tok
	return *tok, nil
}

func (d *Directory) StoreShard(ctx context.Context, payer identity.Principal, w directory.ShardWrite) (directory.ShardReceipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, Call{Op: OpStoreShard, Handle: payer.Handle(), Amount: uint64(len(w.Data)), Key: w.ID}); err != nil {
		return directory.ShardReceipt{}, err
	}
	id, err := cidutil.Parse(w.ID)
	if err != nil {
		return directory.ShardReceipt{}, directory.Errorf(directory.CodeInvalid, OpStoreShard, "shard id: %v", err)
	}
	if !cidutil.Matches(id, w.Data) {
		return directory.ShardReceipt{}, directory.Errorf(directory.CodeInvalid, OpStoreShard, "shard id does not match data")
	}
	receipt := directory.ShardReceipt{ID: w.ID, StorageServer: d.cfg.StorageServer, Version: "3"}
	if _, seen := d.shards[w.ID]; seen {
		return receipt, nil
	}
	src, err := d.lookup(OpStoreShard, payer)
	if err != nil {
		return directory.ShardReceipt{}, err
	}
	if err := debit(OpStoreShard, payer.Handle(), src, uint64(len(w.Data))*d.cfg.StorageMultiplier); err != nil {
		return directory.ShardReceipt{}, err
	}
	if _, err := d.cfg.Primary.Put(w.Data); err != nil {
		return directory.ShardReceipt{}, directory.Errorf(directory.CodeInternal, OpStoreShard, "%v", err)
	}
	d.shards[w.ID] = shard{size: len(w.Data), payer: payer.Handle()}
	data := append([]byte(nil), w.Data...)
	d.replicate = append(d.replicate, d.clk.AfterFunc(d.cfg.ReplicationDelay, func() {
		if _, _, err := d.cfg.Replicas.PutAll(data); err != nil {
			d.log.Warn("replication failed", zap.String("shard", w.ID), zap.Error(err))
		}
	}))
	return receipt, nil
}

func (d *Directory) ShardStatus(ctx context.Context, id string) (directory.ShardStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, Call{Op: OpShardStatus, Key: id}); err != nil {
		return directory.ShardStatus{}, err
	}
	c, err := d.shardCID(OpShardStatus, id)
	if err != nil {
		return directory.ShardStatus{}, err
	}
	missing := d.cfg.Replicas.Missing(c)
	st := directory.ShardStatus{
		ID:       id,
		Stored:   d.cfg.Primary.Has(c),
		Durable:  d.cfg.Replicas.Durable(c),
		Replicas: len(d.cfg.Replicas) - len(missing),
	}
	if st.Durable {
		sum := sha256.Sum256([]byte(d.cfg.StorageServer + "\x00" + id))
		st.Verification = hex.EncodeToString(sum[:16])
	}
	return st, nil
}

func (d *Directory) shardCID(op, id string) (cid.Cid, error) {
	c, err := cidutil.Parse(id)
	if err != nil {
		return cid.Undef, directory.Errorf(directory.CodeInvalid, op, "shard id: %v", err)
	}
	if _, ok := d.shards[id]; !ok {
		return cid.Undef, directory.Errorf(directory.CodeNotFound, op, "no such shard: %s", id)
	}
	return c, nil
}

func (d *Directory) FetchShard(ctx context.Context, id string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, Call{Op: OpFetchShard, Key: id}); err != nil {
		return nil, err
	}
	c, err := d.shardCID(OpFetchShard, id)
	if err != nil {
		return nil, err
	}
	data, err := storage.Tiered{d.cfg.Primary, d.cfg.Replicas}.Get(c)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, directory.Errorf(directory.CodeNotFound, OpFetchShard, "shard %s has no stored bytes", id)
		}
		return nil, directory.Errorf(directory.CodeInternal, OpFetchShard, "%v", err)
	}
	return data, nil
}

func pageKey(prefix, name string) string { return prefix + "/" + strings.TrimLeft(name, "/") }

func (d *Directory) SetPage(ctx context.Context, p identity.Principal, pg directory.Page) (directory.PageReceipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefixLength := pg.PrefixLength
	if prefixLength <= 0 {
		prefixLength = directory.DefaultPrefixLength
	}
	key := pageKey(p.Handle().PagePrefix(prefixLength), pg.Name)
	if err := d.begin(ctx, Call{Op: OpSetPage, Handle: p.Handle(), Amount: uint64(len(pg.Body)), Key: key}); err != nil {
		return directory.PageReceipt{}, err
	}
	if pg.Name == "" {
		return directory.PageReceipt{}, directory.Errorf(directory.CodeInvalid, OpSetPage, "page name is required")
	}
	ch, err := d.lookup(OpSetPage, p)
	if err != nil {
		return directory.PageReceipt{}, err
	}
	if err := debit(OpSetPage, p.Handle(), ch, uint64(len(pg.Body))*d.cfg.StorageMultiplier); err != nil {
		return directory.PageReceipt{}, err
	}
	d.pages[key] = page{typ: pg.Type, body: append([]byte(nil), pg.Body...)}
	return directory.PageReceipt{Name: pg.Name, URL: pagePath + key, Size: len(pg.Body)}, nil
}

// FetchDeployed resolves the page path of rawURL; the host is ignored.
func (d *Directory) FetchDeployed(ctx context.Context, rawURL string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, Call{Op: OpFetchDeployed, Key: rawURL}); err != nil {
		return nil, err
	}
	pg, ok := d.pageAt(rawURL)
	if !ok {
		return nil, directory.Errorf(directory.CodeNotFound, OpFetchDeployed, "no page at %s", rawURL)
	}
	return append([]byte(nil), pg.body...), nil
}

func (d *Directory) pageAt(rawURL string) (page, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return page{}, false
	}
	i := strings.Index(u.Path, pagePath)
	if i < 0 {
		return page{}, false
	}
	pg, ok := d.pages[u.Path[i+len(pagePath):]]
	return pg, ok
}

func (d *Directory) StorageServer(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, Call{Op: OpStorageServer}); err != nil {
		return "", err
	}
	return d.cfg.StorageServer, nil
}

// Close cancels replication that has not run yet.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, stop := range d.replicate {
		stop()
	}
	d.replicate = nil
	return nil
}
