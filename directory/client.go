package directory

import (
	"context"
	"strings"

	"xdao.co/channels/identity"
)

// ChannelRecord is one observation of a channel. It is produced fresh by
// every probe and never cached.
type ChannelRecord struct {
	Handle       identity.Handle
	Exists       bool
	StorageLimit uint64
}

// FundRequest moves quota to Target. Exactly one of Amount or Token is set:
// Amount is drawn from the payer's allowance, Token is consumed whole.
type FundRequest struct {
	Target identity.Handle
	Amount uint64
	Token  *StorageToken
}

// FundReceipt acknowledges a fund call.
type FundReceipt struct {
	Target  identity.Handle
	Applied uint64
}

// ShardWrite is one opaque blob. ID is the CID of Data.
type ShardWrite struct {
	ID   string
	Data []byte
}

// ShardReceipt acknowledges that the service accepted a shard.
type ShardReceipt struct {
	ID            string
	StorageServer string
	Version       string
}

// ShardStatus is the service's view of a stored shard. Verification is
// the service's durability receipt and is empty until Durable is true.
type ShardStatus struct {
	ID           string
	Stored       bool
	Durable      bool
	Replicas     int
	Verification string
}

// Page is a named document published on a channel.
type Page struct {
	Name         string
	Type         string
	Body         []byte
	PrefixLength int
}

// PageReceipt acknowledges a page write.
type PageReceipt struct {
	Name string
	URL  string
	Size int
}

// Client is the remote channel/storage service. Every method may block on
// the network and honours ctx.
type Client interface {
	// Probe observes a channel. A channel that does not exist is reported
	// as a CodeNotFound error.
	Probe(ctx context.Context, channel identity.Principal) (ChannelRecord, error)
	// Create brings a channel into existence funded by token.
	Create(ctx context.Context, channel identity.Principal, token StorageToken) (ChannelRecord, error)
	// Fund transfers quota from payer to req.Target.
	Fund(ctx context.Context, payer identity.Principal, req FundRequest) (FundReceipt, error)
	// IssueToken carves a new token of size out of the delegate's allowance.
	IssueToken(ctx context.Context, delegate identity.Principal, size uint64) (StorageToken, error)
	// StoreShard writes an opaque blob paid for by payer.
	StoreShard(ctx context.Context, payer identity.Principal, shard ShardWrite) (ShardReceipt, error)
	ShardStatus(ctx context.Context, id string) (ShardStatus, error)
	FetchShard(ctx context.Context, id string) ([]byte, error)
	// SetPage publishes a page owned by channel.
	SetPage(ctx context.Context, channel identity.Principal, page Page) (PageReceipt, error)
	// FetchDeployed reads the bytes currently served at url. An absent
	// page is a CodeNotFound error.
	FetchDeployed(ctx context.Context, url string) ([]byte, error)
	StorageServer(ctx context.Context) (string, error)
}

// TargetFunder is implemented by services that can raise a channel's quota
// to a target atomically. With it, concurrent reconcilers cannot both top
// up the same channel.
type TargetFunder interface {
	FundToTarget(ctx context.Context, delegate identity.Principal, target identity.Handle, quota uint64) (ChannelRecord, error)
}

// DefaultPrefixLength is the number of handle characters in a page path.
const DefaultPrefixLength = 8

// PageURL returns the canonical address of a published page:
// <server>/api/v2/page/<prefix>/<name>.
func PageURL(server string, handle identity.Handle, prefixLength int, name string) string {
	if prefixLength <= 0 {
		prefixLength = DefaultPrefixLength
	}
	return strings.TrimRight(server, "/") + "/api/v2/page/" + handle.PagePrefix(prefixLength) + "/" + strings.TrimLeft(name, "/")
}
