// Package publish keeps a named page on a channel in sync with local
// content. Publishing is idempotent: when the deployed bytes already match,
// nothing is funded or written.
package publish

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"xdao.co/channels/directory"
	"xdao.co/channels/fault"
	"xdao.co/channels/identity"
	"xdao.co/channels/internal/clock"
	"xdao.co/channels/internal/retry"
	"xdao.co/channels/reconcile"
)

const (
	DefaultPrefixLength   = directory.DefaultPrefixLength
	DefaultTopUpIncrement = 16 << 20
)

type Config struct {
	// ServerURL is the base of canonical page URLs.
	ServerURL    string
	PrefixLength int
	// TopUpIncrement is the smallest top-up the publisher asks for.
	TopUpIncrement uint64
	// StorageMultiplier is the quota cost of one stored byte.
	StorageMultiplier uint64
	// Retry applies to fetching the deployed page.
	Retry  retry.Policy
	Clock  clock.Clock
	Logger *zap.Logger
}

// Outcome of a publish.
type Outcome string

const (
	Skip    Outcome = "skip"
	Written Outcome = "written"
)

type Result struct {
	Outcome Outcome
	URL     string
	Receipt *directory.PageReceipt
	// Funding is set when the publisher had to create or top up the
	// channel before writing.
	Funding *reconcile.Result
	// Channel is set by PublishNew and holds the generated identity.
	Channel *identity.Identity
}

type Publisher struct {
	dir directory.Client
	rec *reconcile.Reconciler
	cfg Config
	log *zap.Logger
}

func New(dir directory.Client, rec *reconcile.Reconciler, cfg Config) *Publisher {
	if cfg.PrefixLength <= 0 {
		cfg.PrefixLength = DefaultPrefixLength
	}
	if cfg.TopUpIncrement == 0 {
		cfg.TopUpIncrement = DefaultTopUpIncrement
	}
	if cfg.StorageMultiplier == 0 {
		cfg.StorageMultiplier = 1
	}
	cfg.Clock = clock.OrReal(cfg.Clock)
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{dir: dir, rec: rec, cfg: cfg, log: log.Named("publish")}
}

// URL returns the canonical address of name on channel.
func (p *Publisher) URL(channel identity.Principal, name string) string {
	return directory.PageURL(p.cfg.ServerURL, channel.Handle(), p.cfg.PrefixLength, name)
}

// Cost is the quota a write of n bytes consumes.
func (p *Publisher) Cost(n int) uint64 {
	return uint64(n) * p.cfg.StorageMultiplier
}

// TopUpAmount is how much quota is requested ahead of a write costing
// cost: twice the cost, and never less than the configured increment.
func (p *Publisher) TopUpAmount(cost uint64) uint64 {
	return max(p.cfg.TopUpIncrement, cost*2)
}

// Publish writes target to channel unless the deployed page already holds
// the same content. desired supplies the funding source used if the
// channel is missing or short of quota; its TargetQuota is ignored.
func (p *Publisher) Publish(ctx context.Context, channel *identity.Identity, target Target, desired reconcile.DesiredState) (Result, error) {
	url := p.URL(channel, target.Name)
	log := p.log.With(zap.String("url", url), zap.String("class", string(target.Class)))

	same, err := p.deployed(ctx, url, target)
	if err != nil {
		return Result{URL: url}, err
	}
	if same {
		log.Info("page already deployed and unchanged")
		return Result{Outcome: Skip, URL: url}, nil
	}

	res := Result{URL: url}
	cost := p.Cost(len(target.Body))
	topUp := p.TopUpAmount(cost)
	obs := p.rec.Probe(ctx, channel)
	switch {
	case obs.Absent():
		desired.TargetQuota = topUp
		log.Info("channel not found, registering", zap.String("quota", humanize.IBytes(topUp)))
	case obs.Err != nil:
		return res, fault.Wrap("probe", obs.Err)
	case obs.Record.StorageLimit < cost:
		desired.TargetQuota = obs.Record.StorageLimit + topUp
		log.Info("available storage low, topping up",
			zap.String("available", humanize.IBytes(obs.Record.StorageLimit)),
			zap.String("cost", humanize.IBytes(cost)),
			zap.String("top_up", humanize.IBytes(topUp)))
	default:
		desired = reconcile.DesiredState{}
	}
	if desired.TargetQuota > 0 {
		funding, err := p.rec.Apply(ctx, channel, obs, desired)
		res.Funding = &funding
		if err != nil {
			return res, err
		}
	}

	receipt, err := p.dir.SetPage(ctx, channel, directory.Page{
		Name:         target.Name,
		Type:         target.Type,
		Body:         target.Body,
		PrefixLength: p.cfg.PrefixLength,
	})
	if err != nil {
		return res, fault.Wrap("set page", err)
	}
	res.Outcome = Written
	res.Receipt = &receipt
	log.Info("page written", zap.String("size", humanize.IBytes(uint64(len(target.Body)))))
	return res, nil
}

// PublishNew generates a fresh channel, funds it from desired, and
// publishes target on it. The caller must keep Result.Channel to update
// the page later.
func (p *Publisher) PublishNew(ctx context.Context, scheme identity.Scheme, target Target, desired reconcile.DesiredState) (Result, error) {
	if desired.Token == nil && desired.Delegate == nil {
		return Result{}, fault.New(fault.MissingFundingSource, "publish", "a new channel needs a budget key or a storage token")
	}
	channel, err := identity.Generate(scheme, rand.Reader)
	if err != nil {
		return Result{}, fmt.Errorf("publish: %w", err)
	}
	res, err := p.Publish(ctx, channel, target, desired)
	res.Channel = channel
	return res, err
}

// deployed reports whether url already serves target's content. A missing
// page is simply different.
func (p *Publisher) deployed(ctx context.Context, url string, target Target) (bool, error) {
	var body []byte
	err := retry.Do(ctx, p.cfg.Clock, p.cfg.Retry, fault.Retryable, func(ctx context.Context) error {
		var err error
		body, err = p.dir.FetchDeployed(ctx, url)
		return err
	})
	switch {
	case err == nil:
		return target.Equal(body), nil
	case directory.IsCode(err, directory.CodeNotFound):
		return false, nil
	default:
		return false, fault.Wrap("fetch deployed", err)
	}
}
