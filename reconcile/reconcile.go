// Package reconcile converges a channel's existence and quota on a desired
// state with at most one state-changing call per run.
//
// A run probes the channel, decides between create, top up, noop and fail,
// executes that one step, then probes once more to report the resulting
// quota. Nothing loops. Two concurrent runs against the same channel can
// both decide to top up and over-fund it; set Config.AtomicTopUp against a
// service implementing directory.TargetFunder to avoid that.
package reconcile

import (
	"context"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"xdao.co/channels/directory"
	"xdao.co/channels/fault"
	"xdao.co/channels/identity"
	"xdao.co/channels/internal/clock"
	"xdao.co/channels/internal/retry"
)

// DefaultCreateQuota sizes the token a delegate issues for a new channel
// when no target quota is given.
const DefaultCreateQuota = 256 << 20

type Config struct {
	DefaultCreateQuota uint64
	// AtomicTopUp routes delegate top-ups through FundToTarget when the
	// client supports it.
	AtomicTopUp bool
	// Retry applies to probes only, and only for unavailable failures.
	Retry  retry.Policy
	Clock  clock.Clock
	Logger *zap.Logger
}

// Result reports one run. After is nil when no corrective call was made or
// the confirming probe failed.
type Result struct {
	Action Action
	Before Observation
	After  *directory.ChannelRecord
}

type Reconciler struct {
	dir directory.Client
	cfg Config
	log *zap.Logger
}

func New(dir directory.Client, cfg Config) *Reconciler {
	if cfg.DefaultCreateQuota == 0 {
		cfg.DefaultCreateQuota = DefaultCreateQuota
	}
	cfg.Clock = clock.OrReal(cfg.Clock)
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{dir: dir, cfg: cfg, log: log.Named("reconcile")}
}

// Probe observes channel, retrying transient failures per Config.Retry.
func (r *Reconciler) Probe(ctx context.Context, channel identity.Principal) Observation {
	var obs Observation
	_ = retry.Do(ctx, r.cfg.Clock, r.cfg.Retry, fault.Retryable, func(ctx context.Context) error {
		obs.Record, obs.Err = r.dir.Probe(ctx, channel)
		return obs.Err
	})
	if obs.Err != nil {
		r.log.Debug("probe failed",
			zap.Stringer("channel", channel.Handle()),
			zap.String("kind", string(fault.Classify(obs.Err))),
			zap.Error(obs.Err))
	} else {
		r.log.Debug("probe",
			zap.Stringer("channel", channel.Handle()),
			zap.String("storage_limit", humanize.IBytes(obs.Record.StorageLimit)))
	}
	return obs
}

// Reconcile probes channel and applies the action Decide picks.
func (r *Reconciler) Reconcile(ctx context.Context, channel identity.Principal, desired DesiredState) (Result, error) {
	return r.Apply(ctx, channel, r.Probe(ctx, channel), desired)
}

// Apply acts on an observation the caller already made, so callers that
// probed for their own reasons do not probe twice.
func (r *Reconciler) Apply(ctx context.Context, channel identity.Principal, before Observation, desired DesiredState) (Result, error) {
	action := Decide(before, desired, r.cfg.DefaultCreateQuota)
	res := Result{Action: action, Before: before}
	log := r.log.With(zap.Stringer("channel", channel.Handle()))
	log.Info("reconcile", zap.Stringer("action", action))

	var err error
	switch action.Kind {
	case Noop:
		return res, nil
	case Fail:
		return res, action.Err
	case Create:
		res.Action, err = r.create(ctx, channel, desired, action)
	case TopUp:
		res.Action, err = r.topUp(ctx, channel, desired, action)
	}
	if err != nil {
		err = fault.Wrap(string(action.Kind), err)
		res.Action = Action{Kind: Fail, Err: err}
		log.Warn("corrective call failed", zap.Error(err))
		return res, err
	}

	after, perr := r.dir.Probe(ctx, channel)
	if perr != nil {
		log.Warn("confirm probe failed", zap.Error(perr))
		return res, nil
	}
	res.After = &after
	log.Info("reconciled", zap.String("storage_limit", humanize.IBytes(after.StorageLimit)))
	return res, nil
}

func (r *Reconciler) create(ctx context.Context, channel identity.Principal, desired DesiredState, a Action) (Action, error) {
	if a.Source == FromDelegate {
		tok, err := r.dir.IssueToken(ctx, desired.Delegate, a.Amount)
		if err != nil {
			return a, err
		}
		a.Token = &tok
	}
	rec, err := r.dir.Create(ctx, channel, *a.Token)
	if err != nil {
		return a, err
	}
	if a.Amount == 0 {
		a.Amount = rec.StorageLimit
	}
	return a, nil
}

func (r *Reconciler) topUp(ctx context.Context, channel identity.Principal, desired DesiredState, a Action) (Action, error) {
	if a.Source == FromToken {
		receipt, err := r.dir.Fund(ctx, channel, directory.FundRequest{Target: channel.Handle(), Token: a.Token})
		if err != nil {
			return a, err
		}
		a.Amount = receipt.Applied
		return a, nil
	}
	if tf, ok := r.dir.(directory.TargetFunder); ok && r.cfg.AtomicTopUp {
		_, err := tf.FundToTarget(ctx, desired.Delegate, channel.Handle(), desired.TargetQuota)
		return a, err
	}
	_, err := r.dir.Fund(ctx, desired.Delegate, directory.FundRequest{Target: channel.Handle(), Amount: a.Amount})
	return a, err
}
