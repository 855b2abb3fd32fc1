package reconcile

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"xdao.co/channels/directory"
	"xdao.co/channels/fault"
	"xdao.co/channels/identity"
)

// Kind tags an Action.
type Kind string

const (
	Create Kind = "create"
	TopUp  Kind = "top_up"
	Noop   Kind = "noop"
	Fail   Kind = "fail"
)

// Source says where the quota for a Create or TopUp comes from.
type Source string

const (
	FromToken    Source = "token"
	FromDelegate Source = "delegate"
)

// Action is the single corrective step a reconciliation decides on.
type Action struct {
	Kind Kind
	// Source is set for Create and TopUp.
	Source Source
	// Amount is the quota requested. For a token it is the token's size,
	// which may be unknown (zero) for tokens typed in by a user.
	Amount uint64
	// Token is the token a Create or token TopUp spends. For a delegate
	// Create it is the token issued by the delegate.
	Token *directory.StorageToken
	// Err is set for Fail.
	Err error
}

func (a Action) String() string {
	switch a.Kind {
	case Create, TopUp:
		if a.Amount == 0 {
			return fmt.Sprintf("%s from %s", a.Kind, a.Source)
		}
		return fmt.Sprintf("%s %s from %s", a.Kind, humanize.IBytes(a.Amount), a.Source)
	case Fail:
		return fmt.Sprintf("fail: %v", a.Err)
	default:
		return string(a.Kind)
	}
}

// DesiredState is what the caller wants the channel to look like.
//
// A Token takes precedence over a Delegate: with a token the delegate is
// never used.
type DesiredState struct {
	TargetQuota uint64
	Delegate    *identity.Identity
	Token       *directory.StorageToken
}

// Observation is the outcome of one probe.
type Observation struct {
	Record directory.ChannelRecord
	Err    error
}

// Absent reports whether the probe found no channel, either as a not-found
// failure or as a record without Exists.
func (o Observation) Absent() bool {
	if o.Err != nil {
		return fault.IsKind(o.Err, fault.NotFound)
	}
	return !o.Record.Exists
}

// Decide picks the action for obs and desired. It performs no I/O.
//
// An existing channel with a token always gets the token applied in full,
// even when TargetQuota is already met; that is the observed behaviour of
// the service tooling and is kept deliberately.
func Decide(obs Observation, desired DesiredState, defaultCreateQuota uint64) Action {
	if obs.Err != nil && !obs.Absent() {
		return Action{Kind: Fail, Err: fault.Wrap("probe", obs.Err)}
	}
	if obs.Absent() {
		switch {
		case desired.Token != nil:
			return Action{Kind: Create, Source: FromToken, Amount: desired.Token.Size, Token: desired.Token}
		case desired.Delegate != nil:
			size := desired.TargetQuota
			if size == 0 {
				size = defaultCreateQuota
			}
			return Action{Kind: Create, Source: FromDelegate, Amount: size}
		default:
			return Action{Kind: Fail, Err: fault.New(fault.MissingFundingSource, "reconcile",
				"channel does not exist and no storage token or budget key was given")}
		}
	}

	limit := obs.Record.StorageLimit
	switch {
	case desired.Token != nil:
		return Action{Kind: TopUp, Source: FromToken, Amount: desired.Token.Size, Token: desired.Token}
	case limit < desired.TargetQuota:
		if desired.Delegate == nil {
			return Action{Kind: Fail, Err: fault.New(fault.MissingBudget, "reconcile",
				fmt.Sprintf("channel has %s of quota, %s requested, and no budget key was given",
					humanize.IBytes(limit), humanize.IBytes(desired.TargetQuota)))}
		}
		return Action{Kind: TopUp, Source: FromDelegate, Amount: desired.TargetQuota - limit}
	default:
		return Action{Kind: Noop}
	}
}
