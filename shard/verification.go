package shard

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Outcome is what a resolved verification reports.
type Outcome struct {
	// Verification is the service's durability receipt.
	Verification string
	Replicas     int
}

// Verification resolves once the service confirms a shard is durable, or
// once confirmation is given up on. It resolves exactly once.
type Verification struct {
	done    chan struct{}
	once    sync.Once
	outcome Outcome
	err     error
}

func newVerification() *Verification {
	return &Verification{done: make(chan struct{})}
}

func (v *Verification) resolve(o Outcome, err error) {
	v.once.Do(func() {
		v.outcome, v.err = o, err
		close(v.done)
	})
}

// Done is closed when the verification resolves.
func (v *Verification) Done() <-chan struct{} { return v.done }

// Wait blocks until the verification resolves or ctx ends. Ending ctx does
// not stop verification; a later Wait can still observe the result.
func (v *Verification) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-v.done:
		return v.outcome, v.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// ErrPending is returned by Result while the verification is unresolved.
var ErrPending = errors.New("shard: verification pending")

// Result returns the outcome without blocking.
func (v *Verification) Result() (Outcome, error) {
	select {
	case <-v.done:
		return v.outcome, v.err
	default:
		return Outcome{}, ErrPending
	}
}

// State is "pending", "failed" or the verification receipt.
func (v *Verification) State() string {
	o, err := v.Result()
	switch {
	case errors.Is(err, ErrPending):
		return "pending"
	case err != nil:
		return "failed"
	default:
		return o.Verification
	}
}

func (v *Verification) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.State())
}
