// Package fault classifies failures into the small closed set of kinds the
// reconciler, publisher and shard coordinator act on.
//
// Remote failures are classified from their directory.Code. Local
// precondition failures (a missing budget or funding source) are raised as
// *Error values with the kind already set.
package fault

import (
	"errors"

	"xdao.co/channels/directory"
)

// Kind is a stable failure category. Callers branch on Kind rather than on
// error text.
type Kind string

const (
	// NotFound is recoverable: the reconciler answers it with a create.
	NotFound Kind = "NotFound"
	// Unauthorized covers key mismatches and spent tokens.
	Unauthorized Kind = "Unauthorized"
	// MissingBudget: quota is short and no delegate was given.
	MissingBudget Kind = "MissingBudget"
	// MissingFundingSource: the channel is absent and neither a token nor a
	// delegate was given.
	MissingFundingSource Kind = "MissingFundingSource"
	Other                Kind = "Other"
)

// Error is a classified failure. Message is for humans; Cause keeps the
// original failure for errors.Is/As.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = directory.MessageOf(e.Cause)
	}
	if e.Op != "" {
		return string(e.Kind) + ": " + e.Op + ": " + msg
	}
	return string(e.Kind) + ": " + msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New returns a local failure of kind.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Wrap classifies cause and wraps it. The message is the remote message of
// cause, so the original service text survives to the caller.
func Wrap(op string, cause error) error {
	if cause == nil {
		return nil
	}
	var fe *Error
	if errors.As(cause, &fe) {
		return cause
	}
	return &Error{Kind: Classify(cause), Op: op, Message: directory.MessageOf(cause), Cause: cause}
}

// Classify maps err to a Kind. nil classifies as "".
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch directory.CodeOf(err) {
	case directory.CodeNotFound:
		return NotFound
	case directory.CodeUnauthorized:
		return Unauthorized
	default:
		return Other
	}
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && Classify(err) == kind
}

// Retryable reports whether err is a transient transport failure. Only
// read-only calls are ever retried.
func Retryable(err error) bool {
	return directory.IsCode(err, directory.CodeUnavailable)
}
