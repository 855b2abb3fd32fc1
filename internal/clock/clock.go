// Package clock abstracts time so polling and backoff can be driven
// deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package the channel tools use.
type Clock interface {
	Now() time.Time
	// After behaves like time.After. d <= 0 fires immediately.
	After(d time.Duration) <-chan time.Time
	// AfterFunc runs f after d. The returned function cancels the call and
	// reports whether it was still pending.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// OrReal returns c, or Real() when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
