// Package directory defines the contract between the channel tools and the
// remote channel/storage service.
//
// Client is the only way the reconciler, the publisher and the shard
// coordinator talk to the service. Implementations live in subpackages:
// grpcdir speaks to a real service, memdir is an in-process double used by
// tests and offline runs. Every failure an implementation returns is, or
// wraps, a *Error carrying a Code from a closed set; callers branch on
// codes, never on message text.
package directory
