// Package client maintains a reconnecting subscription to the order event
// stream and dispatches decoded envelopes to per-type listeners.
//
// A Manager is bound to one channel for its lifetime. Factory hands out one
// Manager per identity and disposes it on logout.
package client
