// Package apperrors defines the small set of sentinel errors used to
// classify failures for logging and fatal/non-fatal handling, wrapped with
// fmt.Errorf("...: %w", err) at the call site rather than via a structured
// errors library.
package apperrors

import "errors"

// ErrStore marks a durable-store failure: fatal at startup (setup/load),
// logged-and-skipped per iteration for writes.
var ErrStore = errors.New("store error")

// ErrPeerRPC marks a peer RPC failure (transport, deserialisation, protocol,
// timeout). Never fatal; drives reachability state changes.
var ErrPeerRPC = errors.New("peer rpc error")

// ErrChannelSend marks a best-effort channel send with no receiver.
// Debug-logged and ignored.
var ErrChannelSend = errors.New("channel send error")

// ErrInternalInvariant marks a condition that should be unreachable absent a
// programming error (e.g. a cache missing a network key created at
// startup). cache.Manager.Apply returns it for a network with no cache entry;
// its callers in the poller and the miner-ID worker log it as a warning and
// keep running, they do not stop the process.
var ErrInternalInvariant = errors.New("internal invariant violated")
