// Package error defines the typed error taxonomy surfaced by the region
// store client, mirroring the dispositions of spec §7: each recovery
// action the caller must take has its own type instead of a string message.
package error

import (
	"fmt"

	"github.com/pingcap/errors"
)

// ErrBodyMissing is returned by the Channel Factory's dispatch when a
// request's CmdType has no matching RPC. Treated as a transport failure
// by the retry driver.
var ErrBodyMissing = errors.New("response body missing")

// ErrTiKVStaleCommand means the request's epoch is older than the
// region's; surfaced to signal the caller should refresh routing.
var ErrTiKVStaleCommand = errors.New("tikv stale command")

// ErrTokenLimit is returned when a store-level request concurrency
// limiter rejects a request. Unused by the core but kept as a sentinel
// other layers (not in scope here) are expected to check for.
var ErrTokenLimit = errors.New("region store token limit exceeded")

// ErrQueryInterrupted signals the backoffer's context was canceled
// while waiting out a backoff sleep.
var ErrQueryInterrupted = errors.New("query interrupted")

// ErrTiKVServerTimeout is the fatal, timeout-class error produced when a
// Backoffer's budget is exhausted (spec §7, last row).
type ErrTiKVServerTimeout struct {
	Region uint64
}

func (e *ErrTiKVServerTimeout) Error() string {
	return fmt.Sprintf("backoff budget exhausted waiting on region %d", e.Region)
}

// ErrRegionUnavailable is surfaced when the Region Manager has no usable
// routing for a region at all (e.g. all peers evicted).
type ErrRegionUnavailable struct {
	RegionID uint64
}

func (e *ErrRegionUnavailable) Error() string {
	return fmt.Sprintf("region %d unavailable", e.RegionID)
}

// ErrPDServerTimeout wraps a timeout talking to the Region Manager's
// backing placement driver.
type ErrPDServerTimeout struct {
	Msg string
}

func (e *ErrPDServerTimeout) Error() string {
	return "pd server timeout: " + e.Msg
}

// NewErrPDServerTimeout constructs an ErrPDServerTimeout.
func NewErrPDServerTimeout(msg string) error {
	return &ErrPDServerTimeout{Msg: msg}
}

// ErrRegionSplit is returned by the Region Store Client when a
// not-leader response reveals the region's key range has changed
// (spec §4.3, on_not_leader returning false): the caller must rebuild
// against the Region Manager rather than retry on this session.
type ErrRegionSplit struct {
	RegionID uint64
}

func (e *ErrRegionSplit) Error() string {
	return fmt.Sprintf("region %d key range changed, caller must re-split", e.RegionID)
}

// ErrKeyError is the fatal, non-lock key error surfaced to the caller
// (spec §4.2.3: "any other key error"). The transaction layer above
// decides whether to retry the whole transaction.
type ErrKeyError struct {
	Msg string
}

func (e *ErrKeyError) Error() string {
	return "key error: " + e.Msg
}

// ErrRegionException describes a region-level error that this layer
// does not recover from internally. No code path in this module
// returns it: BatchGet and Scan leave region errors to the sender's
// retry loop, and a not-leader response with a changed key range
// surfaces as ErrRegionSplit.
type ErrRegionException struct {
	RegionID uint64
	Inner    error
}

func (e *ErrRegionException) Error() string {
	return fmt.Sprintf("region %d exception: %v", e.RegionID, e.Inner)
}

func (e *ErrRegionException) Unwrap() error { return e.Inner }
