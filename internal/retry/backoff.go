// Package retry implements the Backoff Policy of spec §4.1: a
// caller-owned sleep schedule per failure category, which fails once
// its total time budget is exhausted. Grounded on the Backoffer usage
// seen throughout the pack's tikv/client-go excerpts
// (nincro-client-go/tikv/gc.go's bo.Backoff(retry.BoRegionMiss, ...),
// zkkxu-tikv-client-go's bo.BackoffWithCfgAndMaxSleep(retry.BoTxnLock, ...)).
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	tikverr "github.com/pingcap/tikv-region-client/error"
	"github.com/pingcap/tikv-region-client/logutil"
	"github.com/pingcap/tikv-region-client/metrics"
)

// Category names the three backoff categories spec §6 requires at minimum.
type Category string

const (
	// BoRegionMiss covers stale epoch, region-not-found, key-not-in-region,
	// not-leader-retry-in-place, server-busy and other recoverable region errors.
	BoRegionMiss Category = "region-miss"
	// BoTxnLockFast covers a partial lock resolution outcome.
	BoTxnLockFast Category = "txn-lock-fast"
	// BoTransport covers transport/connection failures and null responses.
	BoTransport Category = "transport"
)

// schedule gives the base and cap (in milliseconds) of each category's
// exponential backoff, matching the relative ordering used throughout
// the pack: lock contention backs off fastest, transport failures the
// most cautiously.
var schedule = map[Category]struct{ base, cap int }{
	BoRegionMiss:  {base: 2, cap: 500},
	BoTxnLockFast: {base: 2, cap: 300},
	BoTransport:   {base: 100, cap: 2000},
}

// Backoffer carries the remaining retry time budget for one logical
// call. It is single-threaded per call; Fork clones an independent
// child sharing the same deadline-relative budget for a concurrent
// sub-operation (e.g. the lock resolver's own recursive retries).
type Backoffer struct {
	ctx        context.Context
	maxSleepMs int
	totalSleep int
	attempts   map[Category]int
	errors     []error
}

// NewBackoffer creates a Backoffer with a total sleep budget of
// maxSleepMs milliseconds, bound to ctx for cancellation.
func NewBackoffer(ctx context.Context, maxSleepMs int) *Backoffer {
	return &Backoffer{
		ctx:        ctx,
		maxSleepMs: maxSleepMs,
		attempts:   make(map[Category]int),
	}
}

// GetCtx returns the backoffer's bound context.
func (b *Backoffer) GetCtx() context.Context { return b.ctx }

// GetTotalSleep returns the cumulative time, in milliseconds, this
// backoffer has already slept across all categories.
func (b *Backoffer) GetTotalSleep() int { return b.totalSleep }

// Errors combines every cause passed to Backoff so far into a single
// error, preserving each one rather than keeping only the last.
func (b *Backoffer) Errors() error { return multierr.Combine(b.errors...) }

// Fork returns a child Backoffer sharing this one's remaining budget
// and a cancel func the caller must invoke when the sub-operation
// completes, matching the teacher-adjacent pack's bo.Fork() usage for
// parallel batch-region sends.
func (b *Backoffer) Fork() (*Backoffer, context.CancelFunc) {
	ctx, cancel := context.WithCancel(b.ctx)
	child := &Backoffer{
		ctx:        ctx,
		maxSleepMs: b.maxSleepMs - b.totalSleep,
		attempts:   make(map[Category]int),
	}
	return child, cancel
}

// Backoff sleeps according to cause's category, unless the total sleep
// budget would be exceeded, in which case it returns a fatal
// timeout-class error instead of sleeping (spec's "budget exhausted").
func (b *Backoffer) Backoff(category Category, cause error) error {
	select {
	case <-b.ctx.Done():
		return errors.Trace(tikverr.ErrQueryInterrupted)
	default:
	}

	b.errors = append(b.errors, cause)
	attempt := b.attempts[category]
	b.attempts[category] = attempt + 1

	sleepMs := backoffSleepMs(category, attempt)
	if b.totalSleep+sleepMs > b.maxSleepMs {
		logutil.BgLogger().Warn("tikv-region-client: backoff budget exhausted",
			zap.Int("totalSleepMs", b.totalSleep), zap.Error(b.Errors()))
		return errors.Trace(&tikverr.ErrTiKVServerTimeout{})
	}

	metrics.BackoffCount.WithLabelValues(string(category)).Inc()

	select {
	case <-time.After(time.Duration(sleepMs) * time.Millisecond):
	case <-b.ctx.Done():
		return errors.Trace(tikverr.ErrQueryInterrupted)
	}
	b.totalSleep += sleepMs
	return nil
}

// backoffSleepMs computes an exponential delay with jitter, capped per
// category, following the doubling-with-cap shape common across the
// pack's backoff implementations.
func backoffSleepMs(category Category, attempt int) int {
	cfg := schedule[category]
	if cfg.cap == 0 {
		cfg = schedule[BoRegionMiss]
	}
	sleep := cfg.base << uint(attempt)
	if sleep > cfg.cap || sleep <= 0 {
		sleep = cfg.cap
	}
	// jitter: uniform over [sleep/2, 2*(sleep/2)], both ends included,
	// so the result never exceeds sleep
	half := sleep / 2
	if half <= 0 {
		return sleep
	}
	return half + rand.Intn(half+1)
}
