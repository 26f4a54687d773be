package txnlock

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
	"go.uber.org/zap"

	"github.com/pingcap/tikv-region-client/internal/locate"
	"github.com/pingcap/tikv-region-client/internal/retry"
	"github.com/pingcap/tikv-region-client/logutil"
	"github.com/pingcap/tikv-region-client/metrics"
	"github.com/pingcap/tikv-region-client/tikvrpc"
)

// Resolver is the Lock Resolver contract of spec §4.4/§6: given the
// locks a read observed, determine whether each is resolvable (its
// transaction has committed or rolled back) and, if so, clean it up so
// the key becomes readable again. Implemented by *LockResolver.
type Resolver interface {
	// ResolveLocks attempts to resolve every lock in locks. It reports
	// allResolved true only if every lock's transaction had already
	// reached a final state and was cleaned up; false means at least
	// one lock's transaction is still active and not yet expired, so
	// the caller should drive a txn-lock-fast backoff and retry its
	// read (spec §6).
	ResolveLocks(bo *retry.Backoffer, locks []*Lock) (allResolved bool, err error)
}

// txnStatus is the outcome of a CheckTxnStatus call against a lock's
// primary key.
type txnStatus struct {
	committed  bool
	commitTS   uint64
	rolledBack bool
	ttlExpired bool
}

func (s txnStatus) final() bool { return s.committed || s.rolledBack }

// LockResolver implements Resolver against a RegionManager and an
// RPCClient, grounded on luyulong-tidb/store/tikv/lock_resolver.go's
// getTxnStatus/resolveLock split, simplified to the single-region
// resolution the spec scopes (spec §1 excludes cross-region 2PC
// orchestration; a lock is resolved in the region it was observed in,
// the same lazy-cleanup behavior tikv/client-go relies on for
// secondaries it hasn't visited yet).
type LockResolver struct {
	regionCache *locate.RegionCache
	client      locate.RPCClient
	timeout     time.Duration

	mu       sync.Mutex
	resolved map[uint64]txnStatus
}

// NewLockResolver constructs a LockResolver over the shared region
// cache and channel-factory client the Region Store Client itself
// uses.
func NewLockResolver(regionCache *locate.RegionCache, client locate.RPCClient, timeout time.Duration) *LockResolver {
	return &LockResolver{
		regionCache: regionCache,
		client:      client,
		timeout:     timeout,
		resolved:    make(map[uint64]txnStatus),
	}
}

// ResolveLocks implements Resolver.
func (r *LockResolver) ResolveLocks(bo *retry.Backoffer, locks []*Lock) (bool, error) {
	allResolved := true
	for _, lock := range locks {
		status, err := r.getTxnStatus(bo, lock)
		if err != nil {
			return false, errors.Trace(err)
		}
		if !status.final() {
			logutil.BgLogger().Debug("tikv-region-client: lock still active, not resolvable yet",
				zap.Uint64("txn", lock.TxnID), zap.Binary("key", lock.Key))
			allResolved = false
			continue
		}
		if err := r.resolveLock(bo, lock, status); err != nil {
			return false, errors.Trace(err)
		}
	}
	if allResolved {
		metrics.LockResolveCount.WithLabelValues("resolved").Inc()
	} else {
		metrics.LockResolveCount.WithLabelValues("partial").Inc()
	}
	return allResolved, nil
}

func (r *LockResolver) getTxnStatus(bo *retry.Backoffer, lock *Lock) (txnStatus, error) {
	r.mu.Lock()
	if status, ok := r.resolved[lock.TxnID]; ok {
		r.mu.Unlock()
		return status, nil
	}
	r.mu.Unlock()

	region, err := r.regionCache.GetRegionByKey(bo.GetCtx(), lock.Primary)
	if err != nil {
		return txnStatus{}, errors.Trace(err)
	}
	req := &kvrpcpb.CheckTxnStatusRequest{
		PrimaryKey:    lock.Primary,
		LockTs:        lock.TxnID,
		CallerStartTs: lock.TxnID,
		CurrentTs:     lock.TxnID,
	}
	sender := locate.NewRegionRequestSender(r.regionCache, r.client)
	handler := &rebuildOnStaleHandler{cache: r.regionCache, regionID: region.VerID()}
	resp, err := sender.SendReq(bo, func() (*tikvrpc.Request, error) {
		return &tikvrpc.Request{Type: tikvrpc.CmdCheckTxnStatus, Req: req}, nil
	}, region.VerID(), r.timeout, handler)
	if err != nil {
		return txnStatus{}, errors.Trace(err)
	}
	out := resp.Resp.(*kvrpcpb.CheckTxnStatusResponse)
	status := txnStatus{
		committed:  out.GetCommitVersion() > 0,
		commitTS:   out.GetCommitVersion(),
		rolledBack: out.GetAction() != kvrpcpb.Action_NoAction && out.GetCommitVersion() == 0,
		ttlExpired: out.GetLockTtl() == 0,
	}
	if status.final() {
		r.mu.Lock()
		r.resolved[lock.TxnID] = status
		r.mu.Unlock()
	}
	return status, nil
}

func (r *LockResolver) resolveLock(bo *retry.Backoffer, lock *Lock, status txnStatus) error {
	region, err := r.regionCache.GetRegionByKey(bo.GetCtx(), lock.Key)
	if err != nil {
		return errors.Trace(err)
	}
	req := &kvrpcpb.ResolveLockRequest{StartVersion: lock.TxnID}
	if status.committed {
		req.CommitVersion = status.commitTS
	}
	sender := locate.NewRegionRequestSender(r.regionCache, r.client)
	handler := &rebuildOnStaleHandler{cache: r.regionCache, regionID: region.VerID()}
	_, err = sender.SendReq(bo, func() (*tikvrpc.Request, error) {
		return &tikvrpc.Request{Type: tikvrpc.CmdResolveLock, Req: req}, nil
	}, region.VerID(), r.timeout, handler)
	return errors.Trace(err)
}

// rebuildOnStaleHandler is the minimal RegionErrorHandler an
// administrative call (CheckTxnStatus/ResolveLock) needs: it has no
// session of its own to mutate, so it only updates the shared cache.
// It does not compare key ranges; OnNotLeader returns false, failing
// the attempt, when the server gave no leader hint or the cache could
// not switch to the hinted leader, and the caller re-resolves the key
// from scratch on its next ResolveLocks call.
type rebuildOnStaleHandler struct {
	cache    *locate.RegionCache
	regionID locate.RegionVerID
}

func (h *rebuildOnStaleHandler) OnNotLeader(ctx context.Context, newLeaderStoreID uint64) (bool, error) {
	if newLeaderStoreID == 0 {
		return false, nil
	}
	return h.cache.UpdateLeader(h.regionID, newLeaderStoreID), nil
}

func (h *rebuildOnStaleHandler) OnStoreNotMatch(ctx context.Context, observedStoreID uint64) error {
	h.cache.ClearStoreByID(observedStoreID)
	return nil
}
