package txnlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pingcap/kvproto/pkg/kvrpcpb"
	"github.com/pingcap/kvproto/pkg/metapb"
	"github.com/stretchr/testify/require"
	pd "github.com/tikv/pd/client"

	"github.com/pingcap/tikv-region-client/internal/locate"
	"github.com/pingcap/tikv-region-client/internal/retry"
	"github.com/pingcap/tikv-region-client/tikvrpc"
)

type fakePD struct{ stores map[uint64]*metapb.Store }

func (f *fakePD) GetStore(ctx context.Context, storeID uint64) (*metapb.Store, error) {
	return f.stores[storeID], nil
}
func (f *fakePD) GetRegion(ctx context.Context, key []byte) (*pd.Region, error) { return nil, nil }
func (f *fakePD) GetRegionByID(ctx context.Context, regionID uint64) (*pd.Region, error) {
	return nil, nil
}

type fakeRPCClient struct {
	mu        sync.Mutex
	responses []*tikvrpc.Response
	calls     int
}

func (f *fakeRPCClient) SendReq(ctx context.Context, addr string, req *tikvrpc.Request, timeout time.Duration) (*tikvrpc.Response, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.mu.Unlock()
	return f.responses[idx], nil
}

func seededCache(t *testing.T) *locate.RegionCache {
	meta := &metapb.Region{
		Id:          1,
		StartKey:    []byte("a"),
		EndKey:      []byte("z"),
		RegionEpoch: &metapb.RegionEpoch{ConfVer: 1, Version: 1},
		Peers:       []*metapb.Peer{{Id: 11, StoreId: 100}},
	}
	pdClient := locate.NewPDClientWithBackend(&fakePD{
		stores: map[uint64]*metapb.Store{100: {Id: 100, Address: "127.0.0.1:20160"}},
	})
	cache := locate.NewRegionCache(pdClient)
	require.NoError(t, cache.OnRegionStale(locate.RegionVerID{}, []*metapb.Region{meta}))
	return cache
}

func TestResolveLocksAllFinalReturnsTrue(t *testing.T) {
	cache := seededCache(t)
	rpc := &fakeRPCClient{responses: []*tikvrpc.Response{
		{Resp: &kvrpcpb.CheckTxnStatusResponse{CommitVersion: 20}},
		{Resp: &kvrpcpb.ResolveLockResponse{}},
	}}
	resolver := NewLockResolver(cache, rpc, time.Second)

	lock := &Lock{Key: []byte("k1"), Primary: []byte("k1"), TxnID: 10}
	bo := retry.NewBackoffer(context.Background(), 1000)
	resolved, err := resolver.ResolveLocks(bo, []*Lock{lock})
	require.NoError(t, err)
	require.True(t, resolved)
	require.Equal(t, 2, rpc.calls)
}

func TestResolveLocksStillActiveReturnsFalse(t *testing.T) {
	cache := seededCache(t)
	rpc := &fakeRPCClient{responses: []*tikvrpc.Response{
		{Resp: &kvrpcpb.CheckTxnStatusResponse{LockTtl: 5000}},
	}}
	resolver := NewLockResolver(cache, rpc, time.Second)

	lock := &Lock{Key: []byte("k1"), Primary: []byte("k1"), TxnID: 11}
	bo := retry.NewBackoffer(context.Background(), 1000)
	resolved, err := resolver.ResolveLocks(bo, []*Lock{lock})
	require.NoError(t, err)
	require.False(t, resolved)
	require.Equal(t, 1, rpc.calls, "resolveLock must not be called for a still-active txn")
}

func TestGetTxnStatusCachesFinalOutcome(t *testing.T) {
	cache := seededCache(t)
	rpc := &fakeRPCClient{responses: []*tikvrpc.Response{
		{Resp: &kvrpcpb.CheckTxnStatusResponse{CommitVersion: 30}},
		{Resp: &kvrpcpb.ResolveLockResponse{}},
		{Resp: &kvrpcpb.ResolveLockResponse{}},
	}}
	resolver := NewLockResolver(cache, rpc, time.Second)

	lock1 := &Lock{Key: []byte("k1"), Primary: []byte("p1"), TxnID: 99}
	lock2 := &Lock{Key: []byte("k2"), Primary: []byte("p1"), TxnID: 99}
	bo := retry.NewBackoffer(context.Background(), 1000)

	resolved, err := resolver.ResolveLocks(bo, []*Lock{lock1, lock2})
	require.NoError(t, err)
	require.True(t, resolved)
	// One CheckTxnStatus call (second hits the resolved-txn cache) plus
	// two ResolveLock calls, one per key.
	require.Equal(t, 3, rpc.calls)
}
