package locate

import (
	"context"
	"testing"

	"github.com/pingcap/kvproto/pkg/errorpb"
	"github.com/pingcap/kvproto/pkg/metapb"
	"github.com/stretchr/testify/require"
)

func newTestCache() *RegionCache {
	return NewRegionCache(nil)
}

func insertTestRegion(t *testing.T, c *RegionCache, id uint64, start, end string, leaderStore uint64) *Region {
	meta := &metapb.Region{
		Id:          id,
		StartKey:    []byte(start),
		EndKey:      []byte(end),
		RegionEpoch: &metapb.RegionEpoch{ConfVer: 1, Version: 1},
		Peers:       []*metapb.Peer{{Id: id*10 + 1, StoreId: leaderStore}},
	}
	region, err := c.insertRegion(meta, meta.Peers[0])
	require.NoError(t, err)

	store := NewStore(leaderStore, "127.0.0.1:20160")
	c.stores.Lock()
	c.stores.byID[leaderStore] = store
	c.stores.Unlock()
	return region
}

func TestSearchCachedRegionFindsCoveringRange(t *testing.T) {
	c := newTestCache()
	insertTestRegion(t, c, 1, "a", "m", 100)
	insertTestRegion(t, c, 2, "m", "z", 200)

	found := c.searchCachedRegion([]byte("c"))
	require.NotNil(t, found)
	require.Equal(t, uint64(1), found.GetID())

	found = c.searchCachedRegion([]byte("x"))
	require.NotNil(t, found)
	require.Equal(t, uint64(2), found.GetID())

	require.Nil(t, c.searchCachedRegion([]byte("0")))
}

func TestGetRegionByIDHitsCacheWithoutPD(t *testing.T) {
	c := newTestCache()
	region := insertTestRegion(t, c, 1, "a", "m", 100)

	got, err := c.GetRegionByID(context.Background(), region.GetID())
	require.NoError(t, err)
	require.Equal(t, region.VerID(), got.VerID())
}

func TestGetRPCContextReturnsNilForUnreachableStore(t *testing.T) {
	c := newTestCache()
	region := insertTestRegion(t, c, 1, "a", "m", 100)

	c.stores.RLock()
	store := c.stores.byID[100]
	c.stores.RUnlock()
	store.MarkUnreachable()

	ctx, err := c.GetRPCContext(context.Background(), region.VerID())
	require.NoError(t, err)
	require.Nil(t, ctx)
}

func TestGetRPCContextReturnsNilForUncachedRegion(t *testing.T) {
	c := newTestCache()
	ctx, err := c.GetRPCContext(context.Background(), RegionVerID{ID: 999})
	require.NoError(t, err)
	require.Nil(t, ctx)
}

func TestUpdateLeaderSwitchesCachedRegion(t *testing.T) {
	c := newTestCache()
	meta := &metapb.Region{
		Id:          1,
		StartKey:    []byte("a"),
		EndKey:      []byte("m"),
		RegionEpoch: &metapb.RegionEpoch{ConfVer: 1, Version: 1},
		Peers: []*metapb.Peer{
			{Id: 11, StoreId: 100},
			{Id: 12, StoreId: 101},
		},
	}
	region, err := c.insertRegion(meta, meta.Peers[0])
	require.NoError(t, err)

	ok := c.UpdateLeader(region.VerID(), 101)
	require.True(t, ok)

	c.mu.RLock()
	updated := c.mu.regions[region.VerID()]
	c.mu.RUnlock()
	require.Equal(t, uint64(101), updated.Leader().GetStoreId())
}

func TestUpdateLeaderUnknownPeerReturnsFalse(t *testing.T) {
	c := newTestCache()
	region := insertTestRegion(t, c, 1, "a", "m", 100)
	require.False(t, c.UpdateLeader(region.VerID(), 999))
}

func TestDropRegionEvictsFromCacheAndIndex(t *testing.T) {
	c := newTestCache()
	region := insertTestRegion(t, c, 1, "a", "m", 100)

	c.DropRegion(region.VerID())

	c.mu.RLock()
	_, ok := c.mu.regions[region.VerID()]
	c.mu.RUnlock()
	require.False(t, ok)
	require.Nil(t, c.searchCachedRegion([]byte("c")))
}

func TestOnRegionStaleReplacesWithNewDescriptors(t *testing.T) {
	c := newTestCache()
	region := insertTestRegion(t, c, 1, "a", "z", 100)

	newRegions := []*metapb.Region{
		{
			Id:          2,
			StartKey:    []byte("a"),
			EndKey:      []byte("m"),
			RegionEpoch: &metapb.RegionEpoch{ConfVer: 1, Version: 1},
			Peers:       []*metapb.Peer{{Id: 21, StoreId: 100}},
		},
		{
			Id:          3,
			StartKey:    []byte("m"),
			EndKey:      []byte("z"),
			RegionEpoch: &metapb.RegionEpoch{ConfVer: 1, Version: 1},
			Peers:       []*metapb.Peer{{Id: 31, StoreId: 100}},
		},
	}
	err := c.OnRegionStale(region.VerID(), newRegions)
	require.NoError(t, err)

	c.mu.RLock()
	_, stillCached := c.mu.regions[region.VerID()]
	c.mu.RUnlock()
	require.False(t, stillCached)

	found := c.searchCachedRegion([]byte("n"))
	require.NotNil(t, found)
	require.Equal(t, uint64(3), found.GetID())
}

func TestRegionErrorIsTerminal(t *testing.T) {
	require.True(t, regionErrorIsTerminal(&errorpb.Error{Message: "unknown disaster"}))
	require.False(t, regionErrorIsTerminal(&errorpb.Error{NotLeader: &errorpb.NotLeader{}}))
}
