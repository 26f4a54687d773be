package locate

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/errorpb"
	"github.com/pingcap/kvproto/pkg/metapb"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pingcap/tikv-region-client/config"
	tikverr "github.com/pingcap/tikv-region-client/error"
	"github.com/pingcap/tikv-region-client/logutil"
	"github.com/pingcap/tikv-region-client/metrics"
)

// RegionManager is the external dependency of spec §6: it maps a
// key/region-id to a current (Region, Store) pair and invalidates
// entries on failure signals. Its own consistency/concurrency is its
// responsibility; RegionStoreClient treats returned values as
// immutable snapshots (spec §5).
type RegionManager interface {
	GetRegionByKey(ctx context.Context, key []byte) (*Region, error)
	GetRegionByID(ctx context.Context, id uint64) (*Region, error)
	GetStoreByID(ctx context.Context, id uint64) (*Store, error)
	GetRegionStoreByKey(ctx context.Context, key []byte) (*Region, *Store, error)
	OnRequestFail(region RegionVerID)
}

// btreeItem indexes a Region by its start key for sorted lookup.
type btreeItem struct {
	startKey []byte
	region   *Region
}

func (i *btreeItem) Less(other btree.Item) bool {
	return bytes.Compare(i.startKey, other.(*btreeItem).startKey) < 0
}

// RegionCache is the process-wide, concurrently-accessed cache backing
// RegionManager, following the map+sorted-index shape exercised by
// brahmabase-tidb/store/tikv/region_cache_test.go (there: a
// map[RegionVerID]*Region plus a btree.BTree of btreeItem). Region
// discovery misses are deduplicated with singleflight so a thundering
// herd of callers racing to refresh the same stale region collapse
// into a single PD round trip.
type RegionCache struct {
	pd  *PDClient
	ttl time.Duration

	mu struct {
		sync.RWMutex
		regions    map[RegionVerID]*Region
		insertedAt map[RegionVerID]time.Time
		sorted     *btree.BTree
	}
	stores struct {
		sync.RWMutex
		byID map[uint64]*Store
	}
	sf singleflight.Group
}

// NewRegionCache constructs an empty RegionCache backed by pd, with
// entries trusted for config.DefaultRegionCacheTTL before a lookup
// forces a re-validation against pd (spec §6's cache staleness bound).
func NewRegionCache(pd *PDClient) *RegionCache {
	return NewRegionCacheWithTTL(pd, config.DefaultRegionCacheTTL)
}

// NewRegionCacheWithTTL is NewRegionCache with an explicit TTL,
// letting callers outside config.Default() tune staleness tolerance.
func NewRegionCacheWithTTL(pd *PDClient, ttl time.Duration) *RegionCache {
	c := &RegionCache{pd: pd, ttl: ttl}
	c.mu.regions = make(map[RegionVerID]*Region)
	c.mu.insertedAt = make(map[RegionVerID]time.Time)
	c.mu.sorted = btree.New(32)
	c.stores.byID = make(map[uint64]*Store)
	return c
}

// GetRegionByKey implements RegionManager: a cache hit returns
// immediately; a miss refreshes from PD and populates the cache.
func (c *RegionCache) GetRegionByKey(ctx context.Context, key []byte) (*Region, error) {
	if r := c.searchCachedRegion(key); r != nil {
		if !c.isStale(r.VerID()) {
			return r, nil
		}
		c.DropRegion(r.VerID())
	}
	metrics.RegionCacheMiss.WithLabelValues("by-key").Inc()
	v, err, _ := c.sf.Do("key:"+string(key), func() (interface{}, error) {
		meta, leader, err := c.pd.GetRegion(ctx, key)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if meta == nil {
			return nil, errors.Trace(&tikverr.ErrRegionUnavailable{})
		}
		return c.insertRegion(meta, leader)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Region), nil
}

// GetRegionByID implements RegionManager, bypassing the sorted index.
func (c *RegionCache) GetRegionByID(ctx context.Context, id uint64) (*Region, error) {
	c.mu.RLock()
	var hit *Region
	for verID, r := range c.mu.regions {
		if verID.ID == id {
			hit = r
			break
		}
	}
	c.mu.RUnlock()
	if hit != nil {
		if !c.isStale(hit.VerID()) {
			return hit, nil
		}
		c.DropRegion(hit.VerID())
	}

	metrics.RegionCacheMiss.WithLabelValues("by-id").Inc()
	v, err, _ := c.sf.Do("id:"+strconv.FormatUint(id, 10), func() (interface{}, error) {
		meta, leader, err := c.pd.GetRegionByID(ctx, id)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if meta == nil {
			return nil, errors.Trace(&tikverr.ErrRegionUnavailable{RegionID: id})
		}
		return c.insertRegion(meta, leader)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Region), nil
}

// GetStoreByID implements RegionManager.
func (c *RegionCache) GetStoreByID(ctx context.Context, id uint64) (*Store, error) {
	c.stores.RLock()
	if s, ok := c.stores.byID[id]; ok {
		c.stores.RUnlock()
		return s, nil
	}
	c.stores.RUnlock()

	meta, err := c.pd.GetStore(ctx, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	store := NewStore(meta.GetId(), meta.GetAddress())
	c.stores.Lock()
	c.stores.byID[id] = store
	c.stores.Unlock()
	return store, nil
}

// GetRegionStoreByKey implements RegionManager's combined lookup,
// used by the Client Builder's build(key) path (spec §4.5).
func (c *RegionCache) GetRegionStoreByKey(ctx context.Context, key []byte) (*Region, *Store, error) {
	region, err := c.GetRegionByKey(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	store, err := c.GetStoreByID(ctx, region.Leader().GetStoreId())
	if err != nil {
		return nil, nil, err
	}
	return region, store, nil
}

// OnRequestFail implements RegionManager: evict the routing entry for
// region so the next lookup refreshes from PD (spec §4.2.1).
func (c *RegionCache) OnRequestFail(region RegionVerID) {
	c.DropRegion(region)
}

// LocateKey resolves key to a KeyLocation, refreshing from PD on miss.
func (c *RegionCache) LocateKey(ctx context.Context, key []byte) (*KeyLocation, error) {
	region, err := c.GetRegionByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return &KeyLocation{Region: region.VerID(), StartKey: region.StartKey(), EndKey: region.EndKey()}, nil
}

// GetRPCContext builds the routing context for an outgoing RPC to
// region's current leader. Returns (nil, nil) if the region has fallen
// out of cache (spec §4.1: caller treats this as a region miss) or if
// the resolved leader's store is marked unreachable.
func (c *RegionCache) GetRPCContext(ctx context.Context, id RegionVerID) (*RPCContext, error) {
	c.mu.RLock()
	region, ok := c.mu.regions[id]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	leader := region.Leader()
	store, err := c.GetStoreByID(ctx, leader.GetStoreId())
	if err != nil {
		return nil, err
	}
	if !store.Reachable() {
		return nil, nil
	}
	return &RPCContext{
		Region: id,
		Meta:   region.GetMeta(),
		Peer:   leader,
		Store:  store,
		Addr:   store.GetAddr(),
	}, nil
}

// UpdateLeader switches the cached region's leader to the peer hosted
// on newStoreID, in place conceptually (a new Region value replaces
// the old one under the same RegionVerID — the epoch hasn't changed).
// Returns false if the region is no longer cached or has no peer on
// that store.
func (c *RegionCache) UpdateLeader(id RegionVerID, newStoreID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	region, ok := c.mu.regions[id]
	if !ok {
		return false
	}
	updated := region.WithLeader(newStoreID)
	if updated == nil {
		logutil.BgLogger().Warn("tikv-region-client: not-leader hint points at unknown peer",
			zap.Uint64("region", id.ID), zap.Uint64("newStore", newStoreID))
		return false
	}
	c.mu.regions[id] = updated
	return true
}

// ClearStoreByID drops a store from the cache, e.g. after a
// store-not-match response indicates the cached address is wrong
// (spec §4.2.2).
func (c *RegionCache) ClearStoreByID(id uint64) {
	c.stores.Lock()
	delete(c.stores.byID, id)
	c.stores.Unlock()
	c.pd.InvalidateStoreCache(id)
}

// DropRegion evicts a region from the cache entirely.
func (c *RegionCache) DropRegion(id RegionVerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	region, ok := c.mu.regions[id]
	if !ok {
		return
	}
	delete(c.mu.regions, id)
	delete(c.mu.insertedAt, id)
	c.mu.sorted.Delete(&btreeItem{startKey: region.StartKey()})
}

// isStale reports whether id's cache entry has outlived the cache's
// TTL and should be re-validated against pd before use.
func (c *RegionCache) isStale(id RegionVerID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	insertedAt, ok := c.mu.insertedAt[id]
	if !ok {
		return true
	}
	return time.Since(insertedAt) > c.ttl
}

// OnRegionStale replaces a stale region with the fresh descriptors the
// server returned alongside a StaleEpoch error.
func (c *RegionCache) OnRegionStale(id RegionVerID, newRegions []*metapb.Region) error {
	c.DropRegion(id)
	for _, meta := range newRegions {
		leaderIdx := 0
		if len(meta.GetPeers()) == 0 {
			continue
		}
		if _, err := c.insertRegion(meta, meta.GetPeers()[leaderIdx]); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateCachedRegion drops region's cache entry, e.g. after a
// split/merge detected out-of-band (the caller re-resolves on demand).
func (c *RegionCache) InvalidateCachedRegion(id RegionVerID) { c.DropRegion(id) }

func (c *RegionCache) insertRegion(meta *metapb.Region, leader *metapb.Peer) (*Region, error) {
	leaderIdx := 0
	if leader != nil {
		found := false
		for i, p := range meta.GetPeers() {
			if p.GetId() == leader.GetId() {
				leaderIdx = i
				found = true
				break
			}
		}
		if !found && len(meta.GetPeers()) > 0 {
			leaderIdx = 0
		}
	}
	if len(meta.GetPeers()) == 0 {
		return nil, errors.Trace(&tikverr.ErrRegionUnavailable{RegionID: meta.GetId()})
	}
	region := NewRegion(meta, leaderIdx)

	c.mu.Lock()
	c.mu.regions[region.VerID()] = region
	c.mu.insertedAt[region.VerID()] = time.Now()
	c.mu.sorted.ReplaceOrInsert(&btreeItem{startKey: region.StartKey(), region: region})
	c.mu.Unlock()
	return region, nil
}

// searchCachedRegion finds the cached region whose [start,end) covers
// key, or nil if none is cached, walking the btree backwards from the
// first start key greater than key (the same "descend from just past
// key" search brahmabase-tidb's searchCachedRegion performs).
func (c *RegionCache) searchCachedRegion(key []byte) *Region {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var found *Region
	c.mu.sorted.DescendLessOrEqual(&btreeItem{startKey: key}, func(item btree.Item) bool {
		r := item.(*btreeItem).region
		if r.Contains(key) {
			found = r
		}
		return false
	})
	return found
}

// regionErrorIsTerminal reports whether a region error should drop the
// cache entry outright (the "other" bucket in spec §4.2.2) rather than
// receive a dedicated recovery path.
func regionErrorIsTerminal(e *errorpb.Error) bool {
	return e.GetNotLeader() == nil &&
		e.GetStoreNotMatch() == nil &&
		e.GetStaleEpoch() == nil &&
		e.GetServerIsBusy() == nil &&
		e.GetRegionNotFound() == nil &&
		e.GetKeyNotInRegion() == nil &&
		e.GetRaftEntryTooLarge() == nil &&
		e.GetStaleCommand() == nil
}
