package locate

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/metapb"
	pd "github.com/tikv/pd/client"
)

// pdBackend is the slice of tikv/pd/client.Client this module actually
// calls. Narrowing it down from the full Client interface (which also
// covers TSO, region scattering, GC safepoints, and cluster membership
// that this module has no use for) keeps PDClient trivially fakeable
// in tests without tracking pd.Client's full method set.
type pdBackend interface {
	GetStore(ctx context.Context, storeID uint64) (*metapb.Store, error)
	GetRegion(ctx context.Context, key []byte) (*pd.Region, error)
	GetRegionByID(ctx context.Context, regionID uint64) (*pd.Region, error)
}

// PDClient is the Region Manager's external backing-discovery
// dependency (spec §1: "discovery of regions from a placement driver"
// is out of scope; only this interface's shape matters). Adapted from
// the teacher's pdClient wrapper in pkg/restore/split_client.go, which
// wraps the same tikv/pd/client.Client and caches stores by id.
type PDClient struct {
	mu         sync.Mutex
	client     pdBackend
	storeCache map[uint64]*metapb.Store
}

// NewPDClient wraps a tikv/pd/client.Client for use by RegionCache.
// pd.Client satisfies pdBackend, so any real client plugs in directly.
func NewPDClient(client pd.Client) *PDClient {
	return NewPDClientWithBackend(client)
}

// NewPDClientWithBackend wraps any pdBackend implementation, letting
// tests substitute a fake without constructing a real pd.Client.
func NewPDClientWithBackend(client pdBackend) *PDClient {
	return &PDClient{
		client:     client,
		storeCache: make(map[uint64]*metapb.Store),
	}
}

// GetStore resolves a store by id, consulting the local cache first.
func (c *PDClient) GetStore(ctx context.Context, storeID uint64) (*metapb.Store, error) {
	c.mu.Lock()
	if store, ok := c.storeCache[storeID]; ok {
		c.mu.Unlock()
		return store, nil
	}
	c.mu.Unlock()

	store, err := c.client.GetStore(ctx, storeID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.mu.Lock()
	c.storeCache[storeID] = store
	c.mu.Unlock()
	return store, nil
}

// GetRegion resolves the region covering key, along with its leader.
func (c *PDClient) GetRegion(ctx context.Context, key []byte) (*metapb.Region, *metapb.Peer, error) {
	region, err := c.client.GetRegion(ctx, key)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	if region == nil {
		return nil, nil, nil
	}
	return region.Meta, region.Leader, nil
}

// GetRegionByID resolves a region by its id, along with its leader.
func (c *PDClient) GetRegionByID(ctx context.Context, regionID uint64) (*metapb.Region, *metapb.Peer, error) {
	region, err := c.client.GetRegionByID(ctx, regionID)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	if region == nil {
		return nil, nil, nil
	}
	return region.Meta, region.Leader, nil
}

// InvalidateStoreCache drops a cached store, e.g. after the Channel
// Factory reports the address no longer accepts connections.
func (c *PDClient) InvalidateStoreCache(storeID uint64) {
	c.mu.Lock()
	delete(c.storeCache, storeID)
	c.mu.Unlock()
}
