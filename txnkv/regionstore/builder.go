package regionstore

import (
	"context"
	"time"

	"github.com/pingcap/errors"

	"github.com/pingcap/tikv-region-client/internal/locate"
	"github.com/pingcap/tikv-region-client/txnkv/txnlock"
)

// ClientBuilder assembles Region Store Clients against a shared
// RegionCache, RPCClient, and Lock Resolver (spec §4.5). It is
// stateless and safe to share across goroutines: every Build* call
// produces an independent session, matching the "cheap to rebuild per
// logical call" lifecycle of spec §5.
type ClientBuilder struct {
	regionCache *locate.RegionCache
	rpcClient   locate.RPCClient
	resolver    txnlock.Resolver
	timeout     time.Duration
}

// NewClientBuilder constructs a ClientBuilder. timeout is applied as
// the per-attempt RPC deadline for every client it builds.
func NewClientBuilder(regionCache *locate.RegionCache, rpcClient locate.RPCClient, resolver txnlock.Resolver, timeout time.Duration) *ClientBuilder {
	return &ClientBuilder{
		regionCache: regionCache,
		rpcClient:   rpcClient,
		resolver:    resolver,
		timeout:     timeout,
	}
}

// Build assembles a Client bound to an already-resolved region and
// store pair, the fastest path when the caller already holds both
// from a prior lookup (spec §4.5, first construction path).
func (b *ClientBuilder) Build(region *locate.Region, store *locate.Store) *Client {
	return newClient(region, store, b.regionCache, b.rpcClient, b.resolver, b.timeout)
}

// BuildForKey resolves the region and leader store covering key and
// builds a Client against them (spec §4.5, second construction path).
func (b *ClientBuilder) BuildForKey(ctx context.Context, key []byte) (*Client, error) {
	region, store, err := b.regionCache.GetRegionStoreByKey(ctx, key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return b.Build(region, store), nil
}

// BuildForRegion resolves the current leader store of an
// already-known region and builds a Client against it (spec §4.5,
// third construction path), used when a caller holds a RegionVerID
// from a previous operation (e.g. after a not-leader rebuild).
func (b *ClientBuilder) BuildForRegion(ctx context.Context, id locate.RegionVerID) (*Client, error) {
	region, err := b.regionCache.GetRegionByID(ctx, id.ID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	store, err := b.regionCache.GetStoreByID(ctx, region.Leader().GetStoreId())
	if err != nil {
		return nil, errors.Trace(err)
	}
	return b.Build(region, store), nil
}
