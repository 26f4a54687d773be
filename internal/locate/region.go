// Package locate implements the Region Manager contract of spec §6 and
// §4.3's routing-refresh callbacks: the Region Descriptor, Store
// descriptor, Region Cache, and the Retry-Driver-plus-Error-Classifier
// fusion (RegionRequestSender). Grounded on
// luyulong-tidb/store/tikv/region_request.go (RPCContext, RegionVerID)
// and brahmabase-tidb/store/tikv/region_cache_test.go (cache shape).
package locate

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/pingcap/kvproto/pkg/metapb"
)

// RegionVerID identifies one immutable version of a region: its id
// plus the conf-change and version components of its epoch. Two
// Regions observed at different epochs have different RegionVerIDs
// even though they describe the "same" region across a split/merge.
type RegionVerID struct {
	ID      uint64
	ConfVer uint64
	Ver     uint64
}

// GetID returns the region id.
func (v RegionVerID) GetID() uint64 { return v.ID }

func (v RegionVerID) String() string {
	return fmt.Sprintf("{id=%d,confVer=%d,ver=%d}", v.ID, v.ConfVer, v.Ver)
}

// Store is a data-node descriptor: id and network address.
type Store struct {
	id        uint64
	addr      string
	reachable int32 // atomic bool, 1 == reachable
}

// NewStore constructs a Store, reachable by default.
func NewStore(id uint64, addr string) *Store {
	return &Store{id: id, addr: addr, reachable: 1}
}

// GetID returns the store id.
func (s *Store) GetID() uint64 { return s.id }

// GetAddr returns the store's network address.
func (s *Store) GetAddr() string { return s.addr }

// MarkUnreachable flags this store as unreachable, e.g. after the
// Channel Factory reports a connection failure. This is advisory only:
// it biases region-cache housekeeping (region_cache_test.go's
// TestDropStore) but never substitutes for the retry driver's own
// backoff/retry decision.
func (s *Store) MarkUnreachable() { atomic.StoreInt32(&s.reachable, 0) }

// MarkReachable clears the unreachable flag.
func (s *Store) MarkReachable() { atomic.StoreInt32(&s.reachable, 1) }

// Reachable reports whether the store was last observed reachable.
func (s *Store) Reachable() bool { return atomic.LoadInt32(&s.reachable) == 1 }

// Region is an immutable snapshot of a region: id, epoch, half-open key
// range, peer list and leader index. Updates to routing yield a new
// Region value; nothing here is mutated in place.
type Region struct {
	meta      *metapb.Region
	leaderIdx int
}

// NewRegion builds a Region from cluster metadata plus the index into
// meta.Peers that is currently the leader. Panics if leaderIdx is out
// of range, since the invariant "leader is non-null" (spec §3) must
// hold at construction.
func NewRegion(meta *metapb.Region, leaderIdx int) *Region {
	if leaderIdx < 0 || leaderIdx >= len(meta.GetPeers()) {
		panic("locate: leaderIdx out of range constructing Region")
	}
	return &Region{meta: meta, leaderIdx: leaderIdx}
}

// GetID returns the region id.
func (r *Region) GetID() uint64 { return r.meta.GetId() }

// VerID returns this Region's RegionVerID.
func (r *Region) VerID() RegionVerID {
	return RegionVerID{
		ID:      r.meta.GetId(),
		ConfVer: r.meta.GetRegionEpoch().GetConfVer(),
		Ver:     r.meta.GetRegionEpoch().GetVersion(),
	}
}

// GetMeta returns the underlying protobuf region metadata.
func (r *Region) GetMeta() *metapb.Region { return r.meta }

// StartKey returns the region's inclusive start key.
func (r *Region) StartKey() []byte { return r.meta.GetStartKey() }

// EndKey returns the region's exclusive end key; empty means +∞.
func (r *Region) EndKey() []byte { return r.meta.GetEndKey() }

// Leader returns the current leader peer.
func (r *Region) Leader() *metapb.Peer { return r.meta.GetPeers()[r.leaderIdx] }

// Contains reports whether key falls in [start, end).
func (r *Region) Contains(key []byte) bool {
	return bytes.Compare(r.StartKey(), key) <= 0 &&
		(len(r.EndKey()) == 0 || bytes.Compare(key, r.EndKey()) < 0)
}

// SameRange reports whether two regions describe the identical
// [start,end) key range, independent of epoch or leader — this is the
// predicate spec §4.3's on_not_leader uses to decide whether a
// not-leader response implies a split occurred.
func (r *Region) SameRange(other *Region) bool {
	return bytes.Equal(r.StartKey(), other.StartKey()) && bytes.Equal(r.EndKey(), other.EndKey())
}

// WithLeader returns a new Region identical to r but with the leader
// peer switched to the peer hosted on storeID. Returns nil if no peer
// on that store exists in this region (the leader hint referred to a
// peer this region doesn't know about, e.g. after a conf change).
func (r *Region) WithLeader(storeID uint64) *Region {
	for i, p := range r.meta.GetPeers() {
		if p.GetStoreId() == storeID {
			return &Region{meta: r.meta, leaderIdx: i}
		}
	}
	return nil
}

// KeyLocation is the result of resolving a key to a region: the region
// itself plus the specific [start,end) bounds that were matched.
type KeyLocation struct {
	Region   RegionVerID
	StartKey []byte
	EndKey   []byte
}

// Contains reports whether key falls within this location's bounds.
func (l *KeyLocation) Contains(key []byte) bool {
	return bytes.Compare(l.StartKey, key) <= 0 &&
		(len(l.EndKey) == 0 || bytes.Compare(key, l.EndKey) < 0)
}

// RPCContext is the routing context attached to every outgoing RPC
// (spec §3's "Routing Context"): the region id/epoch/leader-peer
// triple, plus the resolved store and its address for dialing.
type RPCContext struct {
	Region RegionVerID
	Meta   *metapb.Region
	Peer   *metapb.Peer
	Store  *Store
	Addr   string
}
