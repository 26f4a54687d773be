package locate

import (
	"testing"

	"github.com/pingcap/kvproto/pkg/metapb"
	"github.com/stretchr/testify/require"
)

func sampleMeta() *metapb.Region {
	return &metapb.Region{
		Id:          1,
		StartKey:    []byte("a"),
		EndKey:      []byte("m"),
		RegionEpoch: &metapb.RegionEpoch{ConfVer: 1, Version: 1},
		Peers: []*metapb.Peer{
			{Id: 10, StoreId: 100},
			{Id: 11, StoreId: 101},
		},
	}
}

func TestRegionContains(t *testing.T) {
	r := NewRegion(sampleMeta(), 0)
	require.True(t, r.Contains([]byte("a")))
	require.True(t, r.Contains([]byte("b")))
	require.False(t, r.Contains([]byte("m")))
	require.False(t, r.Contains([]byte("0")))
}

func TestRegionContainsOpenEndedRange(t *testing.T) {
	meta := sampleMeta()
	meta.EndKey = nil
	r := NewRegion(meta, 0)
	require.True(t, r.Contains([]byte("zzzzzz")))
}

func TestRegionWithLeaderSwitchesPeer(t *testing.T) {
	r := NewRegion(sampleMeta(), 0)
	require.Equal(t, uint64(100), r.Leader().GetStoreId())

	updated := r.WithLeader(101)
	require.NotNil(t, updated)
	require.Equal(t, uint64(101), updated.Leader().GetStoreId())
	require.Equal(t, uint64(100), r.Leader().GetStoreId(), "original Region must stay unmutated")
}

func TestRegionWithLeaderUnknownStoreReturnsNil(t *testing.T) {
	r := NewRegion(sampleMeta(), 0)
	require.Nil(t, r.WithLeader(999))
}

func TestRegionSameRange(t *testing.T) {
	r1 := NewRegion(sampleMeta(), 0)
	r2 := NewRegion(sampleMeta(), 1)
	require.True(t, r1.SameRange(r2))

	meta3 := sampleMeta()
	meta3.EndKey = []byte("z")
	r3 := NewRegion(meta3, 0)
	require.False(t, r1.SameRange(r3))
}

func TestNewRegionPanicsOnBadLeaderIndex(t *testing.T) {
	require.Panics(t, func() {
		NewRegion(sampleMeta(), 5)
	})
}

func TestStoreReachability(t *testing.T) {
	s := NewStore(1, "127.0.0.1:20160")
	require.True(t, s.Reachable())
	s.MarkUnreachable()
	require.False(t, s.Reachable())
	s.MarkReachable()
	require.True(t, s.Reachable())
}
