package txnlock

import (
	"testing"

	"github.com/pingcap/kvproto/pkg/kvrpcpb"
	"github.com/stretchr/testify/require"
)

func TestExtractLockFromKeyErr(t *testing.T) {
	keyErr := &kvrpcpb.KeyError{
		Locked: &kvrpcpb.LockInfo{
			Key:         []byte("k1"),
			PrimaryLock: []byte("k0"),
			LockVersion: 42,
			LockTtl:     3000,
		},
	}
	lock := ExtractLockFromKeyErr(keyErr)
	require.NotNil(t, lock)
	require.Equal(t, uint64(42), lock.TxnID)
	require.Equal(t, []byte("k0"), lock.Primary)
}

func TestExtractLockFromKeyErrNonLockReturnsNil(t *testing.T) {
	keyErr := &kvrpcpb.KeyError{AlreadyExist: &kvrpcpb.AlreadyExist{Key: []byte("k1")}}
	require.Nil(t, ExtractLockFromKeyErr(keyErr))
	require.Nil(t, ExtractLockFromKeyErr(nil))
}

func TestExtractLockFromKeyErrsSkipsNonLockEntries(t *testing.T) {
	keyErrs := []*kvrpcpb.KeyError{
		{Locked: &kvrpcpb.LockInfo{LockVersion: 1}},
		{AlreadyExist: &kvrpcpb.AlreadyExist{}},
		{Locked: &kvrpcpb.LockInfo{LockVersion: 2}},
	}
	locks := ExtractLockFromKeyErrs(keyErrs)
	require.Len(t, locks, 2)
	require.Equal(t, uint64(1), locks[0].TxnID)
	require.Equal(t, uint64(2), locks[1].TxnID)
}
