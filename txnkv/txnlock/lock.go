// Package txnlock implements the Lock Resolver cooperation contract of
// spec §4.4/§6: extracting a Lock from a key error and driving
// resolution so a stalled transactional read can make progress.
// Grounded on luyulong-tidb/store/tikv/lock_resolver.go's Lock struct
// and NewLock constructor.
package txnlock

import (
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
)

// Lock describes one key's in-progress transaction as reported by a
// kvrpcpb.KeyError.Locked payload.
type Lock struct {
	Key             []byte
	Primary         []byte
	TxnID           uint64
	TTL             uint64
	TxnSize         uint64
	LockType        kvrpcpb.Op
	UseAsyncCommit  bool
	LockForUpdateTS uint64
}

// NewLock builds a Lock from the wire LockInfo payload carried by a
// KeyError.
func NewLock(l *kvrpcpb.LockInfo) *Lock {
	return &Lock{
		Key:             l.GetKey(),
		Primary:         l.GetPrimaryLock(),
		TxnID:           l.GetLockVersion(),
		TTL:             l.GetLockTtl(),
		TxnSize:         l.GetTxnSize(),
		LockType:        l.GetLockType(),
		UseAsyncCommit:  l.GetUseAsyncCommit(),
		LockForUpdateTS: l.GetLockForUpdateTs(),
	}
}

// ExtractLockFromKeyErr turns a KeyError carrying a Locked payload
// into a Lock, the shape every KV read path in the Operation Surface
// (spec §4.3) needs before it can hand the lock to a Lock Resolver.
func ExtractLockFromKeyErr(keyErr *kvrpcpb.KeyError) *Lock {
	if keyErr == nil {
		return nil
	}
	if locked := keyErr.GetLocked(); locked != nil {
		return NewLock(locked)
	}
	return nil
}

// ExtractLockFromKeyErrs extracts all the Locks found across keyErrs,
// skipping entries that carry no Locked payload (the batch_get/scan
// path of spec §4.3, which must return every lock it saw, not just
// the first).
func ExtractLockFromKeyErrs(keyErrs []*kvrpcpb.KeyError) []*Lock {
	locks := make([]*Lock, 0, len(keyErrs))
	for _, keyErr := range keyErrs {
		if lock := ExtractLockFromKeyErr(keyErr); lock != nil {
			locks = append(locks, lock)
		}
	}
	return locks
}
