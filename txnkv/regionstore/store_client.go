// Package regionstore implements the Region Store Client of spec §3:
// a cheap, single-threaded-cooperative session bound to one region's
// current leader, fusing the Retry Driver, Error Classifier, and Lock
// Resolver cooperation into the KV/Raw-KV operation surface (spec
// §4.3). Grounded on luyulong-tidb/store/tikv/region_request.go's
// RegionRequestSender usage from the txn read/write paths, generalized
// the way a session-scoped object wraps a shared sender.
package regionstore

import (
	"context"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"

	"github.com/pingcap/tikv-region-client/config"
	tikverr "github.com/pingcap/tikv-region-client/error"
	"github.com/pingcap/tikv-region-client/internal/locate"
	"github.com/pingcap/tikv-region-client/internal/retry"
	"github.com/pingcap/tikv-region-client/tikvrpc"
	"github.com/pingcap/tikv-region-client/txnkv/txnlock"
)

// Client is the Region Store Client (spec §3): session state is just
// the region/store pair it was built against, rebuilt cheaply per
// logical call by a ClientBuilder rather than kept alive across calls
// (spec §5 "Lifecycle").
type Client struct {
	region *locate.Region
	store  *locate.Store

	regionCache *locate.RegionCache
	sender      *locate.RegionRequestSender
	resolver    txnlock.Resolver
	timeout     time.Duration
}

// newClient is unexported; callers always go through a ClientBuilder
// (spec §4.5), which is the only place a region+store pair and the
// shared dependencies are assembled together.
func newClient(region *locate.Region, store *locate.Store, regionCache *locate.RegionCache, rpcClient locate.RPCClient, resolver txnlock.Resolver, timeout time.Duration) *Client {
	return &Client{
		region:      region,
		store:       store,
		regionCache: regionCache,
		sender:      locate.NewRegionRequestSender(regionCache, rpcClient),
		resolver:    resolver,
		timeout:     timeout,
	}
}

// OnNotLeader implements locate.RegionErrorHandler, the session's own
// routing-refresh callback (spec §4.3). It detects a range change by
// re-resolving the region by id and comparing against the session's
// own remembered range; if the range is unchanged, it adopts the new
// leader in place and the retry continues on this same client. Without
// a leader hint (newLeaderStoreID 0) an unchanged range keeps the
// current routing and the retry continues on this client as well.
func (c *Client) OnNotLeader(ctx context.Context, newLeaderStoreID uint64) (bool, error) {
	fresh, err := c.regionCache.GetRegionByID(ctx, c.region.GetID())
	if err != nil {
		return false, errors.Trace(err)
	}
	if !fresh.SameRange(c.region) {
		return false, nil
	}
	if newLeaderStoreID == 0 {
		return true, nil
	}
	c.regionCache.UpdateLeader(c.region.VerID(), newLeaderStoreID)
	if updated := fresh.WithLeader(newLeaderStoreID); updated != nil {
		c.region = updated
	}
	store, err := c.regionCache.GetStoreByID(ctx, newLeaderStoreID)
	if err == nil {
		c.store = store
	}
	return true, nil
}

// OnStoreNotMatch implements locate.RegionErrorHandler: the session's
// cached store reached the wrong node, so evict it and let the next
// attempt's GetRPCContext resolve a fresh address for the same peer.
func (c *Client) OnStoreNotMatch(ctx context.Context, observedStoreID uint64) error {
	leaderStoreID := c.region.Leader().GetStoreId()
	c.regionCache.ClearStoreByID(leaderStoreID)
	if store, err := c.regionCache.GetStoreByID(ctx, leaderStoreID); err == nil {
		c.store = store
	}
	return nil
}

// Get implements the transactional point-read of the Operation
// Surface (spec §4.3). A locked key drives the Lock Resolver and
// retries on resolution, or a txn-lock-fast backoff when the lock is
// still live (spec §6).
func (c *Client) Get(bo *retry.Backoffer, key []byte, version uint64) ([]byte, error) {
	for {
		req := &kvrpcpb.GetRequest{Key: key, Version: version}
		resp, err := c.sender.SendReq(bo, func() (*tikvrpc.Request, error) {
			return &tikvrpc.Request{Type: tikvrpc.CmdGet, Req: req}, nil
		}, c.region.VerID(), c.timeout, c)
		if err != nil {
			return nil, errors.Trace(err)
		}
		getResp := resp.Resp.(*kvrpcpb.GetResponse)
		if keyErr := getResp.GetError(); keyErr != nil {
			lock := txnlock.ExtractLockFromKeyErr(keyErr)
			if lock == nil {
				return nil, errors.Trace(&tikverr.ErrKeyError{Msg: keyErr.String()})
			}
			resolved, err := c.resolver.ResolveLocks(bo, []*txnlock.Lock{lock})
			if err != nil {
				return nil, errors.Trace(err)
			}
			if !resolved {
				if err := bo.Backoff(retry.BoTxnLockFast, errors.New("key is locked")); err != nil {
					return nil, errors.Trace(err)
				}
			}
			continue
		}
		return getResp.GetValue(), nil
	}
}

// BatchGet implements the multi-key transactional read. Every lock
// found in the returned pairs is handed to the Lock Resolver in one
// call, followed by a txn-lock-fast backoff when not all of them were
// resolved; the original pairs, locked entries included, are then
// returned as-is without re-issuing the RPC. Region errors are
// classified and retried by the sender like any other operation's
// (no region exception is returned), but the request is not rebuilt
// around shrunk key sets on a region miss.
func (c *Client) BatchGet(bo *retry.Backoffer, keys [][]byte, version uint64) ([]*kvrpcpb.KvPair, error) {
	req := &kvrpcpb.BatchGetRequest{Keys: keys, Version: version}
	resp, err := c.sender.SendReq(bo, func() (*tikvrpc.Request, error) {
		return &tikvrpc.Request{Type: tikvrpc.CmdBatchGet, Req: req}, nil
	}, c.region.VerID(), c.timeout, c)
	if err != nil {
		return nil, errors.Trace(err)
	}
	batchResp := resp.Resp.(*kvrpcpb.BatchGetResponse)
	keyErrs := make([]*kvrpcpb.KeyError, 0, len(batchResp.GetPairs()))
	for _, pair := range batchResp.GetPairs() {
		keyErrs = append(keyErrs, pair.GetError())
	}
	if locks := txnlock.ExtractLockFromKeyErrs(keyErrs); len(locks) > 0 {
		resolved, err := c.resolver.ResolveLocks(bo, locks)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if !resolved {
			if err := bo.Backoff(retry.BoTxnLockFast, errors.New("batch keys are locked")); err != nil {
				return nil, errors.Trace(err)
			}
		}
	}
	return batchResp.GetPairs(), nil
}

// Scan implements the ordered-range transactional read. A zero limit
// defaults to config.DefaultScanBatchSize rather than asking the
// region leader for an unbounded scan. keyOnly requests values be
// omitted from the returned pairs. Locks in the returned pairs are
// handled as in BatchGet: resolved in one call, a txn-lock-fast
// backoff when not all resolved, and the original pairs returned.
func (c *Client) Scan(bo *retry.Backoffer, startKey []byte, limit uint32, version uint64, keyOnly bool) ([]*kvrpcpb.KvPair, error) {
	if limit == 0 {
		limit = config.DefaultScanBatchSize
	}
	req := &kvrpcpb.ScanRequest{StartKey: startKey, Limit: limit, Version: version, KeyOnly: keyOnly}
	resp, err := c.sender.SendReq(bo, func() (*tikvrpc.Request, error) {
		return &tikvrpc.Request{Type: tikvrpc.CmdScan, Req: req}, nil
	}, c.region.VerID(), c.timeout, c)
	if err != nil {
		return nil, errors.Trace(err)
	}
	scanResp := resp.Resp.(*kvrpcpb.ScanResponse)
	keyErrs := make([]*kvrpcpb.KeyError, 0, len(scanResp.GetPairs()))
	for _, pair := range scanResp.GetPairs() {
		keyErrs = append(keyErrs, pair.GetError())
	}
	if locks := txnlock.ExtractLockFromKeyErrs(keyErrs); len(locks) > 0 {
		resolved, err := c.resolver.ResolveLocks(bo, locks)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if !resolved {
			if err := bo.Backoff(retry.BoTxnLockFast, errors.New("scanned keys are locked")); err != nil {
				return nil, errors.Trace(err)
			}
		}
	}
	return scanResp.GetPairs(), nil
}

// RawGet implements the Raw-KV point read; it never encounters a
// lock, since the Raw-KV surface bypasses the transaction protocol
// entirely (spec §4.3).
func (c *Client) RawGet(bo *retry.Backoffer, key []byte, cf string) ([]byte, error) {
	req := &kvrpcpb.RawGetRequest{Key: key, Cf: cf}
	resp, err := c.sender.SendReq(bo, func() (*tikvrpc.Request, error) {
		return &tikvrpc.Request{Type: tikvrpc.CmdRawGet, Req: req}, nil
	}, c.region.VerID(), c.timeout, c)
	if err != nil {
		return nil, errors.Trace(err)
	}
	rawResp := resp.Resp.(*kvrpcpb.RawGetResponse)
	if errStr := rawResp.GetError(); errStr != "" {
		return nil, errors.Trace(&tikverr.ErrKeyError{Msg: errStr})
	}
	if rawResp.GetNotFound() {
		return nil, nil
	}
	return rawResp.GetValue(), nil
}

// RawPut implements the Raw-KV point write.
func (c *Client) RawPut(bo *retry.Backoffer, key, value []byte, cf string) error {
	req := &kvrpcpb.RawPutRequest{Key: key, Value: value, Cf: cf}
	resp, err := c.sender.SendReq(bo, func() (*tikvrpc.Request, error) {
		return &tikvrpc.Request{Type: tikvrpc.CmdRawPut, Req: req}, nil
	}, c.region.VerID(), c.timeout, c)
	if err != nil {
		return errors.Trace(err)
	}
	if errStr := resp.Resp.(*kvrpcpb.RawPutResponse).GetError(); errStr != "" {
		return errors.Trace(&tikverr.ErrKeyError{Msg: errStr})
	}
	return nil
}

// RawBatchPut implements the Raw-KV batch write. An empty batch is a
// no-op and never issues an RPC (spec §8's invariant). Per-pair errors
// are not inspected; only the region error and the response's
// top-level error string are checked.
func (c *Client) RawBatchPut(bo *retry.Backoffer, pairs []*kvrpcpb.KvPair, cf string) error {
	if len(pairs) == 0 {
		return nil
	}
	req := &kvrpcpb.RawBatchPutRequest{Pairs: pairs, Cf: cf}
	resp, err := c.sender.SendReq(bo, func() (*tikvrpc.Request, error) {
		return &tikvrpc.Request{Type: tikvrpc.CmdRawBatchPut, Req: req}, nil
	}, c.region.VerID(), c.timeout, c)
	if err != nil {
		return errors.Trace(err)
	}
	if errStr := resp.Resp.(*kvrpcpb.RawBatchPutResponse).GetError(); errStr != "" {
		return errors.Trace(&tikverr.ErrKeyError{Msg: errStr})
	}
	return nil
}

// RawDelete implements the Raw-KV point delete.
func (c *Client) RawDelete(bo *retry.Backoffer, key []byte, cf string) error {
	req := &kvrpcpb.RawDeleteRequest{Key: key, Cf: cf}
	resp, err := c.sender.SendReq(bo, func() (*tikvrpc.Request, error) {
		return &tikvrpc.Request{Type: tikvrpc.CmdRawDelete, Req: req}, nil
	}, c.region.VerID(), c.timeout, c)
	if err != nil {
		return errors.Trace(err)
	}
	if errStr := resp.Resp.(*kvrpcpb.RawDeleteResponse).GetError(); errStr != "" {
		return errors.Trace(&tikverr.ErrKeyError{Msg: errStr})
	}
	return nil
}

// RawScan implements the Raw-KV ordered-range read. A zero limit
// defaults to config.DefaultScanBatchSize, mirroring Scan. keyOnly
// requests values be omitted from the returned pairs.
func (c *Client) RawScan(bo *retry.Backoffer, startKey, endKey []byte, limit uint32, keyOnly bool, cf string) ([]*kvrpcpb.KvPair, error) {
	if limit == 0 {
		limit = config.DefaultScanBatchSize
	}
	req := &kvrpcpb.RawScanRequest{StartKey: startKey, EndKey: endKey, Limit: limit, KeyOnly: keyOnly, Cf: cf}
	resp, err := c.sender.SendReq(bo, func() (*tikvrpc.Request, error) {
		return &tikvrpc.Request{Type: tikvrpc.CmdRawScan, Req: req}, nil
	}, c.region.VerID(), c.timeout, c)
	if err != nil {
		return nil, errors.Trace(err)
	}
	// RawScanResponse carries no top-level error string: a raw scan
	// reports partial results as kvs, not a single outcome like the
	// point ops above.
	rawResp := resp.Resp.(*kvrpcpb.RawScanResponse)
	return rawResp.GetKvs(), nil
}
