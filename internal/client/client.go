// Package client implements the Channel Factory contract of spec §6:
// a pooled, long-lived transport channel per store address, wrapped
// with a per-call deadline (spec §4.3 "Deadlines"). Grounded on the
// teacher's own channel acquisition, pkg/restore/split_client.go's
// grpc.Dial(store.GetAddress(), opt).
package client

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
	"github.com/pingcap/kvproto/pkg/tikvpb"
	"google.golang.org/grpc"

	tikverr "github.com/pingcap/tikv-region-client/error"
	"github.com/pingcap/tikv-region-client/metrics"
	"github.com/pingcap/tikv-region-client/tikvrpc"
)

// ChannelFactory is the external contract of spec §6: return a pooled
// channel to a store address. Channels are reference-shared and may
// outlive any single Region Store Client (spec §5).
type ChannelFactory interface {
	GetChannel(addr string) (*grpc.ClientConn, error)
}

// Client dispatches a tikvrpc.Request over a channel obtained from a
// ChannelFactory, applying a per-attempt deadline. It implements
// ChannelFactory itself via a connection pool keyed by address, the
// default concrete channel factory when the caller doesn't bring their
// own.
type Client struct {
	dialOpts []grpc.DialOption

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewClient constructs a Client with the given dial options applied to
// every pooled connection (e.g. grpc.WithInsecure(), TLS credentials).
func NewClient(dialOpts ...grpc.DialOption) *Client {
	return &Client{
		dialOpts: dialOpts,
		conns:    make(map[string]*grpc.ClientConn),
	}
}

// GetChannel returns the pooled connection for addr, dialing lazily
// and caching the result for reuse (spec §3: "channels are pooled").
func (c *Client) GetChannel(addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}
	conn, err := grpc.Dial(addr, c.dialOpts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.conns[addr] = conn
	return conn, nil
}

// Close tears down every pooled connection. Per spec §5 ("Teardown"),
// individual Region Store Clients never call this — only the process
// that owns the Channel Factory does, at shutdown.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for addr, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, addr)
	}
	return firstErr
}

// SendReq dispatches req to addr over a pooled channel, applying
// timeout as the single attempt's deadline (not the retry budget,
// which the Backoffer governs).
func (c *Client) SendReq(ctx context.Context, addr string, req *tikvrpc.Request, timeout time.Duration) (*tikvrpc.Response, error) {
	conn, err := c.GetChannel(addr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	stub := tikvpb.NewTikvClient(conn)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := dispatch(callCtx, stub, req)
	metrics.RequestDuration.WithLabelValues(req.Type.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, errors.Trace(err)
	}
	return resp, nil
}

func dispatch(ctx context.Context, stub tikvpb.TikvClient, req *tikvrpc.Request) (*tikvrpc.Response, error) {
	switch req.Type {
	case tikvrpc.CmdGet:
		r, err := stub.KvGet(ctx, req.Req.(*kvrpcpb.GetRequest))
		return &tikvrpc.Response{Resp: r}, err
	case tikvrpc.CmdBatchGet:
		r, err := stub.KvBatchGet(ctx, req.Req.(*kvrpcpb.BatchGetRequest))
		return &tikvrpc.Response{Resp: r}, err
	case tikvrpc.CmdScan:
		r, err := stub.KvScan(ctx, req.Req.(*kvrpcpb.ScanRequest))
		return &tikvrpc.Response{Resp: r}, err
	case tikvrpc.CmdRawGet:
		r, err := stub.RawGet(ctx, req.Req.(*kvrpcpb.RawGetRequest))
		return &tikvrpc.Response{Resp: r}, err
	case tikvrpc.CmdRawPut:
		r, err := stub.RawPut(ctx, req.Req.(*kvrpcpb.RawPutRequest))
		return &tikvrpc.Response{Resp: r}, err
	case tikvrpc.CmdRawBatchPut:
		r, err := stub.RawBatchPut(ctx, req.Req.(*kvrpcpb.RawBatchPutRequest))
		return &tikvrpc.Response{Resp: r}, err
	case tikvrpc.CmdRawDelete:
		r, err := stub.RawDelete(ctx, req.Req.(*kvrpcpb.RawDeleteRequest))
		return &tikvrpc.Response{Resp: r}, err
	case tikvrpc.CmdRawScan:
		r, err := stub.RawScan(ctx, req.Req.(*kvrpcpb.RawScanRequest))
		return &tikvrpc.Response{Resp: r}, err
	case tikvrpc.CmdCheckTxnStatus:
		r, err := stub.KvCheckTxnStatus(ctx, req.Req.(*kvrpcpb.CheckTxnStatusRequest))
		return &tikvrpc.Response{Resp: r}, err
	case tikvrpc.CmdResolveLock:
		r, err := stub.KvResolveLock(ctx, req.Req.(*kvrpcpb.ResolveLockRequest))
		return &tikvrpc.Response{Resp: r}, err
	default:
		return nil, errors.Trace(tikverr.ErrBodyMissing)
	}
}
