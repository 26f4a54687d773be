// Package tikvrpc provides the wire envelope shared by every KV and
// Raw-KV operation: a uniform Request/Response pair that carries the
// routing context and lets the Error Classifier extract a region error
// without a type switch at every call site. Grounded on
// luyulong-tidb/store/tikv/region_request.go's use of
// tikvrpc.SetContext / tikvrpc.GenRegionErrorResp / resp.GetRegionError().
package tikvrpc

import (
	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/errorpb"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
)

// CmdType identifies which KV/Raw-KV operation a Request carries.
type CmdType int

const (
	CmdGet CmdType = iota + 1
	CmdBatchGet
	CmdScan
	CmdRawGet
	CmdRawPut
	CmdRawBatchPut
	CmdRawDelete
	CmdRawScan
	CmdCheckTxnStatus
	CmdResolveLock
)

func (t CmdType) String() string {
	switch t {
	case CmdGet:
		return "Get"
	case CmdBatchGet:
		return "BatchGet"
	case CmdScan:
		return "Scan"
	case CmdRawGet:
		return "RawGet"
	case CmdRawPut:
		return "RawPut"
	case CmdRawBatchPut:
		return "RawBatchPut"
	case CmdRawDelete:
		return "RawDelete"
	case CmdRawScan:
		return "RawScan"
	case CmdCheckTxnStatus:
		return "CheckTxnStatus"
	case CmdResolveLock:
		return "ResolveLock"
	default:
		return "Unknown"
	}
}

// Request wraps one concrete kvrpcpb request message together with the
// CmdType that identifies it, so a generic sender can dispatch without
// every caller re-implementing the type switch.
type Request struct {
	Type CmdType
	Req  interface{}
}

// NewRequest builds a Request and stamps its embedded Context field
// with ctx, matching the caller-supplied routing fields (spec §3).
func NewRequest(t CmdType, req interface{}, ctx kvrpcpb.Context) *Request {
	r := &Request{Type: t, Req: req}
	SetContext(r, ctx)
	return r
}

// SetContext stamps req's embedded Context field with ctx. Every
// outgoing RPC must carry the session's current routing context (spec
// §3's invariant); this is the single place that assignment happens.
func SetContext(r *Request, ctx kvrpcpb.Context) error {
	switch x := r.Req.(type) {
	case *kvrpcpb.GetRequest:
		x.Context = &ctx
	case *kvrpcpb.BatchGetRequest:
		x.Context = &ctx
	case *kvrpcpb.ScanRequest:
		x.Context = &ctx
	case *kvrpcpb.RawGetRequest:
		x.Context = &ctx
	case *kvrpcpb.RawPutRequest:
		x.Context = &ctx
	case *kvrpcpb.RawBatchPutRequest:
		x.Context = &ctx
	case *kvrpcpb.RawDeleteRequest:
		x.Context = &ctx
	case *kvrpcpb.RawScanRequest:
		x.Context = &ctx
	case *kvrpcpb.CheckTxnStatusRequest:
		x.Context = &ctx
	case *kvrpcpb.ResolveLockRequest:
		x.Context = &ctx
	default:
		return errors.Errorf("tikvrpc: SetContext: unrecognized request type %T", r.Req)
	}
	return nil
}

// Response wraps one concrete kvrpcpb response message.
type Response struct {
	Resp interface{}
}

// GetRegionError extracts the region_error sum-type field common to
// every response, uniformly across KV and Raw operations (spec §6's
// "Responses carry an optional region_error").
func (r *Response) GetRegionError() (*errorpb.Error, error) {
	if r == nil || r.Resp == nil {
		return nil, nil
	}
	switch x := r.Resp.(type) {
	case *kvrpcpb.GetResponse:
		return x.GetRegionError(), nil
	case *kvrpcpb.BatchGetResponse:
		return x.GetRegionError(), nil
	case *kvrpcpb.ScanResponse:
		return x.GetRegionError(), nil
	case *kvrpcpb.RawGetResponse:
		return x.GetRegionError(), nil
	case *kvrpcpb.RawPutResponse:
		return x.GetRegionError(), nil
	case *kvrpcpb.RawBatchPutResponse:
		return x.GetRegionError(), nil
	case *kvrpcpb.RawDeleteResponse:
		return x.GetRegionError(), nil
	case *kvrpcpb.RawScanResponse:
		return x.GetRegionError(), nil
	case *kvrpcpb.CheckTxnStatusResponse:
		return x.GetRegionError(), nil
	case *kvrpcpb.ResolveLockResponse:
		return x.GetRegionError(), nil
	default:
		return nil, errors.Errorf("tikvrpc: GetRegionError: unrecognized response type %T", r.Resp)
	}
}

// GenRegionErrorResp synthesizes a Response of the type matching req
// that carries only a region error, so a region error can be produced
// without an RPC (the sender's rpcServerBusy failpoint uses it).
func GenRegionErrorResp(req *Request, e *errorpb.Error) (*Response, error) {
	resp := &Response{}
	switch req.Type {
	case CmdGet:
		resp.Resp = &kvrpcpb.GetResponse{RegionError: e}
	case CmdBatchGet:
		resp.Resp = &kvrpcpb.BatchGetResponse{RegionError: e}
	case CmdScan:
		resp.Resp = &kvrpcpb.ScanResponse{RegionError: e}
	case CmdRawGet:
		resp.Resp = &kvrpcpb.RawGetResponse{RegionError: e}
	case CmdRawPut:
		resp.Resp = &kvrpcpb.RawPutResponse{RegionError: e}
	case CmdRawBatchPut:
		resp.Resp = &kvrpcpb.RawBatchPutResponse{RegionError: e}
	case CmdRawDelete:
		resp.Resp = &kvrpcpb.RawDeleteResponse{RegionError: e}
	case CmdRawScan:
		resp.Resp = &kvrpcpb.RawScanResponse{RegionError: e}
	case CmdCheckTxnStatus:
		resp.Resp = &kvrpcpb.CheckTxnStatusResponse{RegionError: e}
	case CmdResolveLock:
		resp.Resp = &kvrpcpb.ResolveLockResponse{RegionError: e}
	default:
		return nil, errors.Errorf("tikvrpc: GenRegionErrorResp: unrecognized command type %v", req.Type)
	}
	return resp, nil
}
