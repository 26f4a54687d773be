package tikvrpc

import (
	"testing"

	"github.com/pingcap/kvproto/pkg/errorpb"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
	"github.com/stretchr/testify/require"
)

func TestSetContextStampsGetRequest(t *testing.T) {
	ctx := kvrpcpb.Context{RegionId: 7}
	req := &Request{Type: CmdGet, Req: &kvrpcpb.GetRequest{}}
	require.NoError(t, SetContext(req, ctx))
	require.Equal(t, uint64(7), req.Req.(*kvrpcpb.GetRequest).GetContext().GetRegionId())
}

func TestSetContextRejectsUnknownType(t *testing.T) {
	req := &Request{Type: CmdGet, Req: "not a kv request"}
	err := SetContext(req, kvrpcpb.Context{})
	require.Error(t, err)
}

func TestGetRegionErrorExtractsFromRawGetResponse(t *testing.T) {
	regionErr := &errorpb.Error{Message: "boom"}
	resp := &Response{Resp: &kvrpcpb.RawGetResponse{RegionError: regionErr}}
	got, err := resp.GetRegionError()
	require.NoError(t, err)
	require.Equal(t, regionErr, got)
}

func TestGetRegionErrorNilOnEmptyResponse(t *testing.T) {
	var resp *Response
	got, err := resp.GetRegionError()
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGenRegionErrorRespSynthesizesMatchingType(t *testing.T) {
	regionErr := &errorpb.Error{Message: "stale"}
	req := &Request{Type: CmdScan}
	resp, err := GenRegionErrorResp(req, regionErr)
	require.NoError(t, err)
	scanResp, ok := resp.Resp.(*kvrpcpb.ScanResponse)
	require.True(t, ok)
	require.Equal(t, regionErr, scanResp.GetRegionError())
}

func TestCmdTypeString(t *testing.T) {
	require.Equal(t, "Get", CmdGet.String())
	require.Equal(t, "RawBatchPut", CmdRawBatchPut.String())
	require.Equal(t, "Unknown", CmdType(999).String())
}
