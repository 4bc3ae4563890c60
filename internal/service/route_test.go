package service

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fret/fret/internal/rpc"
	"github.com/fret/fret/pkg/interfaces"
	"github.com/fret/fret/pkg/types"
)

func maybeActBody(t *testing.T, msg types.RouteAndMaybeAct) []byte {
	t.Helper()
	body, err := rpc.Encode(msg)
	require.NoError(t, err)
	return body
}

func decodeResult(t *testing.T, body []byte) types.MaybeActResult {
	t.Helper()
	var result types.MaybeActResult
	require.NoError(t, rpc.Decode(body, &result))
	return result
}

func TestHandleMaybeActInClusterDispatchesActivity(t *testing.T) {
	clk := clock.NewMock()
	svc, _ := newTestService(t, "solo", clk, nil)

	var gotActivity []byte
	svc.SetActivityHandler(interfaces.ActivityHandlerFunc(func(activity []byte, cohort []types.PeerID, minSigs int, correlationID string) (types.CommitCertificate, error) {
		gotActivity = activity
		return types.CommitCertificate{V: 1, Payload: []byte("ok")}, nil
	}))

	msg := types.RouteAndMaybeAct{
		V: 1, Key: "some-key", WantK: 1, TTL: 4, MinSigs: 1,
		Activity: []byte("payload"), CorrelationID: "corr-1",
		Timestamp: rpc.NowMs(clk),
	}
	body, err := svc.handleMaybeActRPC(context.Background(), "caller", maybeActBody(t, msg))
	require.NoError(t, err)
	result := decodeResult(t, body)

	require.NotNil(t, result.Commit)
	assert.Equal(t, []byte("ok"), result.Commit.Payload)
	assert.Equal(t, []byte("payload"), gotActivity)
}

func TestHandleMaybeActTTLZeroReturnsNearAnchor(t *testing.T) {
	clk := clock.NewMock()
	svc, _ := newTestService(t, "solo", clk, nil)

	msg := types.RouteAndMaybeAct{
		V: 1, Key: "some-key", WantK: 1, TTL: 0, CorrelationID: "corr-2",
		Timestamp: rpc.NowMs(clk),
	}
	body, err := svc.handleMaybeActRPC(context.Background(), "caller", maybeActBody(t, msg))
	require.NoError(t, err)
	result := decodeResult(t, body)
	assert.NotNil(t, result.NearAnchor)
	assert.Nil(t, result.Commit)
}

func TestHandleMaybeActDedupIsIdempotent(t *testing.T) {
	clk := clock.NewMock()
	svc, _ := newTestService(t, "solo", clk, nil)

	calls := 0
	svc.SetActivityHandler(interfaces.ActivityHandlerFunc(func(activity []byte, cohort []types.PeerID, minSigs int, correlationID string) (types.CommitCertificate, error) {
		calls++
		return types.CommitCertificate{V: 1, Payload: []byte("ok")}, nil
	}))

	msg := types.RouteAndMaybeAct{
		V: 1, Key: "dup-key", WantK: 1, TTL: 4, MinSigs: 1,
		Activity: []byte("payload"), CorrelationID: "corr-dup",
		Timestamp: rpc.NowMs(clk),
	}
	body1, err := svc.handleMaybeActRPC(context.Background(), "caller", maybeActBody(t, msg))
	require.NoError(t, err)
	body2, err := svc.handleMaybeActRPC(context.Background(), "caller", maybeActBody(t, msg))
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "the activity handler must run exactly once for a repeated correlation id")
	assert.Equal(t, body1, body2)
}

func TestHandleMaybeActBusyWhenRateLimited(t *testing.T) {
	clk := clock.NewMock()
	svc, _ := newTestService(t, "solo", clk, nil)

	for svc.buckets["maybeAct"].TryTake() {
		// drain the bucket
	}

	msg := types.RouteAndMaybeAct{
		V: 1, Key: "k", WantK: 1, TTL: 4, CorrelationID: "corr-busy",
		Timestamp: rpc.NowMs(clk),
	}
	body, err := svc.handleMaybeActRPC(context.Background(), "caller", maybeActBody(t, msg))
	require.NoError(t, err)
	result := decodeResult(t, body)
	assert.True(t, result.IsBusy())
}

func TestHandleMaybeActLoopDetection(t *testing.T) {
	clk := clock.NewMock()
	svc, _ := newTestService(t, "solo", clk, nil)

	msg := types.RouteAndMaybeAct{
		V: 1, Key: "k", WantK: 1, TTL: 4, CorrelationID: "corr-loop",
		Breadcrumbs: []types.PeerID{"solo"},
		Timestamp:   rpc.NowMs(clk),
	}
	body, err := svc.handleMaybeActRPC(context.Background(), "caller", maybeActBody(t, msg))
	require.NoError(t, err)
	result := decodeResult(t, body)
	assert.NotNil(t, result.NearAnchor, "a message that already visited self must not be forwarded again")
}

// TestRouteActForwardsOutOfCluster builds a two-node mesh where B's ring
// coordinate is pinned to exactly the lookup key, forcing A (which is not
// in the resulting one-member cohort) to forward the request to B.
func TestRouteActForwardsOutOfCluster(t *testing.T) {
	clk := clock.NewMock()
	svcA, hostA := newTestService(t, "node-a", clk, nil)
	svcB, hostB := newTestService(t, "node-b", clk, nil)
	m := newMesh()
	m.register(hostA)
	m.register(hostB)
	hostA.m = m
	hostB.m = m

	svcB.registerHandlers()

	key := "target-key"
	keyCoord := types.HashKey(key)
	svcA.store.Upsert(types.PeerID("node-b"), keyCoord)

	var gotCohort []types.PeerID
	svcB.SetActivityHandler(interfaces.ActivityHandlerFunc(func(activity []byte, cohort []types.PeerID, minSigs int, correlationID string) (types.CommitCertificate, error) {
		gotCohort = cohort
		return types.CommitCertificate{V: 1, Payload: []byte("done")}, nil
	}))

	msg := types.RouteAndMaybeAct{
		V: 1, Key: key, WantK: 1, TTL: 4, MinSigs: 1,
		Activity: []byte("act"), CorrelationID: "corr-fwd",
		Timestamp: rpc.NowMs(clk),
	}

	result, err := svcA.routeAct(context.Background(), types.PeerID("external-caller"), msg)
	require.NoError(t, err)
	require.NotNil(t, result.Commit)
	assert.Equal(t, []byte("done"), result.Commit.Payload)
	assert.Contains(t, gotCohort, types.PeerID("node-b"))
}
