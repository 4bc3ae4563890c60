package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fret/fret/internal/service"
)

func testCfg() service.Config {
	cfg := service.DefaultConfig()
	cfg.K = 3
	cfg.M = 4
	cfg.Capacity = 64
	return cfg
}

func TestHarnessJoinPropagatesKnowledge(t *testing.T) {
	ctx := context.Background()
	h := NewHarness(1, testCfg)

	ids := make([]string, 6)
	for i := range ids {
		ids[i] = SyntheticID(i, 1)
		_, err := h.Join(ctx, ids[i])
		require.NoError(t, err)
		h.Advance(50 * time.Millisecond)
	}

	require.Equal(t, 6, h.Len())
	assert.Equal(t, 6, h.Metrics().Joins)

	for id, svc := range h.peers {
		assert.Greater(t, len(svc.Snapshot()), 1, "peer %s knows no other peer", id)
	}

	coverage := h.SampleCoverage()
	assert.GreaterOrEqual(t, coverage, 0.0)
	assert.LessOrEqual(t, coverage, 1.0)

	h.StopAll()
	assert.Equal(t, 0, h.Len())
}

func TestHarnessRouteProbeReachesCommit(t *testing.T) {
	ctx := context.Background()
	h := NewHarness(2, testCfg)

	var first string
	for i := 0; i < 8; i++ {
		id := SyntheticID(i, 2)
		if i == 0 {
			first = id
		}
		_, err := h.Join(ctx, id)
		require.NoError(t, err)
		h.Advance(50 * time.Millisecond)
	}
	for i := 0; i < 12; i++ {
		h.Advance(h.cfg().ActiveInterval)
	}

	hops, success := h.RouteProbe(ctx, first, "some-lookup-key")
	assert.True(t, success, "a small fully-connected mesh should always resolve")
	assert.LessOrEqual(t, hops, HopBound(h.Len()))

	h.StopAll()
}

func TestHarnessLeaveRemovesPeer(t *testing.T) {
	ctx := context.Background()
	h := NewHarness(3, testCfg)

	id := SyntheticID(0, 3)
	_, err := h.Join(ctx, id)
	require.NoError(t, err)
	require.NoError(t, h.Leave(id))

	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 1, h.Metrics().Leaves)
}

// buildJoinAndProbeSchedule schedules 6 joins one tick apart, then a route
// probe 72 ticks later, giving stabilization enough logical time (at
// 50ms/tick, the same 3.6s settle window TestHarnessRouteProbeReachesCommit
// advances by directly) to converge before the probe fires.
func buildJoinAndProbeSchedule(seed int64) *Scheduler {
	sched := NewScheduler()
	for i := 0; i < 6; i++ {
		sched.Schedule(int64(i), EventJoin, SyntheticID(i, seed), "")
	}
	sched.Schedule(6+72, EventRouteProbe, SyntheticID(0, seed), "some-lookup-key")
	return sched
}

func TestRunScheduleIsDeterministic(t *testing.T) {
	ctx := context.Background()

	h1 := NewHarness(5, testCfg)
	outcomes1 := h1.RunSchedule(ctx, buildJoinAndProbeSchedule(5), 50*time.Millisecond)
	h1.StopAll()

	h2 := NewHarness(5, testCfg)
	outcomes2 := h2.RunSchedule(ctx, buildJoinAndProbeSchedule(5), 50*time.Millisecond)
	h2.StopAll()

	require.Len(t, outcomes1, 1)
	require.Len(t, outcomes2, 1)
	assert.Equal(t, outcomes1[0].Hops, outcomes2[0].Hops)
	assert.Equal(t, outcomes1[0].Success, outcomes2[0].Success)
}

func TestHopBoundGrowsLogarithmically(t *testing.T) {
	small := HopBound(4)
	large := HopBound(1024)
	assert.Less(t, small, large)
	assert.GreaterOrEqual(t, small, 4)
}
