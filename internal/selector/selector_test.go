package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fret/fret/pkg/types"
)

func entryMap(entries map[types.PeerID]types.PeerEntry) EntryLookup {
	return func(id types.PeerID) (types.PeerEntry, bool) {
		e, ok := entries[id]
		return e, ok
	}
}

func TestSelectNextHopLegacyPrefersConnected(t *testing.T) {
	target := types.HashToCoord("key")
	// "near-unconnected" sits on the target; "far-connected" differs in the
	// last bit only, so it is farther but within the legacy tolerance.
	farCoord := target
	farCoord[len(farCoord)-1] ^= 1
	entries := map[types.PeerID]types.PeerEntry{
		"far-connected":  {ID: "far-connected", Coord: farCoord},
		"near-unconnected": {ID: "near-unconnected", Coord: target},
	}

	connected := map[types.PeerID]bool{"far-connected": true}
	opts := Options{
		Target: target,
		Lookup: entryMap(entries),
		IsConnected: func(id types.PeerID) bool { return connected[id] },
	}
	id, ok := SelectNextHop([]types.PeerID{"far-connected", "near-unconnected"}, opts)
	assert.True(t, ok)
	assert.Equal(t, types.PeerID("far-connected"), id)
}

func TestSelectNextHopCostFunctionPrefersNear(t *testing.T) {
	target := types.HashToCoord("key")
	nearCoord := target
	farCoord := types.MaxCoord

	entries := map[types.PeerID]types.PeerEntry{
		"near": {ID: "near", Coord: nearCoord},
		"far":  {ID: "far", Coord: farCoord},
	}
	radius := ComputeNearRadius(1000, 4, 2)
	opts := Options{
		Target:     target,
		NearRadius: &radius,
		Confidence: 0.8,
		Lookup:     entryMap(entries),
	}
	id, ok := SelectNextHop([]types.PeerID{"near", "far"}, opts)
	assert.True(t, ok)
	assert.Equal(t, types.PeerID("near"), id)
}

func TestSelectNextHopNoCandidates(t *testing.T) {
	_, ok := SelectNextHop(nil, Options{})
	assert.False(t, ok)
}
