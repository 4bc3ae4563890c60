package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fret/fret/pkg/types"
)

func newTestTree(capacity int) *Digitree {
	return NewDigitree("self", capacity, 2)
}

func TestDigitreeContainsSelf(t *testing.T) {
	d := newTestTree(100)
	e, ok := d.GetByID("self")
	require.True(t, ok)
	assert.Equal(t, d.SelfCoord(), e.Coord)
}

func TestUpsertAndGet(t *testing.T) {
	d := newTestTree(100)
	coord := types.HashToCoord("peer-1")
	d.Upsert("peer-1", coord)

	e, ok := d.GetByID("peer-1")
	require.True(t, ok)
	assert.Equal(t, coord, e.Coord)
	assert.Equal(t, types.StateDisconnected, e.State)
}

func TestNeighborsRightOrderAndWrap(t *testing.T) {
	d := newTestTree(100)
	for i := 0; i < 10; i++ {
		d.Upsert(types.PeerID("peer-"+string(rune('a'+i))), types.HashToCoord("peer-"+string(rune('a'+i))))
	}
	ids := d.NeighborsRight(types.RingCoord{}, 5)
	assert.Len(t, ids, 5)

	full := d.List()
	var prev *types.RingCoord
	for _, e := range full {
		if prev != nil {
			assert.True(t, types.LexCompare(*prev, e.Coord) <= 0, "order must be non-decreasing by coord")
		}
		c := e.Coord
		prev = &c
	}
	for i, id := range ids {
		assert.Equal(t, full[i].ID, id, "a walk from coordinate zero follows coordinate order")
	}

	// No entry sits at MaxCoord, so a walk from there wraps to the smallest coordinate.
	wrapped := d.NeighborsRight(types.MaxCoord, 1)
	require.Len(t, wrapped, 1)
	assert.Equal(t, full[0].ID, wrapped[0])
}

func TestNeighborsNoDuplicates(t *testing.T) {
	d := newTestTree(100)
	for i := 0; i < 20; i++ {
		d.Upsert(types.PeerID("peer-"+string(rune('a'+i))), types.HashToCoord("peer-"+string(rune('a'+i))))
	}
	ids := d.NeighborsRight(types.RingCoord{}, 21)
	seen := make(map[types.PeerID]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id returned: %s", id)
		seen[id] = true
	}
}

func TestRemove(t *testing.T) {
	d := newTestTree(100)
	d.Upsert("peer-1", types.HashToCoord("peer-1"))
	d.Remove("peer-1")
	_, ok := d.GetByID("peer-1")
	assert.False(t, ok)
}

func TestRemoveSelfIsNoop(t *testing.T) {
	d := newTestTree(100)
	d.Remove("self")
	_, ok := d.GetByID("self")
	assert.True(t, ok)
}

// Eviction protection (P4): every member of ProtectedIdsAround must
// survive repeated upserts that push the store over capacity.
func TestEvictionProtectsNeighbors(t *testing.T) {
	d := newTestTree(5)
	protectedBefore := d.ProtectedIdsAround(d.SelfCoord(), 2)

	for i := 0; i < 50; i++ {
		id := types.PeerID("peer-" + string(rune('a'+i)))
		d.Upsert(id, types.HashToCoord(string(id)))
	}

	assert.LessOrEqual(t, d.Size(), 5+len(protectedBefore))
	for id := range d.ProtectedIdsAround(d.SelfCoord(), 2) {
		_, ok := d.GetByID(id)
		assert.True(t, ok, "protected id %s was evicted", id)
	}
}

// Export round-trip (P1).
func TestExportImportRoundTrip(t *testing.T) {
	d := newTestTree(100)
	for i := 0; i < 10; i++ {
		id := types.PeerID("peer-" + string(rune('a'+i)))
		e := d.Upsert(id, types.HashToCoord(string(id)))
		_ = e
		d.Update(id, func(pe *types.PeerEntry) {
			pe.Relevance = float64(i)
			pe.State = types.StateConnected
		})
	}

	exported := d.ExportEntries()

	fresh := newTestTree(100)
	count := fresh.ImportEntries(exported)
	assert.Equal(t, len(exported), count)

	for _, se := range exported {
		e, ok := fresh.GetByID(se.ID)
		require.True(t, ok)
		assert.Equal(t, types.StateDisconnected, e.State, "imported entries must be disconnected (I4)")
		assert.Equal(t, se.Relevance, e.Relevance)
	}
}
