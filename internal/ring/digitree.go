// Package ring implements the Digitree peer store (C2), its relevance
// model (C3), and the network-size/partition estimator (C4): the leaf
// components every other piece of FRET's routing core is built on.
package ring

import (
	"encoding/base64"
	"sort"
	"sync"

	arc "github.com/hashicorp/golang-lru/arc/v2"

	"github.com/fret/fret/pkg/lib/log"
	"github.com/fret/fret/pkg/types"
)

// evictionArcSize bounds the adaptive-replacement index tracking recently
// evicted ids; it only needs to outlive a handful of eviction/re-seed
// cycles, not the whole table.
const evictionArcSize = 256

var logger = log.Logger("ring")

// Digitree is an ordered map from ring coordinate to PeerEntry, kept
// sorted for O(log n) neighbor walks. It is owned by exactly one service
// instance (§5); every entry handed to a caller is a fresh copy.
type Digitree struct {
	mu sync.Mutex

	selfID    types.PeerID
	selfCoord types.RingCoord
	capacity  int
	mSide     int // S/P protection half-width, see protectedIdsAround

	byID  map[types.PeerID]*types.PeerEntry
	order []types.PeerID // sorted by Coord, then ID, kept in sync with byID

	// evicted is a secondary adaptive-replacement index over ids dropped
	// by capacity eviction: ARC's recency+frequency balance means an id
	// that keeps reappearing after being evicted survives in this index
	// longer than one evicted once and never seen again, so upsertLocked
	// can hand a reappearing id a warm-start relevance bump instead of
	// letting it re-enter cold and risk being evicted again immediately.
	evicted *arc.ARCCache[types.PeerID, int]
}

// NewDigitree creates a store seeded with self, as required by §3's
// lifecycle note ("Self is always present in its own store").
func NewDigitree(selfID types.PeerID, capacity, mSide int) *Digitree {
	evicted, err := arc.NewARC[types.PeerID, int](evictionArcSize)
	if err != nil {
		// Only fails for a non-positive size, which evictionArcSize never is.
		panic(err)
	}
	d := &Digitree{
		selfID:    selfID,
		selfCoord: types.HashToCoord(string(selfID)),
		capacity:  capacity,
		mSide:     mSide,
		byID:      make(map[types.PeerID]*types.PeerEntry),
		evicted:   evicted,
	}
	d.upsertLocked(selfID, d.selfCoord)
	if e := d.byID[selfID]; e != nil {
		e.State = types.StateConnected
	}
	return d
}

// SelfCoord returns self's own ring coordinate.
func (d *Digitree) SelfCoord() types.RingCoord {
	return d.selfCoord
}

// SelfID returns self's own peer id.
func (d *Digitree) SelfID() types.PeerID {
	return d.selfID
}

func less(a, b *types.PeerEntry) bool {
	if c := types.LexCompare(a.Coord, b.Coord); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

// insertSorted inserts id into d.order keeping it sorted by (Coord, ID).
func (d *Digitree) insertSorted(id types.PeerID) {
	e := d.byID[id]
	idx := sort.Search(len(d.order), func(i int) bool {
		return !less(d.byID[d.order[i]], e)
	})
	d.order = append(d.order, "")
	copy(d.order[idx+1:], d.order[idx:])
	d.order[idx] = id
}

func (d *Digitree) removeSorted(id types.PeerID) {
	for i, oid := range d.order {
		if oid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			return
		}
	}
}

// Upsert creates or repositions an entry for id at coord. Repeated calls
// for an existing id only update Coord if it changed; counters are left
// untouched (use Touch/RecordSuccess/RecordFailure to mutate those).
func (d *Digitree) Upsert(id types.PeerID, coord types.RingCoord) types.PeerEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.upsertLocked(id, coord)
	d.enforceCapacityLocked()
	return e.Clone()
}

func (d *Digitree) upsertLocked(id types.PeerID, coord types.RingCoord) *types.PeerEntry {
	if existing, ok := d.byID[id]; ok {
		if existing.Coord != coord {
			d.removeSorted(id)
			existing.Coord = coord
			d.insertSorted(id)
		}
		return existing
	}
	e := &types.PeerEntry{
		ID:    id,
		Coord: coord,
		State: types.StateDisconnected,
	}
	if seen, ok := d.evicted.Peek(id); ok {
		e.Relevance = 0.1 * float64(seen+1)
		if e.Relevance > 0.5 {
			e.Relevance = 0.5
		}
		d.evicted.Add(id, seen+1)
	}
	d.byID[id] = e
	d.insertSorted(id)
	return e
}

// Remove deletes id from the store (explicit leave, capacity eviction, or
// table replacement). Removing self is a no-op.
func (d *Digitree) Remove(id types.PeerID) {
	if id == d.selfID {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[id]; !ok {
		return
	}
	delete(d.byID, id)
	d.removeSorted(id)
}

// GetByID returns a read-only copy of id's entry, or false if unknown.
func (d *Digitree) GetByID(id types.PeerID) (types.PeerEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.byID[id]
	if !ok {
		return types.PeerEntry{}, false
	}
	return e.Clone(), true
}

// SetState flips an entry's liveness state, as observed from the host
// runtime's connect/disconnect notifications (O1).
func (d *Digitree) SetState(id types.PeerID, state types.PeerState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.byID[id]; ok {
		e.State = state
	}
}

// Update applies patch to id's entry under the store lock, never mutating
// any copy already handed out to a caller (§4.10 snapshot merge note).
func (d *Digitree) Update(id types.PeerID, patch func(*types.PeerEntry)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.byID[id]; ok {
		patch(e)
	}
}

// List returns a copy of every entry, ordered by coordinate (I5).
func (d *Digitree) List() []types.PeerEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.PeerEntry, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.byID[id].Clone())
	}
	return out
}

// Size returns the current entry count, including self.
func (d *Digitree) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

// NeighborsRight returns up to k ids in strictly increasing coordinate
// order, starting at the first entry whose coordinate is >= coord,
// wrapping past 2^256 back to 0 when none exists (§4.2).
func (d *Digitree) NeighborsRight(coord types.RingCoord, k int) []types.PeerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.walk(coord, k, true)
}

// NeighborsLeft mirrors NeighborsRight in decreasing order.
func (d *Digitree) NeighborsLeft(coord types.RingCoord, k int) []types.PeerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.walk(coord, k, false)
}

func (d *Digitree) walk(coord types.RingCoord, k int, right bool) []types.PeerID {
	n := len(d.order)
	if n == 0 || k <= 0 {
		return nil
	}
	probe := &types.PeerEntry{Coord: coord, ID: ""}
	boundary := sort.Search(n, func(i int) bool {
		return !less(d.byID[d.order[i]], probe)
	})
	start := boundary
	if !right {
		start = boundary - 1
	}

	out := make([]types.PeerID, 0, k)
	for i := 0; i < n && len(out) < k; i++ {
		var idx int
		if right {
			idx = (start + i) % n
		} else {
			idx = ((start-i)%n + n) % n
		}
		out = append(out, d.order[idx])
	}
	return out
}

// SuccessorOfCoord returns the first id whose coordinate is >= coord.
func (d *Digitree) SuccessorOfCoord(coord types.RingCoord) (types.PeerID, bool) {
	ids := d.NeighborsRight(coord, 1)
	if len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

// PredecessorOfCoord returns the first id whose coordinate is < coord.
func (d *Digitree) PredecessorOfCoord(coord types.RingCoord) (types.PeerID, bool) {
	ids := d.NeighborsLeft(coord, 1)
	if len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

// ProtectedIdsAround returns the union of the m nearest-right and m
// nearest-left ids around selfCoord; these are never evicted on relevance
// alone (I3).
func (d *Digitree) ProtectedIdsAround(selfCoord types.RingCoord, m int) map[types.PeerID]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.protectedIdsAroundLocked(selfCoord, m)
}

func (d *Digitree) protectedIdsAroundLocked(selfCoord types.RingCoord, m int) map[types.PeerID]bool {
	if m < 2 {
		m = 2
	}
	protected := make(map[types.PeerID]bool)
	for _, id := range d.walk(selfCoord, m, true) {
		protected[id] = true
	}
	for _, id := range d.walk(selfCoord, m, false) {
		protected[id] = true
	}
	return protected
}

// enforceCapacityLocked implements §4.2's eviction rule: when size exceeds
// capacity, remove the lowest-relevance non-protected entries until it no
// longer does. Eviction is synchronous and idempotent.
func (d *Digitree) enforceCapacityLocked() {
	if d.capacity <= 0 || len(d.order) <= d.capacity {
		return
	}
	m := d.mSide
	if m < 2 {
		m = 2
	}
	protected := d.protectedIdsAroundLocked(d.selfCoord, m)
	protected[d.selfID] = true

	candidates := make([]types.PeerID, 0, len(d.order))
	for _, id := range d.order {
		if !protected[id] {
			candidates = append(candidates, id)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return d.byID[candidates[i]].Relevance < d.byID[candidates[j]].Relevance
	})

	for _, id := range candidates {
		if len(d.order) <= d.capacity {
			break
		}
		delete(d.byID, id)
		d.removeSorted(id)
		seen, _ := d.evicted.Peek(id)
		d.evicted.Add(id, seen+1)
	}
	if len(d.order) > d.capacity {
		logger.Warn("capacity exceeded after eviction, all remaining entries protected",
			"self", types.ShortID(d.selfID), "size", len(d.order), "capacity", d.capacity)
	}
}

// ExportEntries returns a JSON-safe snapshot of every entry (§4.2
// serialization).
func (d *Digitree) ExportEntries() []types.SerializedPeerEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.SerializedPeerEntry, 0, len(d.order))
	for _, id := range d.order {
		e := d.byID[id]
		out = append(out, types.SerializedPeerEntry{
			ID:           e.ID,
			Coord:        base64.RawURLEncoding.EncodeToString(e.Coord[:]),
			Relevance:    e.Relevance,
			LastAccessMs: e.LastAccessMs,
			State:        e.State.String(),
			AccessCount:  e.AccessCount,
			SuccessCount: e.SuccessCount,
			FailureCount: e.FailureCount,
			AvgLatencyMs: e.AvgLatencyMs,
			Metadata:     e.Metadata,
		})
	}
	return out
}

// ImportEntries re-inserts every record, forcing state = disconnected (I4),
// then enforces capacity. Returns the count inserted.
func (d *Digitree) ImportEntries(entries []types.SerializedPeerEntry) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, se := range entries {
		coord, err := types.CoordFromString(se.Coord)
		if err != nil {
			continue
		}
		e := d.upsertLocked(se.ID, coord)
		e.State = types.StateDisconnected
		e.Relevance = se.Relevance
		e.LastAccessMs = se.LastAccessMs
		e.AccessCount = se.AccessCount
		e.SuccessCount = se.SuccessCount
		e.FailureCount = se.FailureCount
		e.AvgLatencyMs = se.AvgLatencyMs
		e.Metadata = se.Metadata
		count++
	}
	d.enforceCapacityLocked()
	return count
}
