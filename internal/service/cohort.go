package service

import (
	"github.com/fret/fret/internal/ring"
	"github.com/fret/fret/pkg/types"
)

// AssembleCohort derives the set of peers collectively responsible for
// coord by alternating right/left walks, deduplicating by first-seen
// order (§4.2, glossary "Cohort"). Larger wantK values are prefix
// compatible with smaller ones (P2) because NeighborsRight/Left already
// return deterministic, order-stable prefixes.
func AssembleCohort(store *ring.Digitree, coord types.RingCoord, wantK int) []types.PeerID {
	if wantK <= 0 {
		return nil
	}
	right := store.NeighborsRight(coord, wantK)
	left := store.NeighborsLeft(coord, wantK)

	seen := make(map[types.PeerID]bool, wantK*2)
	out := make([]types.PeerID, 0, wantK)
	ri, li := 0, 0
	for len(out) < wantK && (ri < len(right) || li < len(left)) {
		if ri < len(right) {
			id := right[ri]
			ri++
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
		if len(out) >= wantK {
			break
		}
		if li < len(left) {
			id := left[li]
			li++
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// NeighborDistance returns selfID's index within cohort, or -1 if absent.
// An index of 0 or 1 means self is considered in-cluster (§4.11).
func NeighborDistance(selfID types.PeerID, cohort []types.PeerID) int {
	for i, id := range cohort {
		if id == selfID {
			return i
		}
	}
	return -1
}

// CandidatesExcluding returns up to n cohort members around coord that are
// not present in exclude, used by routeAct's forward step (§4.11).
func CandidatesExcluding(store *ring.Digitree, coord types.RingCoord, n int, exclude map[types.PeerID]bool) []types.PeerID {
	cohort := AssembleCohort(store, coord, n+len(exclude))
	out := make([]types.PeerID, 0, n)
	for _, id := range cohort {
		if exclude[id] {
			continue
		}
		out = append(out, id)
		if len(out) >= n {
			break
		}
	}
	return out
}
