package selector

import (
	"sort"

	"github.com/fret/fret/pkg/types"
)

// EntryLookup resolves a candidate id to its Digitree entry.
type EntryLookup func(id types.PeerID) (types.PeerEntry, bool)

// LinkQualityFunc returns a value in [0,1], higher is better.
type LinkQualityFunc func(id types.PeerID) float64

// BackoffFunc returns a value in [0,1]: the current backoff penalty for id.
type BackoffFunc func(id types.PeerID) float64

// Options configures SelectNextHop. NearRadius != nil selects the
// cost-function mode (§4.8); leaving it nil selects the legacy mode kept
// for testing.
type Options struct {
	Target      types.RingCoord
	NearRadius  *types.RingCoord
	Confidence  float64
	Lookup      EntryLookup
	LinkQuality LinkQualityFunc
	Backoff     BackoffFunc
	IsConnected func(id types.PeerID) bool
	Tolerance   int // legacy mode only, default 1
}

type scored struct {
	id        types.PeerID
	coord     types.RingCoord
	dist      types.RingCoord
	connected bool
	cost      float64
	near      bool
}

// SelectNextHop picks the next hop among candidates toward Target.
func SelectNextHop(candidates []types.PeerID, opts Options) (types.PeerID, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	if opts.NearRadius != nil {
		return selectCostFunction(candidates, opts)
	}
	return selectLegacy(candidates, opts)
}

func weightsFor(near bool, confidence float64) (wd, wconn, wq, wb float64) {
	if near {
		wd, wconn, wq, wb = 0.7, 0.1, 0.1, 0.1
	} else {
		wd, wconn, wq, wb = 0.4, 0.4, 0.1, 0.1
	}
	shift := (confidence - 0.5) * 0.2
	wd += shift
	wconn -= shift
	if wd < 0.1 {
		wd = 0.1
	}
	if wconn < 0.05 {
		wconn = 0.05
	}
	return
}

func selectCostFunction(candidates []types.PeerID, opts Options) (types.PeerID, bool) {
	var near, far []scored
	for _, id := range candidates {
		e, ok := opts.Lookup(id)
		if !ok {
			continue
		}
		dist := types.XORDistance(e.Coord, opts.Target)
		isNear := !types.LexLess(*opts.NearRadius, dist) // dist <= nearRadius
		connected := opts.IsConnected != nil && opts.IsConnected(id)
		linkQ := 0.0
		if opts.LinkQuality != nil {
			linkQ = opts.LinkQuality(id)
		}
		backoff := 0.0
		if opts.Backoff != nil {
			backoff = opts.Backoff(id)
		}
		normDist := types.NormalizedLogDistance(e.Coord, opts.Target)

		wd, wconn, wq, wb := weightsFor(isNear, opts.Confidence)
		connTerm := 0.0
		if connected {
			connTerm = 1
		}
		cost := wd*normDist - wconn*connTerm - wq*linkQ + wb*backoff

		s := scored{id: id, coord: e.Coord, dist: dist, connected: connected, cost: cost, near: isNear}
		if isNear {
			near = append(near, s)
		} else {
			far = append(far, s)
		}
	}

	if len(near) > 0 {
		sort.Slice(near, func(i, j int) bool {
			if c := types.LexCompare(near[i].dist, near[j].dist); c != 0 {
				return c < 0
			}
			if near[i].connected != near[j].connected {
				return near[i].connected
			}
			if near[i].cost != near[j].cost {
				return near[i].cost < near[j].cost
			}
			return near[i].id < near[j].id
		})
		return near[0].id, true
	}
	if len(far) > 0 {
		sort.Slice(far, func(i, j int) bool {
			if far[i].cost != far[j].cost {
				return far[i].cost < far[j].cost
			}
			if c := types.LexCompare(far[i].dist, far[j].dist); c != 0 {
				return c < 0
			}
			return far[i].id < far[j].id
		})
		return far[0].id, true
	}
	return "", false
}

func selectLegacy(candidates []types.PeerID, opts Options) (types.PeerID, bool) {
	tolerance := opts.Tolerance
	if tolerance == 0 {
		tolerance = 1
	}

	type entry struct {
		id   types.PeerID
		dist types.RingCoord
		lz   int
		conn bool
		linkQ float64
	}
	var entries []entry
	for _, id := range candidates {
		e, ok := opts.Lookup(id)
		if !ok {
			continue
		}
		dist := types.XORDistance(e.Coord, opts.Target)
		conn := opts.IsConnected != nil && opts.IsConnected(id)
		linkQ := 0.0
		if opts.LinkQuality != nil {
			linkQ = opts.LinkQuality(id)
		}
		entries = append(entries, entry{id: id, dist: dist, lz: types.LeadingZeroBits(dist), conn: conn, linkQ: linkQ})
	}
	if len(entries) == 0 {
		return "", false
	}

	best := entries[0]
	for _, e := range entries[1:] {
		if types.LexCompare(e.dist, best.dist) < 0 {
			best = e
		}
	}

	var winner *entry
	var winnerScore float64
	for i := range entries {
		e := entries[i]
		if !e.conn {
			continue
		}
		if e.lz < best.lz-tolerance {
			continue
		}
		score := boolToFloat(e.conn) + 0.25*e.linkQ
		if winner == nil || score > winnerScore || (score == winnerScore && types.LexCompare(e.dist, winner.dist) < 0) {
			w := e
			winner = &w
			winnerScore = score
		}
	}
	if winner != nil {
		return winner.id, true
	}
	return best.id, true
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
