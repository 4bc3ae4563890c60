package ring

import (
	"math"
	"sync"

	"github.com/fret/fret/pkg/types"
)

const (
	relevanceMax     = 100.0
	relevanceMin     = -20.0
	relevanceTouch   = 1.0
	relevanceSuccess = 4.0
	relevanceFailure = -3.0

	sparsityBands = 32 // each band spans 8 of the 256 prefix-length steps, coarse enough to stay cheap
	sparsityEMA   = 0.1
)

// bandOf maps a normalized distance in [0,1] to one of sparsityBands
// logarithmic buckets.
func bandOf(x float64) int {
	b := int(x * float64(sparsityBands))
	if b >= sparsityBands {
		b = sparsityBands - 1
	}
	if b < 0 {
		b = 0
	}
	return b
}

// SparsityModel tracks, per logarithmic distance band, an exponential
// moving average of observed peer density, so the relevance model can
// retain underrepresented long-range bands (§4.3).
type SparsityModel struct {
	mu        sync.Mutex
	density   [sparsityBands]float64
	observed  [sparsityBands]bool
	hits      [sparsityBands]int64
	totalHits int64
}

// NewSparsityModel returns a model with every band considered "unknown"
// until first observed.
func NewSparsityModel() *SparsityModel {
	return &SparsityModel{}
}

// Observe records one peer seen at normalized distance x, nudging its
// band's density estimate toward that band's observed share of all
// observations, so bands that are hit more often than their neighbors
// settle at a proportionally higher density rather than all converging
// to the same value once touched at all.
func (s *SparsityModel) Observe(x float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := bandOf(x)
	s.hits[b]++
	s.totalHits++
	freq := float64(s.hits[b]) / float64(s.totalHits)
	if !s.observed[b] {
		s.density[b] = freq
		s.observed[b] = true
		return
	}
	s.density[b] = s.density[b]*(1-sparsityEMA) + sparsityEMA*freq
}

// Bonus returns a value >= 0, inversely proportional to band density, used
// to boost relevance for entries in sparsely populated bands.
func (s *SparsityModel) Bonus(x float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := bandOf(x)
	d := s.density[b]
	if !s.observed[b] || d <= 0 {
		return 1.0
	}
	return 1.0 / (1.0 + d)
}

func clampRelevance(v float64) float64 {
	if v > relevanceMax {
		return relevanceMax
	}
	if v < relevanceMin {
		return relevanceMin
	}
	return v
}

// Touch implements the "accessed" update rule: bump accessCount, refresh
// lastAccess, and nudge relevance upward including the sparsity bonus.
func (s *SparsityModel) Touch(e *types.PeerEntry, x float64, nowMs int64) {
	e.AccessCount++
	e.LastAccessMs = nowMs
	s.Observe(x)
	e.Relevance = clampRelevance(e.Relevance + relevanceTouch*(1+s.Bonus(x)))
}

// RecordSuccess implements the success update rule: faster peers (lower
// smoothed latency) receive a proportionally larger bump.
func (s *SparsityModel) RecordSuccess(e *types.PeerEntry, latencyMs float64, x float64) {
	e.SuccessCount++
	const alpha = 0.2
	if e.AvgLatencyMs == 0 {
		e.AvgLatencyMs = latencyMs
	} else {
		e.AvgLatencyMs = e.AvgLatencyMs*(1-alpha) + latencyMs*alpha
	}
	speedFactor := 1.0
	if e.AvgLatencyMs > 0 {
		speedFactor = 1 + 100/(e.AvgLatencyMs+100)
	}
	s.Observe(x)
	e.Relevance = clampRelevance(e.Relevance + relevanceSuccess*speedFactor*(1+s.Bonus(x)))
}

// RecordFailure implements the failure update rule: the negative nudge is
// proportional to the current success ratio (floored at 0.1), so a peer
// with a higher success ratio loses more relevance per failure than one
// that rarely succeeds.
func (s *SparsityModel) RecordFailure(e *types.PeerEntry, x float64) {
	e.FailureCount++
	total := e.SuccessCount + e.FailureCount
	ratio := 0.5
	if total > 0 {
		ratio = float64(e.SuccessCount) / float64(total)
	}
	e.Relevance = clampRelevance(e.Relevance + relevanceFailure*math.Max(ratio, 0.1))
}
