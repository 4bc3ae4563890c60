package service

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/fret/fret/pkg/types"
)

const backoffMaxFactor = 32
const backoffBase = 1 * time.Second

type backoffState struct {
	factor    int
	expiresAt time.Time
}

// BackoffMap is the per-peer exponential backoff map of §4.8/§4.11: a
// failed send doubles the peer's penalty factor (capped at 32); the
// penalty decays to 0 once the backoff window expires.
type BackoffMap struct {
	mu    sync.Mutex
	clock clock.Clock
	m     map[types.PeerID]*backoffState
}

func NewBackoffMap(clk clock.Clock) *BackoffMap {
	if clk == nil {
		clk = clock.New()
	}
	return &BackoffMap{clock: clk, m: make(map[types.PeerID]*backoffState)}
}

// RecordFailure doubles id's backoff factor (starting at 1), up to 32.
func (b *BackoffMap) RecordFailure(id types.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.m[id]
	if !ok || b.clock.Now().After(s.expiresAt) {
		s = &backoffState{factor: 1}
	} else {
		s.factor *= 2
		if s.factor > backoffMaxFactor {
			s.factor = backoffMaxFactor
		}
	}
	s.expiresAt = b.clock.Now().Add(time.Duration(s.factor) * backoffBase)
	b.m[id] = s
}

// Clear removes id's backoff state entirely, called after a successful
// send.
func (b *BackoffMap) Clear(id types.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.m, id)
}

// Penalty returns factor/32, or 0 once the backoff window has expired.
func (b *BackoffMap) Penalty(id types.PeerID) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.m[id]
	if !ok {
		return 0
	}
	if b.clock.Now().After(s.expiresAt) {
		delete(b.m, id)
		return 0
	}
	return float64(s.factor) / float64(backoffMaxFactor)
}
