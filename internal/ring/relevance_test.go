package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fret/fret/pkg/types"
)

func TestTouchIncrementsAccessAndRelevance(t *testing.T) {
	s := NewSparsityModel()
	e := &types.PeerEntry{}
	s.Touch(e, 0.5, 1000)
	assert.Equal(t, uint64(1), e.AccessCount)
	assert.Equal(t, int64(1000), e.LastAccessMs)
	assert.Greater(t, e.Relevance, 0.0)
}

func TestRecordSuccessFasterPeerGetsBiggerBump(t *testing.T) {
	s := NewSparsityModel()
	fast := &types.PeerEntry{}
	slow := &types.PeerEntry{}
	s.RecordSuccess(fast, 5, 0.5)
	s.RecordSuccess(slow, 500, 0.5)
	assert.Greater(t, fast.Relevance, slow.Relevance)
}

func TestRecordFailureReducesRelevance(t *testing.T) {
	s := NewSparsityModel()
	e := &types.PeerEntry{Relevance: 10}
	s.RecordFailure(e, 0.5)
	assert.Less(t, e.Relevance, 10.0)
}

func TestRelevanceStaysBounded(t *testing.T) {
	s := NewSparsityModel()
	e := &types.PeerEntry{}
	for i := 0; i < 10000; i++ {
		s.RecordSuccess(e, 1, 0.9)
	}
	assert.LessOrEqual(t, e.Relevance, relevanceMax)

	e2 := &types.PeerEntry{}
	for i := 0; i < 10000; i++ {
		s.RecordFailure(e2, 0.9)
	}
	assert.GreaterOrEqual(t, e2.Relevance, relevanceMin)
}

func TestSparsityBonusHigherForUnderpopulatedBand(t *testing.T) {
	s := NewSparsityModel()
	for i := 0; i < 50; i++ {
		s.Observe(0.9) // densely populate one band
	}
	dense := s.Bonus(0.9)
	sparse := s.Bonus(0.1)
	assert.Greater(t, sparse, dense)
}
