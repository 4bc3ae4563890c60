package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fret/fret/pkg/types"
)

func TestComputeNearRadiusZeroWhenNoEstimate(t *testing.T) {
	r := ComputeNearRadius(0, 4, 2)
	assert.Equal(t, types.RingCoord{}, r)
}

func TestComputeNearRadiusShrinksWithLargerNetwork(t *testing.T) {
	small := ComputeNearRadius(10, 4, 2)
	large := ComputeNearRadius(10000, 4, 2)
	assert.True(t, types.LexCompare(large, small) < 0)
}

func TestShouldIncludePayloadFalseWithoutConfidence(t *testing.T) {
	dist := types.RingCoord{}
	assert.False(t, ShouldIncludePayload(dist, 100, 0, 4, 2, 0.5))
}

func TestShouldIncludePayloadTrueWhenVeryClose(t *testing.T) {
	dist := types.RingCoord{} // distance zero: certainly inside near zone
	assert.True(t, ShouldIncludePayload(dist, 100, 1.0, 4, 2, 0.5))
}

func TestShouldIncludePayloadFalseWhenFar(t *testing.T) {
	dist := types.MaxCoord
	assert.False(t, ShouldIncludePayload(dist, 100, 1.0, 4, 2, 0.5))
}
