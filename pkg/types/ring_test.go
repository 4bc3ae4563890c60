package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashToCoordDeterministic(t *testing.T) {
	a := HashToCoord("peer-1")
	b := HashToCoord("peer-1")
	assert.Equal(t, a, b)

	c := HashToCoord("peer-2")
	assert.NotEqual(t, a, c)
}

func TestXORDistanceSelf(t *testing.T) {
	c := HashToCoord("peer-1")
	d := XORDistance(c, c)
	assert.Equal(t, RingCoord{}, d)
}

func TestXORDistanceCommutative(t *testing.T) {
	a := HashToCoord("peer-a")
	b := HashToCoord("peer-b")
	assert.Equal(t, XORDistance(a, b), XORDistance(b, a))
}

func TestLexCompare(t *testing.T) {
	a := RingCoord{}
	b := RingCoord{}
	b[31] = 1
	assert.True(t, LexLess(a, b))
	assert.False(t, LexLess(b, a))
	assert.Equal(t, 0, LexCompare(a, a))
}

func TestNormalizedLogDistanceBounds(t *testing.T) {
	self := HashToCoord("self")
	assert.Equal(t, 0.0, NormalizedLogDistance(self, self))

	var other RingCoord
	for i := range other {
		other[i] = ^self[i]
	}
	assert.InDelta(t, 1.0, NormalizedLogDistance(self, other), 0.01)
}

func TestCoordRoundTrip(t *testing.T) {
	c := HashToCoord("round-trip")
	s := c.String()
	back, err := CoordFromString(s)
	assert.NoError(t, err)
	assert.Equal(t, c, back)
}

func TestCoordFromStringInvalidLength(t *testing.T) {
	_, err := CoordFromString("AA")
	assert.Error(t, err)
}
