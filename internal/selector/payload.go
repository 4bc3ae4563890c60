// Package selector implements the payload heuristic (C7) and the dual-mode
// next-hop selector (C8).
package selector

import (
	"math/big"

	"github.com/fret/fret/pkg/types"
)

var ringModulus = new(big.Int).Lsh(big.NewInt(1), 256)

func coordToInt(c types.RingCoord) *big.Int {
	return new(big.Int).SetBytes(c[:])
}

func intToCoord(v *big.Int) types.RingCoord {
	var c types.RingCoord
	b := v.Bytes()
	if len(b) > types.CoordSize {
		b = b[len(b)-types.CoordSize:]
	}
	copy(c[types.CoordSize-len(b):], b)
	return c
}

// ComputeNearRadius returns a 32-byte coordinate equal to
// min(beta*k*(2^256 / max(1, round(n))), 2^256 - 1). It collapses to zero
// when sizeEstimate < 1 (§4.7).
func ComputeNearRadius(sizeEstimate, k int, beta float64) types.RingCoord {
	if sizeEstimate < 1 {
		return types.RingCoord{}
	}
	n := sizeEstimate
	if n < 1 {
		n = 1
	}
	// beta * k * (2^256 / n), computed in big.Int/big.Float to preserve
	// precision across the full 256-bit range.
	share := new(big.Float).Quo(new(big.Float).SetInt(ringModulus), big.NewFloat(float64(n)))
	share.Mul(share, big.NewFloat(beta*float64(k)))

	result, _ := share.Int(nil)
	maxVal := new(big.Int).Sub(ringModulus, big.NewInt(1))
	if result.Cmp(maxVal) > 0 {
		result = maxVal
	}
	if result.Sign() < 0 {
		return types.RingCoord{}
	}
	return intToCoord(result)
}

// ShouldIncludePayload implements §4.7's linear-probability decision for
// whether to attach the activity payload to an outgoing maybeAct request.
func ShouldIncludePayload(distToKey types.RingCoord, sizeEstimate int, confidence float64, k int, beta, threshold float64) bool {
	if sizeEstimate < 1 || confidence <= 0 {
		return false
	}
	nearRadius := ComputeNearRadius(sizeEstimate, k, beta)
	nearZone := coordToInt(nearRadius)
	if nearZone.Sign() == 0 {
		return false
	}
	dist := coordToInt(distToKey)

	diff := new(big.Int).Sub(nearZone, dist)
	if diff.Sign() < 0 {
		return false
	}
	p := new(big.Float).Quo(new(big.Float).SetInt(diff), new(big.Float).SetInt(nearZone))
	pf, _ := p.Float64()
	return pf*confidence >= threshold
}
