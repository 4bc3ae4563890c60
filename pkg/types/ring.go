// Package types holds the wire-level and ring-coordinate data model shared
// across the fret packages.
package types

import (
	"bytes"
	"encoding/base64"
	"math/bits"

	"github.com/mr-tron/base58"
	"lukechampine.com/blake3"
)

// CoordSize is the fixed width of a ring coordinate in bytes (256 bits).
const CoordSize = 32

// RingCoord is a big-endian unsigned integer modulo 2^256, used both for
// peer positions and key positions on the ring.
type RingCoord [CoordSize]byte

// HashToCoord maps a stable peer identifier onto the ring via a
// collision-resistant 256-bit digest.
func HashToCoord(id string) RingCoord {
	return RingCoord(blake3.Sum256([]byte(id)))
}

// HashKey maps an application key onto the ring the same way a peer
// identifier is mapped.
func HashKey(key string) RingCoord {
	return HashToCoord(key)
}

// Bytes returns the coordinate as a byte slice.
func (c RingCoord) Bytes() []byte {
	return c[:]
}

// String renders the coordinate as unpadded base64url, the wire encoding
// used throughout the routing messages.
func (c RingCoord) String() string {
	return base64.RawURLEncoding.EncodeToString(c[:])
}

// shortDisplayBytes is how many leading bytes of a coordinate's digest
// feed the human-readable base58 short form; full 32-byte base58 is no
// more scannable in a log line than the wire base64url form it would
// replace.
const shortDisplayBytes = 6

// ShortString renders a truncated base58 form of the coordinate for log
// lines and diagnostics output, distinct from the full wire encoding
// returned by String.
func (c RingCoord) ShortString() string {
	return base58.Encode(c[:shortDisplayBytes])
}

// ShortID renders a peer id's ring coordinate in the same short
// human-readable form as ShortString, so logs can name a peer by a stable
// fingerprint without printing its full (potentially sensitive) host
// identifier.
func ShortID(id PeerID) string {
	return HashToCoord(string(id)).ShortString()
}

// CoordFromString decodes an unpadded base64url-encoded 32-byte coordinate.
func CoordFromString(s string) (RingCoord, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return RingCoord{}, err
	}
	var c RingCoord
	if len(b) != CoordSize {
		return c, errCoordSize
	}
	copy(c[:], b)
	return c, nil
}

// XORDistance returns the byte-wise XOR of two coordinates.
func XORDistance(a, b RingCoord) RingCoord {
	var out RingCoord
	for i := 0; i < CoordSize; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// LexLess is the lexicographic (big-endian unsigned) compare used to order
// XOR distances and raw coordinates alike.
func LexLess(a, b RingCoord) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// LexCompare returns -1, 0 or 1 per bytes.Compare semantics.
func LexCompare(a, b RingCoord) int {
	return bytes.Compare(a[:], b[:])
}

// LeadingZeroBits counts the leading zero bits of a coordinate treated as a
// 256-bit big-endian unsigned integer.
func LeadingZeroBits(c RingCoord) int {
	total := 0
	for _, bt := range c {
		if bt == 0 {
			total += 8
			continue
		}
		total += bits.LeadingZeros8(bt)
		break
	}
	return total
}

// NormalizedLogDistance returns a value in [0,1]: 1 - lz/256, where lz is
// the number of leading zero bits of the XOR distance between self and
// other (the length of their common prefix).
func NormalizedLogDistance(self, other RingCoord) float64 {
	lz := LeadingZeroBits(XORDistance(self, other))
	v := 1 - float64(lz)/256
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// AddWrapped adds a delta (big-endian) to a coordinate modulo 2^256.
func AddWrapped(c RingCoord, delta RingCoord) RingCoord {
	var out RingCoord
	carry := 0
	for i := CoordSize - 1; i >= 0; i-- {
		sum := int(c[i]) + int(delta[i]) + carry
		out[i] = byte(sum & 0xff)
		carry = sum >> 8
	}
	return out
}

// MaxCoord is the largest representable coordinate, 2^256 - 1.
var MaxCoord = func() RingCoord {
	var c RingCoord
	for i := range c {
		c[i] = 0xff
	}
	return c
}()
