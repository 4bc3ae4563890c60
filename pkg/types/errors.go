package types

import "errors"

// Sentinel errors of the types package; CoordFromString returns
// ErrCoordSize for a decoded value that is not 32 bytes long. None of them
// is counted by the service's diagnostics.
var (
	ErrCoordSize      = errors.New("types: coordinate must be exactly 32 bytes")
	ErrEmptyPeerID    = errors.New("types: empty peer id")
	ErrMalformedCoord = errors.New("types: malformed base64url coordinate")
)

var errCoordSize = ErrCoordSize
