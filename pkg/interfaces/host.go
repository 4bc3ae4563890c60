// Package interfaces defines the narrow capability surface FRET consumes
// from its host runtime: everything about dialing, multiplexing,
// encryption and peer discovery beneath that surface belongs to the host,
// not to this module.
package interfaces

import "context"

// HostRuntime is the minimal set of capabilities FRET requires from the
// surrounding peer-to-peer runtime (spec capabilities 1-3; capability 4,
// hashing a peer id to a ring coordinate, is computed directly by FRET via
// ring.HashToCoord and is therefore not part of this interface).
type HostRuntime interface {
	// SelfID returns this node's own stable peer identifier.
	SelfID() string

	// SendRequest sends one framed request to peerID on protocolID and
	// returns the one framed reply. The host owns dialing, multiplexing,
	// and encryption; FRET only ever sees whole messages.
	SendRequest(ctx context.Context, peerID, protocolID string, body []byte) ([]byte, error)

	// RegisterHandler installs the handler invoked for every inbound
	// request on protocolID. Calling it again for the same protocolID
	// replaces the previous handler.
	RegisterHandler(protocolID string, handler RequestHandler)

	// Subscribe returns a channel of peer liveness events and a cancel
	// function that must be called to stop delivery and release
	// resources associated with the subscription.
	Subscribe() (<-chan PeerLivenessEvent, func())
}

// RequestHandler answers one inbound request with its framed reply bytes,
// or an error if the request could not be served at all.
type RequestHandler func(ctx context.Context, peerID string, body []byte) ([]byte, error)

// LivenessKind discriminates a PeerLivenessEvent.
type LivenessKind int

const (
	PeerConnected LivenessKind = iota
	PeerDisconnected
)

// PeerLivenessEvent is delivered by the host whenever a peer's connection
// state changes.
type PeerLivenessEvent struct {
	Kind LivenessKind
	Peer string
}
