package types

// PeerID is a stable, opaque peer identifier supplied by the host runtime.
// FRET never interprets its contents; it only hashes it to a RingCoord via
// HashToCoord and compares it lexicographically for tie-breaks.
type PeerID string

// ProtocolID names an overlay protocol, namespaced by network name so two
// independent rings sharing a host runtime never cross-talk. See
// NamespacedProtocol.
type ProtocolID string

// NetworkName scopes a set of protocol identifiers to one logical ring.
type NetworkName string

// NamespacedProtocol builds the wire protocol identifier for a given
// network and bare protocol name, e.g. "ping" -> "/fret/<network>/ping".
func NamespacedProtocol(network NetworkName, name string) ProtocolID {
	if network == "" {
		return ProtocolID("/fret/" + name)
	}
	return ProtocolID("/fret/" + string(network) + "/" + name)
}

// CorrelationID identifies one RouteAndMaybeAct request end-to-end for
// deduplication and breadcrumb tracking purposes.
type CorrelationID string
