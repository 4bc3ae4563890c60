// Package types defines the data model shared across the fret packages:
// the ring coordinate, the peer entry, and the wire-level message shapes
// exchanged between overlay nodes.
//
// Values here are plain data: no package in this tree depends on anything
// outside the standard library, lukechampine.com/blake3 and
// github.com/mr-tron/base58. Higher-level
// packages (internal/ring, internal/service, internal/selector) build
// behavior on top of these shapes.
package types
