package types

// Wire-level message shapes exchanged between overlay nodes. Every request
// and reply body is exactly one UTF-8 JSON object (§6); binary coordinates
// travel as unpadded base64url strings via RingCoord.String and
// CoordFromString.

// PingRequest carries no payload beyond the envelope timestamp; it exists
// so handlers have a typed decode target.
type PingRequest struct {
	V  int   `json:"v"`
	TS int64 `json:"ts"`
}

// PingResponse is the reply to a ping, optionally carrying the responder's
// current network-size estimate so it can piggyback on liveness checks.
type PingResponse struct {
	OK            bool     `json:"ok"`
	TS            int64    `json:"ts"`
	SizeEstimate  *int     `json:"size_estimate,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
}

// SampleEntry is one opportunistically-shared Digitree row inside a
// NeighborSnapshot.
type SampleEntry struct {
	ID        PeerID  `json:"id"`
	Coord     string  `json:"coord"`
	Relevance float64 `json:"relevance"`
}

// NeighborSnapshot is the reply to a "neighbors" pull and the request body
// of a "neighbors-announce" push.
type NeighborSnapshot struct {
	V            int               `json:"v"`
	From         PeerID            `json:"from"`
	Timestamp    int64             `json:"timestamp"`
	Successors   []PeerID          `json:"successors"`
	Predecessors []PeerID          `json:"predecessors"`
	Sample       []SampleEntry     `json:"sample,omitempty"`
	SizeEstimate *int              `json:"size_estimate,omitempty"`
	Confidence   *float64          `json:"confidence,omitempty"`
	Sig          string            `json:"sig"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// RouteAndMaybeAct is the request body of the maybeAct protocol: it both
// routes toward a key's cohort and optionally carries an activity payload
// to deliver once in-cluster.
type RouteAndMaybeAct struct {
	V             int      `json:"v"`
	Key           string   `json:"key"`
	WantK         int      `json:"want_k"`
	Wants         *int     `json:"wants,omitempty"`
	TTL           int      `json:"ttl"`
	MinSigs       int      `json:"min_sigs"`
	Digest        string   `json:"digest,omitempty"`
	Activity      []byte   `json:"activity,omitempty"`
	Breadcrumbs   []PeerID `json:"breadcrumbs,omitempty"`
	CorrelationID string   `json:"correlation_id"`
	Timestamp     int64    `json:"timestamp"`
	Signature     string   `json:"signature"`
}

// NearAnchor invites the caller to resend closer to the key, or reports the
// in-cluster anchors once the message has arrived.
type NearAnchor struct {
	V                    int      `json:"v"`
	Anchors              []PeerID `json:"anchors"`
	CohortHint           []PeerID `json:"cohort_hint"`
	EstimatedClusterSize int      `json:"estimated_cluster_size"`
	Confidence           float64  `json:"confidence"`
}

// LeaveNotice is sent by a departing peer to its neighbors.
type LeaveNotice struct {
	V            int      `json:"v"`
	From         PeerID   `json:"from"`
	Replacements []PeerID `json:"replacements,omitempty"`
	Timestamp    int64    `json:"timestamp"`
}

// BusyResponse signals backpressure; every maybeAct reply must be probed
// for Busy before the rest of the shape is interpreted (§6).
type BusyResponse struct {
	V            int   `json:"v"`
	Busy         bool  `json:"busy"`
	RetryAfterMs int64 `json:"retry_after_ms"`
}

// CommitCertificate is the opaque result of a successfully delivered
// activity; its contents are produced by the application-supplied
// activity handler and are not interpreted by the core.
type CommitCertificate struct {
	V       int    `json:"v"`
	Payload []byte `json:"payload"`
}

// MaybeActResult is the tagged-union reply to a maybeAct request. Exactly
// one of the three pointer fields is non-nil; Busy is checked first per
// the wire contract.
type MaybeActResult struct {
	Busy       *BusyResponse       `json:"busy,omitempty"`
	NearAnchor *NearAnchor         `json:"near_anchor,omitempty"`
	Commit     *CommitCertificate  `json:"commit,omitempty"`
}

// IsBusy reports whether the result is a busy/backpressure reply.
func (r MaybeActResult) IsBusy() bool { return r.Busy != nil }
