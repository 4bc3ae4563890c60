package types

// SerializedPeerEntry is the JSON-safe form of a PeerEntry produced by
// Digitree.ExportEntries. State is carried but ignored on import (I4).
type SerializedPeerEntry struct {
	ID           PeerID            `json:"id"`
	Coord        string            `json:"coord"`
	Relevance    float64           `json:"relevance"`
	LastAccessMs int64             `json:"lastAccess"`
	State        string            `json:"state"`
	AccessCount  uint64            `json:"accessCount"`
	SuccessCount uint64            `json:"successCount"`
	FailureCount uint64            `json:"failureCount"`
	AvgLatencyMs float64           `json:"avgLatencyMs"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// PersistedDocument is the optional on-disk export of a Digitree, round
// tripped by ring.Digitree's ExportEntries/ImportEntries (§6).
type PersistedDocument struct {
	V         int                   `json:"v"`
	PeerID    PeerID                `json:"peerId"`
	Timestamp int64                 `json:"timestamp"`
	Entries   []SerializedPeerEntry `json:"entries"`
}
