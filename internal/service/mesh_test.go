package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/fret/fret/pkg/interfaces"
)

// mesh is an in-process stand-in for a host runtime shared by a handful
// of mockHost instances, used to exercise Service-to-Service RPC without
// any real transport.
type mesh struct {
	mu    sync.Mutex
	peers map[string]*mockHost
}

func newMesh() *mesh {
	return &mesh{peers: make(map[string]*mockHost)}
}

func (m *mesh) register(h *mockHost) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[h.id] = h
}

func (m *mesh) lookup(id string) (*mockHost, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.peers[id]
	return h, ok
}

// mockHost implements interfaces.HostRuntime by dispatching directly into
// another mockHost's registered handler, synchronously, in the caller's
// goroutine.
type mockHost struct {
	id   string
	m    *mesh
	mu   sync.Mutex
	h    map[string]interfaces.RequestHandler
	evCh chan interfaces.PeerLivenessEvent
}

func newMockHost(id string, m *mesh) *mockHost {
	host := &mockHost{id: id, m: m, h: make(map[string]interfaces.RequestHandler), evCh: make(chan interfaces.PeerLivenessEvent, 16)}
	m.register(host)
	return host
}

func (h *mockHost) SelfID() string { return h.id }

func (h *mockHost) SendRequest(ctx context.Context, peerID, protocolID string, body []byte) ([]byte, error) {
	target, ok := h.m.lookup(peerID)
	if !ok {
		return nil, fmt.Errorf("mockHost: unknown peer %q", peerID)
	}
	target.mu.Lock()
	handler, ok := target.h[protocolID]
	target.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mockHost: %q has no handler for %q", peerID, protocolID)
	}
	return handler(ctx, h.id, body)
}

func (h *mockHost) RegisterHandler(protocolID string, handler interfaces.RequestHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.h[protocolID] = handler
}

func (h *mockHost) Subscribe() (<-chan interfaces.PeerLivenessEvent, func()) {
	return h.evCh, func() {}
}

// connect delivers a connected-liveness event for peerID to h.
func (h *mockHost) connect(peerID string) {
	h.evCh <- interfaces.PeerLivenessEvent{Kind: interfaces.PeerConnected, Peer: peerID}
}
