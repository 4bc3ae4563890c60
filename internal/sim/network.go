// Package sim provides the deterministic, transport-free simulation
// harness (C12): an in-process mesh of service.Service instances wired
// through Network/Host instead of a real host runtime, driven by a
// Scheduler and a shared mock clock so two runs with the same seed
// produce identical event ordering.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/fret/fret/pkg/interfaces"
)

// Network is the in-process stand-in for every FRET node's host runtime:
// SendRequest dispatches directly into the target Host's registered
// handler, synchronously, with no simulated latency or packet loss.
type Network struct {
	mu    sync.Mutex
	hosts map[string]*Host
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{hosts: make(map[string]*Host)}
}

// host returns the Host for id, creating it on first reference.
func (n *Network) host(id string) *Host {
	n.mu.Lock()
	defer n.mu.Unlock()
	h, ok := n.hosts[id]
	if !ok {
		h = &Host{
			id:       id,
			net:      n,
			handlers: make(map[string]interfaces.RequestHandler),
			events:   make(chan interfaces.PeerLivenessEvent, 64),
		}
		n.hosts[id] = h
	}
	return h
}

// Remove drops a host from the network; any in-flight SendRequest to it
// afterward fails as an offline peer, simulating a hard departure.
func (n *Network) Remove(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.hosts, id)
}

// Host implements interfaces.HostRuntime against a shared Network.
type Host struct {
	id  string
	net *Network

	mu       sync.Mutex
	handlers map[string]interfaces.RequestHandler
	events   chan interfaces.PeerLivenessEvent
}

func (h *Host) SelfID() string { return h.id }

// SendRequest looks up the target Host in the shared network and invokes
// its registered handler directly in the caller's goroutine.
func (h *Host) SendRequest(ctx context.Context, peerID, protocolID string, body []byte) ([]byte, error) {
	h.net.mu.Lock()
	target, ok := h.net.hosts[peerID]
	h.net.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("sim: peer %q is offline", peerID)
	}
	target.mu.Lock()
	handler, ok := target.handlers[protocolID]
	target.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("sim: peer %q has no handler for %q", peerID, protocolID)
	}
	return handler(ctx, h.id, body)
}

func (h *Host) RegisterHandler(protocolID string, handler interfaces.RequestHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[protocolID] = handler
}

func (h *Host) Subscribe() (<-chan interfaces.PeerLivenessEvent, func()) {
	return h.events, func() {}
}

// notify delivers a liveness event to this host's own Service, mimicking
// the connect/disconnect hooks a real host runtime would fire.
func (h *Host) notify(peerID string, connected bool) {
	kind := interfaces.PeerDisconnected
	if connected {
		kind = interfaces.PeerConnected
	}
	select {
	case h.events <- interfaces.PeerLivenessEvent{Kind: kind, Peer: peerID}:
	default:
	}
}
