// Package transport provides a minimal, self-contained interfaces.HostRuntime
// over plain TCP, for running fretnode outside the deterministic simulation
// harness. A production deployment is expected to supply its own host
// runtime (a real libp2p/dep2p-style stack owns dialing, NAT traversal,
// multiplexing, and encryption); this implementation exists only so
// cmd/fretnode has something real to dial and listen on.
package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/fret/fret/pkg/interfaces"
)

const maxFrameBytes = 16 << 20

// frame is the wire layout of one request or reply: a protocol id, an
// optional peer id (request-direction only), and a body, each
// length-prefixed.
type frame struct {
	Protocol string
	PeerID   string
	Body     []byte
}

func writeFrame(w io.Writer, f frame) error {
	bw := bufio.NewWriter(w)
	for _, s := range []string{f.Protocol, f.PeerID} {
		if err := writeChunk(bw, []byte(s)); err != nil {
			return err
		}
	}
	if err := writeChunk(bw, f.Body); err != nil {
		return err
	}
	return bw.Flush()
}

func writeChunk(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readFrame(r io.Reader) (frame, error) {
	protocol, err := readChunk(r)
	if err != nil {
		return frame{}, err
	}
	peerID, err := readChunk(r)
	if err != nil {
		return frame{}, err
	}
	body, err := readChunk(r)
	if err != nil {
		return frame{}, err
	}
	return frame{Protocol: string(protocol), PeerID: string(peerID), Body: body}, nil
}

func readChunk(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Host is a bare TCP HostRuntime: peers are addressed by a static id ->
// "host:port" book filled through AddPeer. Inbound connections report
// liveness but never add an address to the book.
type Host struct {
	selfID   string
	listener net.Listener

	mu        sync.RWMutex
	book      map[string]string // peer id -> addr
	handlers  map[string]interfaces.RequestHandler
	listeners []chan interfaces.PeerLivenessEvent
}

// Listen starts a TCP listener on addr and returns a Host bound to selfID.
// selfID is advertised to peers on every outbound connection so they can
// learn our identity without a separate discovery step.
func Listen(selfID, addr string) (*Host, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	h := &Host{
		selfID:   selfID,
		listener: ln,
		book:     make(map[string]string),
		handlers: make(map[string]interfaces.RequestHandler),
	}
	go h.acceptLoop()
	return h, nil
}

// Addr returns the address the host is actually listening on (useful when
// the caller asked for port 0).
func (h *Host) Addr() string { return h.listener.Addr().String() }

// Close stops accepting new connections.
func (h *Host) Close() error { return h.listener.Close() }

// AddPeer registers a known static address for a peer id so SendRequest can
// dial it before any inbound connection has taught us its address.
func (h *Host) AddPeer(peerID, addr string) {
	h.mu.Lock()
	h.book[peerID] = addr
	h.mu.Unlock()
}

func (h *Host) SelfID() string { return h.selfID }

func (h *Host) RegisterHandler(protocolID string, handler interfaces.RequestHandler) {
	h.mu.Lock()
	h.handlers[protocolID] = handler
	h.mu.Unlock()
}

func (h *Host) Subscribe() (<-chan interfaces.PeerLivenessEvent, func()) {
	ch := make(chan interfaces.PeerLivenessEvent, 32)
	h.mu.Lock()
	h.listeners = append(h.listeners, ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, c := range h.listeners {
			if c == ch {
				h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel
}

func (h *Host) emit(ev interfaces.PeerLivenessEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SendRequest dials (or reuses the book entry for) peerID, writes one
// framed request, and waits for the one framed reply. A successful round
// trip is treated as evidence the peer is alive and reachable.
func (h *Host) SendRequest(ctx context.Context, peerID, protocolID string, body []byte) ([]byte, error) {
	h.mu.RLock()
	addr, ok := h.book[peerID]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: no known address for peer %q", peerID)
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		h.emit(interfaces.PeerLivenessEvent{Kind: interfaces.PeerDisconnected, Peer: peerID})
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	if err := writeFrame(conn, frame{Protocol: protocolID, PeerID: h.selfID, Body: body}); err != nil {
		return nil, fmt.Errorf("transport: write request: %w", err)
	}
	reply, err := readFrame(conn)
	if err != nil {
		h.emit(interfaces.PeerLivenessEvent{Kind: interfaces.PeerDisconnected, Peer: peerID})
		return nil, fmt.Errorf("transport: read reply: %w", err)
	}
	h.emit(interfaces.PeerLivenessEvent{Kind: interfaces.PeerConnected, Peer: peerID})
	return reply.Body, nil
}

func (h *Host) acceptLoop() {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			return
		}
		go h.serve(conn)
	}
}

func (h *Host) serve(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	req, err := readFrame(conn)
	if err != nil {
		return
	}
	if req.PeerID != "" {
		// The remote ephemeral port is not the peer's listen address, so we
		// only learn liveness here, not a dialable address; AddPeer (from
		// static config or a future discovery mechanism) remains the only
		// way to populate the book.
		h.emit(interfaces.PeerLivenessEvent{Kind: interfaces.PeerConnected, Peer: req.PeerID})
	}

	h.mu.RLock()
	handler, ok := h.handlers[req.Protocol]
	h.mu.RUnlock()
	if !ok {
		_ = writeFrame(conn, frame{Protocol: req.Protocol, Body: []byte("transport: no handler registered")})
		return
	}

	respBody, err := handler(context.Background(), req.PeerID, req.Body)
	if err != nil {
		respBody = []byte("transport: handler error: " + err.Error())
	}
	_ = writeFrame(conn, frame{Protocol: req.Protocol, Body: respBody})
}
