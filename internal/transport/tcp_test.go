package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fret/fret/pkg/interfaces"
)

func TestSendRequestRoundTrips(t *testing.T) {
	hostA, err := Listen("peer-a", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = hostA.Close() }()

	hostB, err := Listen("peer-b", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = hostB.Close() }()

	hostB.RegisterHandler("echo", func(ctx context.Context, peerID string, body []byte) ([]byte, error) {
		assert.Equal(t, "peer-a", peerID)
		return append([]byte("echo:"), body...), nil
	})
	hostA.AddPeer("peer-b", hostB.Addr())

	reply, err := hostA.SendRequest(context.Background(), "peer-b", "echo", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "echo:hello", string(reply))
}

func TestSendRequestUnknownPeerFails(t *testing.T) {
	host, err := Listen("peer-a", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = host.Close() }()

	_, err = host.SendRequest(context.Background(), "ghost", "echo", nil)
	assert.Error(t, err)
}

func TestSendRequestEmitsLivenessEvents(t *testing.T) {
	hostA, err := Listen("peer-a", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = hostA.Close() }()

	hostB, err := Listen("peer-b", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = hostB.Close() }()

	hostB.RegisterHandler("ping", func(ctx context.Context, peerID string, body []byte) ([]byte, error) {
		return nil, nil
	})
	hostA.AddPeer("peer-b", hostB.Addr())

	events, cancel := hostA.Subscribe()
	defer cancel()

	_, err = hostA.SendRequest(context.Background(), "peer-b", "ping", nil)
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, interfaces.PeerConnected, ev.Kind)
		assert.Equal(t, "peer-b", ev.Peer)
	case <-time.After(time.Second):
		t.Fatal("expected a liveness event after a successful send")
	}
}

func TestNoHandlerRegisteredRepliesWithError(t *testing.T) {
	hostA, err := Listen("peer-a", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = hostA.Close() }()

	hostB, err := Listen("peer-b", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = hostB.Close() }()

	hostA.AddPeer("peer-b", hostB.Addr())

	reply, err := hostA.SendRequest(context.Background(), "peer-b", "unregistered", nil)
	require.NoError(t, err)
	assert.Contains(t, string(reply), "no handler registered")
}
