package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshcore/session"
)

func testPeer(b byte) session.PeerID {
	var p session.PeerID
	for i := range p {
		p[i] = b
	}
	return p
}

func TestMemoryPairDelivers(t *testing.T) {
	peerA, peerB := testPeer(1), testPeer(2)
	ea, eb := NewMemoryPair(peerA, peerB)

	var gotFrom session.PeerID
	var gotFrame []byte
	eb.SetFrameHandler(func(from session.PeerID, frame []byte) {
		gotFrom = from
		gotFrame = frame
	})

	require.NoError(t, ea.SendFrame(peerB, []byte("ping")))
	assert.Equal(t, peerA, gotFrom)
	assert.Equal(t, []byte("ping"), gotFrame)
}

func TestMemoryFrameIsCopied(t *testing.T) {
	peerA, peerB := testPeer(1), testPeer(2)
	ea, eb := NewMemoryPair(peerA, peerB)

	var got []byte
	eb.SetFrameHandler(func(_ session.PeerID, frame []byte) { got = frame })

	original := []byte("mutable")
	require.NoError(t, ea.SendFrame(peerB, original))
	original[0] = 'X'
	assert.Equal(t, []byte("mutable"), got)
}

func TestMemoryUnlinkedPeer(t *testing.T) {
	ea := NewMemoryEndpoint(testPeer(1))
	err := ea.SendFrame(testPeer(9), []byte("void"))
	assert.ErrorIs(t, err, ErrPeerUnreachable)
}

func TestMemoryOffline(t *testing.T) {
	peerA, peerB := testPeer(1), testPeer(2)
	ea, eb := NewMemoryPair(peerA, peerB)

	delivered := 0
	eb.SetFrameHandler(func(session.PeerID, []byte) { delivered++ })

	eb.SetOnline(false)
	assert.ErrorIs(t, ea.SendFrame(peerB, []byte("lost")), ErrPeerUnreachable)
	assert.Zero(t, delivered)

	eb.SetOnline(true)
	require.NoError(t, ea.SendFrame(peerB, []byte("found")))
	assert.Equal(t, 1, delivered)

	// Sender offline blocks outbound too.
	ea.SetOnline(false)
	assert.ErrorIs(t, ea.SendFrame(peerB, []byte("stuck")), ErrPeerUnreachable)
}

func TestMemoryClosedStaysClosed(t *testing.T) {
	peerA, peerB := testPeer(1), testPeer(2)
	ea, _ := NewMemoryPair(peerA, peerB)

	require.NoError(t, ea.Close())
	ea.SetOnline(true)
	assert.ErrorIs(t, ea.SendFrame(peerB, []byte("late")), ErrPeerUnreachable)
}

func TestMockTransportRecords(t *testing.T) {
	m := NewMockTransport()
	require.NoError(t, m.SendFrame(testPeer(1), []byte("a")))
	require.NoError(t, m.SendFrame(testPeer(2), []byte("b")))

	sent := m.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, testPeer(1), sent[0].Peer)
	assert.Equal(t, []byte("b"), sent[1].Frame)

	m.Reset()
	assert.Empty(t, m.Sent())
}
