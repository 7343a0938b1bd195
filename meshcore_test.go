package meshcore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshcore/crypto"
	"meshcore/session"
	"meshcore/transport"
	"meshcore/wire"
)

// inbox collects delivered payloads.
type inbox struct {
	mu       sync.Mutex
	messages [][]byte
	from     []session.PeerID
}

func (in *inbox) handler(peer session.PeerID, payload []byte) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.messages = append(in.messages, payload)
	in.from = append(in.from, peer)
}

func (in *inbox) count() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.messages)
}

func (in *inbox) last() []byte {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.messages) == 0 {
		return nil
	}
	return in.messages[len(in.messages)-1]
}

// tapTransport records outbound frames on their way to the wrapped
// transport.
type tapTransport struct {
	inner transport.Transport

	mu     sync.Mutex
	frames []transport.SentFrame
}

func (t *tapTransport) SendFrame(peer session.PeerID, frame []byte) error {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	t.mu.Lock()
	t.frames = append(t.frames, transport.SentFrame{Peer: peer, Frame: buf})
	t.mu.Unlock()
	return t.inner.SendFrame(peer, frame)
}

func (t *tapTransport) SetFrameHandler(h transport.FrameHandler) { t.inner.SetFrameHandler(h) }

func (t *tapTransport) Close() error { return t.inner.Close() }

func (t *tapTransport) sent() []transport.SentFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]transport.SentFrame, len(t.frames))
	copy(out, t.frames)
	return out
}

type testNode struct {
	mesh     *Mesh
	endpoint *transport.MemoryEndpoint
	tap      *tapTransport
	inbox    *inbox
	peer     session.PeerID
}

// newTestPair builds two engines joined by an in-memory link.
func newTestPair(t *testing.T, options *Options) (a, b *testNode) {
	t.Helper()

	build := func() (*crypto.Identity, session.PeerID) {
		identity, err := crypto.NewIdentity()
		require.NoError(t, err)
		peer, err := session.ParsePeerID(identity.Fingerprint()[:2*session.PeerIDSize])
		require.NoError(t, err)
		return identity, peer
	}
	identityA, peerA := build()
	identityB, peerB := build()

	ea, eb := transport.NewMemoryPair(peerA, peerB)

	makeNode := func(identity *crypto.Identity, peer session.PeerID, endpoint *transport.MemoryEndpoint) *testNode {
		tap := &tapTransport{inner: endpoint}
		opts := options
		if opts == nil {
			opts = DefaultOptions()
		}
		mesh, err := New(identity, tap, opts)
		require.NoError(t, err)
		in := &inbox{}
		mesh.OnMessage(in.handler)
		return &testNode{mesh: mesh, endpoint: endpoint, tap: tap, inbox: in, peer: peer}
	}

	a = makeNode(identityA, peerA, ea)
	b = makeNode(identityB, peerB, eb)
	return a, b
}

func TestEndToEndDelivery(t *testing.T) {
	a, b := newTestPair(t, nil)

	// First send has no session: it handshakes inline over the memory
	// link and drains the queue on completion.
	require.NoError(t, a.mesh.Send(b.peer, []byte("hello mesh")))
	require.Equal(t, 1, b.inbox.count())
	assert.Equal(t, []byte("hello mesh"), b.inbox.last())
	assert.Equal(t, 0, a.mesh.PendingDeliveries(b.peer))

	// The reverse direction rides the same session.
	require.NoError(t, b.mesh.Send(a.peer, []byte("hello back")))
	require.Equal(t, 1, a.inbox.count())
	assert.Equal(t, []byte("hello back"), a.inbox.last())

	// Subsequent sends reuse the established session.
	require.NoError(t, a.mesh.Send(b.peer, []byte("again")))
	assert.Equal(t, 2, b.inbox.count())
}

func TestLocalPeerDerivation(t *testing.T) {
	a, _ := newTestPair(t, nil)
	assert.Equal(t, a.peer, a.mesh.LocalPeer())
	assert.Equal(t, a.peer.String(), a.mesh.Fingerprint()[:2*session.PeerIDSize])
}

func TestReplayedFrameRejected(t *testing.T) {
	a, b := newTestPair(t, nil)

	require.NoError(t, a.mesh.Send(b.peer, []byte("one shot")))
	require.Equal(t, 1, b.inbox.count())

	// Find the data frame A put on the wire and play it at B again.
	var replayed []byte
	for _, sf := range a.tap.sent() {
		pkt, err := wire.ParsePacket(sf.Frame)
		require.NoError(t, err)
		if pkt.Type == wire.PacketSessionMessage {
			replayed = sf.Frame
		}
	}
	require.NotNil(t, replayed)

	require.NoError(t, a.endpoint.SendFrame(b.peer, replayed))

	// The duplicate never reaches the application and costs A standing.
	assert.Equal(t, 1, b.inbox.count())
	assert.Less(t, b.mesh.guard.Score(a.peer), 0)
}

func TestOfflineQueueAndFlush(t *testing.T) {
	a, b := newTestPair(t, nil)

	b.endpoint.SetOnline(false)
	require.NoError(t, a.mesh.Send(b.peer, []byte("patience")))
	assert.Equal(t, 1, a.mesh.PendingDeliveries(b.peer))
	assert.Equal(t, 0, b.inbox.count())

	// Peer comes back; the next flush handshakes and drains the queue.
	b.endpoint.SetOnline(true)
	a.mesh.FlushDeliveries()
	assert.Equal(t, 1, b.inbox.count())
	assert.Equal(t, []byte("patience"), b.inbox.last())
	assert.Equal(t, 0, a.mesh.PendingDeliveries(b.peer))
}

func TestQueuedTrafficReachesReturningPeer(t *testing.T) {
	a, b := newTestPair(t, nil)

	// B stores a message while A is unreachable.
	a.endpoint.SetOnline(false)
	require.NoError(t, b.mesh.Send(a.peer, []byte("held for you")))
	require.Equal(t, 1, b.mesh.PendingDeliveries(a.peer))

	// A returns and opens the session from its side. B flushes its
	// backlog the moment the handshake completes, which lands on A
	// before A's own handshake turn returns.
	a.endpoint.SetOnline(true)
	require.NoError(t, a.mesh.Send(b.peer, []byte("back online")))

	require.Equal(t, 1, a.inbox.count())
	assert.Equal(t, []byte("held for you"), a.inbox.last())
	assert.Equal(t, 0, b.mesh.PendingDeliveries(a.peer))
	assert.Equal(t, 1, b.inbox.count())

	// A must not have penalized B for delivering its backlog.
	assert.GreaterOrEqual(t, a.mesh.guard.Score(b.peer), 0)
	assert.True(t, a.mesh.guard.ShouldAllow(b.peer))

	// The channel stayed aligned: direct sends keep landing.
	require.NoError(t, b.mesh.Send(a.peer, []byte("follow up")))
	require.NoError(t, b.mesh.Send(a.peer, []byte("and another")))
	assert.Equal(t, 3, a.inbox.count())
	assert.Equal(t, []byte("and another"), a.inbox.last())
}

func TestGarbageFramesBanPeer(t *testing.T) {
	identity, err := crypto.NewIdentity()
	require.NoError(t, err)
	mock := transport.NewMockTransport()
	mesh, err := New(identity, mock, DefaultOptions())
	require.NoError(t, err)
	in := &inbox{}
	mesh.OnMessage(in.handler)

	var stranger session.PeerID
	stranger[0] = 0xEE

	// Unparseable frames are spam; two of them cross the ban threshold.
	mock.Inject(stranger, []byte{})
	mock.Inject(stranger, []byte{0x42, 0x01})

	assert.False(t, mesh.guard.ShouldAllow(stranger))
	assert.ErrorIs(t, mesh.Send(stranger, []byte("no")), ErrPeerBlocked)

	// Frames from the banned peer are dropped before processing.
	mock.Inject(stranger, []byte{0x42})
	assert.Equal(t, 0, in.count())
}

func TestMalformedHandshakePenalized(t *testing.T) {
	identity, err := crypto.NewIdentity()
	require.NoError(t, err)
	mock := transport.NewMockTransport()
	mesh, err := New(identity, mock, DefaultOptions())
	require.NoError(t, err)

	var stranger session.PeerID
	stranger[0] = 0xEF

	// A handshake init of the wrong size aborts the responder state.
	pkt := &wire.Packet{Type: wire.PacketHandshakeInit, Data: []byte("runt")}
	mock.Inject(stranger, pkt.Serialize())

	assert.Equal(t, -2, mesh.guard.Score(stranger))
	mesh.mu.Lock()
	assert.Empty(t, mesh.pending)
	mesh.mu.Unlock()
}

func TestHandshakeTimeoutSweep(t *testing.T) {
	identity, err := crypto.NewIdentity()
	require.NoError(t, err)
	tp := crypto.NewMockTimeProvider(time.Unix(1_700_000_000, 0))
	options := DefaultOptions()
	options.TimeProvider = tp

	// The mock transport accepts frames but nothing ever answers.
	mock := transport.NewMockTransport()
	mesh, err := New(identity, mock, options)
	require.NoError(t, err)

	var silent session.PeerID
	silent[0] = 0x51
	require.NoError(t, mesh.Send(silent, []byte("anyone there")))

	mesh.mu.Lock()
	assert.Len(t, mesh.pending, 1)
	mesh.mu.Unlock()
	initFrames := len(mock.Sent())

	// While the handshake is in flight, retries do not spray new inits.
	mesh.FlushDeliveries()
	assert.Len(t, mock.Sent(), initFrames)

	// Past the timeout the sweep discards it and the next flush starts
	// over.
	tp.Advance(DefaultHandshakeTimeout + time.Second)
	mesh.RunMaintenance()
	mesh.mu.Lock()
	assert.Empty(t, mesh.pending)
	mesh.mu.Unlock()

	tp.Advance(time.Hour)
	mesh.FlushDeliveries()
	assert.Greater(t, len(mock.Sent()), initFrames)
}

func TestEmergencyWipe(t *testing.T) {
	a, b := newTestPair(t, nil)

	require.NoError(t, a.mesh.Send(b.peer, []byte("before")))
	require.Equal(t, 1, b.inbox.count())

	b.endpoint.SetOnline(false)
	require.NoError(t, a.mesh.Send(b.peer, []byte("stranded")))
	require.Equal(t, 1, a.mesh.PendingDeliveries(b.peer))

	a.mesh.EmergencyWipe()
	assert.Equal(t, 0, a.mesh.PendingDeliveries(b.peer))
	assert.Equal(t, 0, a.mesh.sessions.Count())

	// Messaging still works after the wipe via a fresh handshake.
	b.endpoint.SetOnline(true)
	require.NoError(t, a.mesh.Send(b.peer, []byte("rebuilt")))
	a.mesh.FlushDeliveries()
	assert.Equal(t, []byte("rebuilt"), b.inbox.last())
}

func TestPeerRestartReplacesSession(t *testing.T) {
	a, b := newTestPair(t, nil)

	require.NoError(t, a.mesh.Send(b.peer, []byte("first life")))
	require.Equal(t, 1, b.inbox.count())

	// B loses all state but keeps its identity, as after a process
	// restart, and reaches out again.
	b.mesh.EmergencyWipe()
	require.NoError(t, b.mesh.Send(a.peer, []byte("second life")))
	assert.Equal(t, 1, a.inbox.count())
	assert.Equal(t, []byte("second life"), a.inbox.last())

	// Traffic keeps flowing on the replacement session.
	require.NoError(t, a.mesh.Send(b.peer, []byte("carry on")))
	assert.Equal(t, 2, b.inbox.count())
}

func TestStartStop(t *testing.T) {
	a, _ := newTestPair(t, nil)
	a.mesh.Start()
	a.mesh.Start() // idempotent
	a.mesh.Stop()
	a.mesh.Stop() // idempotent

	// The transport is closed once stopped.
	assert.ErrorIs(t, a.endpoint.SendFrame(a.peer, []byte("x")), transport.ErrPeerUnreachable)
}

func TestRestartCycle(t *testing.T) {
	identity, err := crypto.NewIdentity()
	require.NoError(t, err)
	mesh, err := New(identity, transport.NewMockTransport(), DefaultOptions())
	require.NoError(t, err)

	// Two full start/stop cycles; the engine must come back up cleanly
	// each time.
	mesh.Start()
	mesh.Stop()
	mesh.Start()
	mesh.Stop()

	mesh.mu.Lock()
	assert.False(t, mesh.running)
	mesh.mu.Unlock()
}
