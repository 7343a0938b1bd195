package meshcore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"meshcore/crypto"
	"meshcore/delivery"
	"meshcore/noise"
	"meshcore/reputation"
	"meshcore/session"
	"meshcore/transport"
	"meshcore/wire"
)

// ErrPeerBlocked indicates outbound traffic to a banned peer was
// refused.
var ErrPeerBlocked = errors.New("peer is blocked")

// MessageHandler receives decrypted, replay-checked application
// payloads.
type MessageHandler func(peer session.PeerID, payload []byte)

// pendingHandshake is one in-flight handshake with a peer.
type pendingHandshake struct {
	hs        *noise.Handshake
	startedAt time.Time
}

// Mesh ties identity, transport, sessions, delivery, and reputation into
// one engine.
type Mesh struct {
	identity  *crypto.Identity
	localPeer session.PeerID
	transport transport.Transport

	sessions *session.Store
	queue    *delivery.Queue
	guard    *reputation.Guard

	options      Options
	timeProvider crypto.TimeProvider

	mu        sync.Mutex
	pending   map[session.PeerID]*pendingHandshake
	onMessage MessageHandler
	running   bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates an engine bound to an identity and a transport. A nil
// options pointer selects defaults.
func New(identity *crypto.Identity, tr transport.Transport, options *Options) (*Mesh, error) {
	if identity == nil {
		return nil, errors.New("identity required")
	}
	if tr == nil {
		return nil, errors.New("transport required")
	}
	if options == nil {
		options = DefaultOptions()
	}
	options.normalize()

	localPeer, err := session.ParsePeerID(identity.Fingerprint()[:2*session.PeerIDSize])
	if err != nil {
		return nil, fmt.Errorf("cannot derive local peer ID: %w", err)
	}

	m := &Mesh{
		identity:     identity,
		localPeer:    localPeer,
		transport:    tr,
		sessions:     session.NewStoreWithTimeProvider(options.Session, options.TimeProvider),
		guard:        reputation.NewGuardWithTimeProvider(options.TimeProvider),
		options:      *options,
		timeProvider: options.TimeProvider,
		pending:      make(map[session.PeerID]*pendingHandshake),
		stopChan:     make(chan struct{}),
	}
	m.queue = delivery.NewQueueWithTimeProvider(options.Queue, m.deliverQueued, nil, options.TimeProvider)
	tr.SetFrameHandler(m.handleFrame)

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"peer":     localPeer.String(),
	}).Info("Mesh engine created")

	return m, nil
}

// LocalPeer returns this node's peer ID, the truncated identity
// fingerprint it announces on the wire.
func (m *Mesh) LocalPeer() session.PeerID {
	return m.localPeer
}

// Fingerprint returns the full hex identity fingerprint.
func (m *Mesh) Fingerprint() string {
	return m.identity.Fingerprint()
}

// OnMessage registers the handler for inbound application payloads.
func (m *Mesh) OnMessage(handler MessageHandler) {
	m.mu.Lock()
	m.onMessage = handler
	m.mu.Unlock()
}

// Start launches the background delivery and maintenance loops.
func (m *Mesh) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	// A fresh channel each start keeps restart cycles working; the old
	// one was closed by the previous Stop.
	m.stopChan = make(chan struct{})
	stop := m.stopChan
	m.mu.Unlock()

	m.wg.Add(2)
	go m.deliveryLoop(stop)
	go m.maintenanceLoop(stop)
}

// Stop halts the background loops and closes the transport.
func (m *Mesh) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop := m.stopChan
	m.mu.Unlock()

	close(stop)
	m.wg.Wait()
	if err := m.transport.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Stop",
			"error":    err.Error(),
		}).Warn("Transport close failed")
	}
}

// Send delivers a payload to a peer at normal priority.
func (m *Mesh) Send(peer session.PeerID, payload []byte) error {
	return m.SendPriority(peer, payload, delivery.PriorityNormal)
}

// SendPriority delivers a payload to a peer. With a live session the
// payload is sealed and transmitted immediately; otherwise it is queued
// and a handshake is started so the queue can drain once the session
// comes up. A transmit failure also falls back to the queue.
func (m *Mesh) SendPriority(peer session.PeerID, payload []byte, priority delivery.Priority) error {
	if !m.guard.ShouldAllow(peer) {
		return fmt.Errorf("%w: %s", ErrPeerBlocked, peer)
	}

	sess, err := m.sessions.LookupPeer(peer)
	if err == nil {
		if sendErr := m.transmit(sess, peer, payload); sendErr == nil {
			return nil
		} else if !errors.Is(sendErr, transport.ErrPeerUnreachable) {
			return sendErr
		}
	}

	if _, qErr := m.queue.Enqueue(peer, payload, priority); qErr != nil {
		return qErr
	}
	m.ensureHandshake(peer)
	return nil
}

// Whitelist exempts a peer from reputation penalties.
func (m *Mesh) Whitelist(peer session.PeerID) {
	m.guard.Whitelist(peer)
}

// PendingDeliveries returns the queued message count for a peer.
func (m *Mesh) PendingDeliveries(peer session.PeerID) int {
	return m.queue.Pending(peer)
}

// EmergencyWipe destroys every session, queued message, and in-flight
// handshake. The identity itself survives; rotating it is the caller's
// call.
func (m *Mesh) EmergencyWipe() {
	m.mu.Lock()
	m.pending = make(map[session.PeerID]*pendingHandshake)
	m.mu.Unlock()

	purged := m.sessions.Purge()
	cleared := m.queue.Clear()

	logrus.WithFields(logrus.Fields{
		"function": "EmergencyWipe",
		"sessions": purged,
		"queued":   cleared,
	}).Warn("Emergency wipe completed")
}

// transmit seals a payload on the session and hands the frame to the
// transport.
func (m *Mesh) transmit(sess *session.Session, peer session.PeerID, payload []byte) error {
	env := &wire.Envelope{
		SessionID: sess.ID(),
		Sequence:  sess.NextSequence(),
		Timestamp: m.timeProvider.Now().UnixMilli(),
		Payload:   payload,
	}
	encoded, err := wire.EncodeEnvelope(env, sess.MACKey())
	if err != nil {
		return fmt.Errorf("envelope encoding failed: %w", err)
	}
	sealed, err := sess.Seal(encoded)
	if err != nil {
		return fmt.Errorf("session seal failed: %w", err)
	}

	pkt := &wire.Packet{Type: wire.PacketSessionMessage, Data: sealed}
	return m.transport.SendFrame(peer, pkt.Serialize())
}

/// deliverQueued is the delivery queue's send hook: it only succeeds once
// a live session exists.
func (m *Mesh) deliverQueued(msg *delivery.Message) error {
	sess, err := m.sessions.LookupPeer(msg.Recipient)
	if err != nil {
		m.ensureHandshake(msg.Recipient)
		return fmt.Errorf("no session yet: %w", err)
	}
	return m.transmit(sess, msg.Recipient, msg.Payload)
}

// ensureHandshake starts an initiator handshake with the peer unless one
// is already in flight.
func (m *Mesh) ensureHandshake(peer session.PeerID) {
	m.mu.Lock()
	if _, inFlight := m.pending[peer]; inFlight {
		m.mu.Unlock()
		return
	}

	hs, err := noise.NewHandshake(noise.Initiator, m.identity.Agreement)
	if err != nil {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "ensureHandshake",
			"peer":     peer.String(),
			"error":    err.Error(),
		}).Error("Cannot create handshake")
		return
	}
	msg0, err := hs.WriteMessage()
	if err != nil {
		m.mu.Unlock()
		return
	}
	m.pending[peer] = &pendingHandshake{hs: hs, startedAt: m.timeProvider.Now()}
	m.mu.Unlock()

	pkt := &wire.Packet{Type: wire.PacketHandshakeInit, Data: msg0}
	if err := m.transport.SendFrame(peer, pkt.Serialize()); err != nil {
		// The init never left, so a later delivery attempt must be free
		// to start over.
		m.mu.Lock()
		delete(m.pending, peer)
		m.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "ensureHandshake",
			"peer":     peer.String(),
			"error":    err.Error(),
		}).Debug("Handshake init not delivered, will retry with queue")
	}
}

// handleFrame is the transport inbound entry point.
func (m *Mesh) handleFrame(peer session.PeerID, frame []byte) {
	if !m.guard.ShouldAllow(peer) {
		logrus.WithFields(logrus.Fields{
			"function": "handleFrame",
			"peer":     peer.String(),
		}).Debug("Frame from blocked peer dropped")
		return
	}

	pkt, err := wire.ParsePacket(frame)
	if err != nil {
		m.guard.RecordSpam(peer)
		return
	}

	switch pkt.Type {
	case wire.PacketHandshakeInit, wire.PacketHandshakeResponse, wire.PacketHandshakeFinish:
		m.handleHandshakeFrame(peer, pkt)
	case wire.PacketSessionMessage:
		m.handleSessionMessage(peer, pkt.Data)
	default:
		m.guard.RecordSpam(peer)
	}
}

// handleHandshakeFrame advances the per-peer handshake state machine.
// Order violations and authentication failures discard the partial state
// and count against the peer.
func (m *Mesh) handleHandshakeFrame(peer session.PeerID, pkt *wire.Packet) {
	m.mu.Lock()

	p := m.pending[peer]
	if pkt.Type == wire.PacketHandshakeInit {
		// A fresh init always supersedes whatever was in flight; the
		// peer evidently restarted.
		hs, err := noise.NewHandshake(noise.Responder, m.identity.Agreement)
		if err != nil {
			m.mu.Unlock()
			return
		}
		p = &pendingHandshake{hs: hs, startedAt: m.timeProvider.Now()}
		m.pending[peer] = p
	}
	if p == nil {
		m.mu.Unlock()
		m.guard.RecordSpam(peer)
		return
	}

	if err := p.hs.ReadMessage(pkt.Data); err != nil {
		delete(m.pending, peer)
		m.mu.Unlock()
		m.guard.RecordHandshakeFailure(peer)
		logrus.WithFields(logrus.Fields{
			"function": "handleHandshakeFrame",
			"peer":     peer.String(),
			"type":     pkt.Type.String(),
			"error":    err.Error(),
		}).Warn("Handshake message rejected")
		return
	}

	// Produce our reply, if the pattern calls for one.
	var reply *wire.Packet
	if !p.hs.IsComplete() {
		msg, err := p.hs.WriteMessage()
		if err != nil {
			delete(m.pending, peer)
			m.mu.Unlock()
			m.guard.RecordHandshakeFailure(peer)
			return
		}
		switch p.hs.MessageIndex() {
		case 2:
			reply = &wire.Packet{Type: wire.PacketHandshakeResponse, Data: msg}
		case 3:
			reply = &wire.Packet{Type: wire.PacketHandshakeFinish, Data: msg}
		}
	}

	complete := p.hs.IsComplete()
	if complete {
		delete(m.pending, peer)
	}
	m.mu.Unlock()

	// The completing side must hold a live session before its final
	// frame reaches the peer. The peer establishes on consuming that
	// frame and may flush queued traffic straight back; without the
	// session in place those frames would be dropped unread and their
	// nonces lost.
	if complete && !m.establishSession(peer, p.hs) {
		return
	}
	if reply != nil {
		if err := m.transport.SendFrame(peer, reply.Serialize()); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleHandshakeFrame",
				"peer":     peer.String(),
				"error":    err.Error(),
			}).Warn("Handshake reply not delivered")
			return
		}
	}
	// Our own backlog drains only after the final frame is on the wire,
	// so the peer never sees data for a session it has not finished.
	if complete && m.queue.Pending(peer) > 0 {
		m.queue.Tick()
	}
}

// establishSession turns a completed handshake into a session. A stale
// live session is replaced: the peer proved fresh key possession, so the
// old channel is dead weight. Queued traffic is drained by the caller
// once the handshake exchange is fully on the wire.
func (m *Mesh) establishSession(peer session.PeerID, hs *noise.Handshake) bool {
	sess, err := m.sessions.Establish(peer, hs)
	if errors.Is(err, session.ErrSessionExists) {
		m.sessions.TerminateAll(peer)
		sess, err = m.sessions.Establish(peer, hs)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "establishSession",
			"peer":     peer.String(),
			"error":    err.Error(),
		}).Error("Session establishment failed")
		return false
	}

	logrus.WithFields(logrus.Fields{
		"function":   "establishSession",
		"peer":       peer.String(),
		"session_id": sess.ID(),
		"queued":     m.queue.Pending(peer),
	}).Info("Secure session up")
	return true
}

// handleSessionMessage decrypts, authenticates, and replay-checks one
// inbound data frame. Failures penalize the peer but never tear down the
// session.
func (m *Mesh) handleSessionMessage(peer session.PeerID, data []byte) {
	sess, err := m.sessions.LookupPeer(peer)
	if err != nil {
		// No penalty: a data frame can legitimately race session
		// establishment, and each one is authenticated downstream
		// anyway. Drop it and let the sender's retry path recover.
		logrus.WithFields(logrus.Fields{
			"function": "handleSessionMessage",
			"peer":     peer.String(),
		}).Debug("Data frame for unknown session dropped")
		return
	}

	plaintext, err := sess.Open(data)
	if err != nil {
		m.guard.RecordSpam(peer)
		logrus.WithFields(logrus.Fields{
			"function": "handleSessionMessage",
			"peer":     peer.String(),
			"error":    err.Error(),
		}).Warn("Inbound frame failed authentication")
		return
	}

	env, err := wire.DecodeEnvelope(plaintext, sess.MACKey())
	if err != nil {
		m.guard.RecordSpam(peer)
		return
	}

	if err := m.sessions.VerifyAndAdvance(sess.ID(), env.Sequence); err != nil {
		m.guard.RecordSpam(peer)
		logrus.WithFields(logrus.Fields{
			"function": "handleSessionMessage",
			"peer":     peer.String(),
			"sequence": env.Sequence,
			"error":    err.Error(),
		}).Warn("Inbound frame rejected")
		return
	}

	m.guard.RecordSuccess(peer)

	m.mu.Lock()
	handler := m.onMessage
	m.mu.Unlock()
	if handler != nil {
		handler(peer, env.Payload)
	}
}

// FlushDeliveries attempts every due queued message immediately. The
// delivery loop calls this on its interval; callers may also invoke it
// when a peer is known to have reappeared. Returns the number delivered.
func (m *Mesh) FlushDeliveries() int {
	return m.queue.Tick()
}

// RunMaintenance sweeps expired sessions, renews those close to expiry,
// drops stale reputation records, and discards abandoned handshakes. The
// maintenance loop calls this on its interval.
func (m *Mesh) RunMaintenance() {
	m.sessions.Cleanup()
	m.sessions.AutoRenew()
	m.guard.Cleanup()
	m.sweepHandshakes()
}

// deliveryLoop drives the retry queue.
func (m *Mesh) deliveryLoop(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.options.DeliveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.FlushDeliveries()
		case <-stop:
			return
		}
	}
}

// maintenanceLoop runs the periodic sweeps.
func (m *Mesh) maintenanceLoop(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.options.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.RunMaintenance()
		case <-stop:
			return
		}
	}
}

// sweepHandshakes discards handshakes that made no progress within the
// timeout.
func (m *Mesh) sweepHandshakes() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.timeProvider.Now()
	for peer, p := range m.pending {
		if now.Sub(p.startedAt) > m.options.HandshakeTimeout {
			delete(m.pending, peer)
			logrus.WithFields(logrus.Fields{
				"function": "sweepHandshakes",
				"peer":     peer.String(),
			}).Debug("Abandoned handshake discarded")
		}
	}
}
