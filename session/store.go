package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meshcore/crypto"
	"meshcore/noise"
)

var (
	// ErrSessionNotFound indicates no session exists with the given ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates the session's lifetime elapsed; it has
	// been purged and the peers must handshake again.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionExists indicates the peer already has a live session.
	ErrSessionExists = errors.New("session already exists for peer")
	// ErrReplayDetected indicates an inbound sequence number at or below
	// the highest already accepted for the session.
	ErrReplayDetected = errors.New("replay detected: sequence number not monotonic")
)

const (
	// DefaultSessionLifetime is how long an established session stays
	// valid without renewal.
	DefaultSessionLifetime = 1 * time.Hour
	// DefaultRenewalThreshold is how close to expiry a session must be
	// before the renewal sweep extends it.
	DefaultRenewalThreshold = 10 * time.Minute
)

// Config controls session lifetime management.
type Config struct {
	SessionLifetime  time.Duration
	RenewalThreshold time.Duration
}

// DefaultConfig returns the standard lifetime settings.
func DefaultConfig() Config {
	return Config{
		SessionLifetime:  DefaultSessionLifetime,
		RenewalThreshold: DefaultRenewalThreshold,
	}
}

// Store tracks every established session, indexed by session ID and by
// peer. One live session per peer; expired sessions are purged lazily on
// lookup and by the Cleanup sweep.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byPeer   map[PeerID]string

	config       Config
	timeProvider crypto.TimeProvider
}

// NewStore creates a session store with the given config.
func NewStore(config Config) *Store {
	return NewStoreWithTimeProvider(config, crypto.NewDefaultTimeProvider())
}

// NewStoreWithTimeProvider creates a session store with injectable time
// for testing.
func NewStoreWithTimeProvider(config Config, tp crypto.TimeProvider) *Store {
	if config.SessionLifetime <= 0 {
		config.SessionLifetime = DefaultSessionLifetime
	}
	if config.RenewalThreshold <= 0 {
		config.RenewalThreshold = DefaultRenewalThreshold
	}
	return &Store{
		sessions:     make(map[string]*Session),
		byPeer:       make(map[PeerID]string),
		config:       config,
		timeProvider: tp,
	}
}

// Establish creates a session from a completed handshake. A peer with a
// live session is rejected; an expired one is replaced.
func (st *Store) Establish(peer PeerID, hs *noise.Handshake) (*Session, error) {
	send, recv, err := hs.Channels()
	if err != nil {
		return nil, fmt.Errorf("cannot establish session: %w", err)
	}
	macKey, err := hs.MACKey()
	if err != nil {
		return nil, fmt.Errorf("cannot establish session: %w", err)
	}
	remoteStatic, err := hs.RemoteStaticKey()
	if err != nil {
		return nil, fmt.Errorf("cannot establish session: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.timeProvider.Now()
	if existingID, ok := st.byPeer[peer]; ok {
		existing := st.sessions[existingID]
		if now.Before(existing.expiresAt) {
			return nil, fmt.Errorf("%w: %s", ErrSessionExists, peer)
		}
		st.removeLocked(existing)
	}

	sess := &Session{
		id:              uuid.NewString(),
		peer:            peer,
		remoteStaticKey: remoteStatic,
		send:            send,
		recv:            recv,
		macKey:          macKey,
		createdAt:       now,
		expiresAt:       now.Add(st.config.SessionLifetime),
		lastActivity:    now,
	}
	st.sessions[sess.id] = sess
	st.byPeer[peer] = sess.id

	logrus.WithFields(logrus.Fields{
		"function":   "Establish",
		"peer":       peer.String(),
		"session_id": sess.id,
		"expires_at": sess.expiresAt,
	}).Info("Session established")

	return sess, nil
}

// Lookup returns the session with the given ID. Expired sessions are
// purged on the spot and reported as ErrSessionExpired.
func (st *Store) Lookup(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if !st.timeProvider.Now().Before(sess.expiresAt) {
		st.removeLocked(sess)
		return nil, fmt.Errorf("%w: %s", ErrSessionExpired, id)
	}
	return sess, nil
}

// LookupPeer returns the live session for a peer, if any.
func (st *Store) LookupPeer(peer PeerID) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	id, ok := st.byPeer[peer]
	if !ok {
		return nil, fmt.Errorf("%w: peer %s", ErrSessionNotFound, peer)
	}
	sess := st.sessions[id]
	if !st.timeProvider.Now().Before(sess.expiresAt) {
		st.removeLocked(sess)
		return nil, fmt.Errorf("%w: peer %s", ErrSessionExpired, peer)
	}
	return sess, nil
}

// VerifyAndAdvance atomically checks an inbound sequence number and, if
// it strictly exceeds the highest accepted so far, records it and bumps
// the session's activity time. Anything else is a replay.
func (st *Store) VerifyAndAdvance(id string, seq uint64) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	now := st.timeProvider.Now()
	if !now.Before(sess.expiresAt) {
		st.removeLocked(sess)
		return fmt.Errorf("%w: %s", ErrSessionExpired, id)
	}
	if seq <= sess.highestRemoteSeq {
		return fmt.Errorf("%w: got %d, highest accepted %d", ErrReplayDetected, seq, sess.highestRemoteSeq)
	}
	sess.highestRemoteSeq = seq
	sess.lastActivity = now
	return nil
}

// Renew extends an unexpired session by a full lifetime.
func (st *Store) Renew(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.renewLocked(id)
}

func (st *Store) renewLocked(id string) error {
	sess, ok := st.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	now := st.timeProvider.Now()
	if !now.Before(sess.expiresAt) {
		st.removeLocked(sess)
		return fmt.Errorf("%w: %s", ErrSessionExpired, id)
	}
	sess.expiresAt = now.Add(st.config.SessionLifetime)

	logrus.WithFields(logrus.Fields{
		"function":   "Renew",
		"session_id": id,
		"expires_at": sess.expiresAt,
	}).Debug("Session renewed")
	return nil
}

// AutoRenew extends every live session that is within the renewal
// threshold of expiry. Returns the number renewed.
func (st *Store) AutoRenew() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.timeProvider.Now()
	renewed := 0
	for id, sess := range st.sessions {
		if !now.Before(sess.expiresAt) {
			continue
		}
		if sess.expiresAt.Sub(now) <= st.config.RenewalThreshold {
			if err := st.renewLocked(id); err == nil {
				renewed++
			}
		}
	}
	return renewed
}

// Terminate destroys a session and its key material.
func (st *Store) Terminate(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	st.removeLocked(sess)

	logrus.WithFields(logrus.Fields{
		"function":   "Terminate",
		"session_id": id,
		"peer":       sess.peer.String(),
	}).Info("Session terminated")
	return nil
}

// TerminateAll destroys every session bound to a peer. Returns the
// number destroyed.
func (st *Store) TerminateAll(peer PeerID) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	terminated := 0
	for _, sess := range st.sessions {
		if sess.peer == peer {
			st.removeLocked(sess)
			terminated++
		}
	}
	return terminated
}

// Cleanup purges every expired session. Returns the number purged.
func (st *Store) Cleanup() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.timeProvider.Now()
	purged := 0
	for _, sess := range st.sessions {
		if !now.Before(sess.expiresAt) {
			st.removeLocked(sess)
			purged++
		}
	}
	if purged > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Cleanup",
			"purged":   purged,
		}).Debug("Expired sessions purged")
	}
	return purged
}

// Purge destroys every session regardless of expiry. Used on identity
// wipe. Returns the number destroyed.
func (st *Store) Purge() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	purged := 0
	for _, sess := range st.sessions {
		st.removeLocked(sess)
		purged++
	}
	return purged
}

// Count returns the number of tracked sessions, expired or not.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// removeLocked unlinks and wipes a session. Caller holds the write lock.
func (st *Store) removeLocked(sess *Session) {
	delete(st.sessions, sess.id)
	if st.byPeer[sess.peer] == sess.id {
		delete(st.byPeer, sess.peer)
	}
	sess.wipe()
}
