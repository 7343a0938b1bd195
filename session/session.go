package session

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"meshcore/crypto"
)

// PeerIDSize is the length of a raw peer identifier.
const PeerIDSize = 8

// PeerID identifies a mesh peer. It is the truncated fingerprint a peer
// announces on the wire, 8 raw bytes.
type PeerID [PeerIDSize]byte

// ParsePeerID decodes a 16-character hex peer identifier.
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid peer ID %q: %w", s, err)
	}
	if len(raw) != PeerIDSize {
		return id, fmt.Errorf("invalid peer ID length: got %d bytes, want %d", len(raw), PeerIDSize)
	}
	copy(id[:], raw)
	return id, nil
}

// PeerIDFromBytes builds a PeerID from raw wire bytes.
func PeerIDFromBytes(b []byte) (PeerID, error) {
	var id PeerID
	if len(b) != PeerIDSize {
		return id, fmt.Errorf("invalid peer ID length: got %d bytes, want %d", len(b), PeerIDSize)
	}
	copy(id[:], b)
	return id, nil
}

// String returns the hex form used in logs and wire envelopes.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// Session is one established encrypted channel to a peer. All fields
// besides the atomic sequence counter are guarded by the owning Store's
// lock.
type Session struct {
	id              string
	peer            PeerID
	remoteStaticKey [32]byte

	send   *crypto.CipherChannel
	recv   *crypto.CipherChannel
	macKey []byte

	createdAt    time.Time
	expiresAt    time.Time
	lastActivity time.Time

	localSeq         atomic.Uint64
	highestRemoteSeq uint64
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Peer returns the remote peer this session is bound to.
func (s *Session) Peer() PeerID {
	return s.peer
}

// RemoteStaticKey returns the peer's authenticated static public key.
func (s *Session) RemoteStaticKey() [32]byte {
	return s.remoteStaticKey
}

// CreatedAt returns when the session was established.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// ExpiresAt returns the current expiry deadline.
func (s *Session) ExpiresAt() time.Time {
	return s.expiresAt
}

// NextSequence reserves the next outbound sequence number. Sequence
// numbers start at 1; the peer's replay check rejects anything that does
// not strictly increase.
func (s *Session) NextSequence() uint64 {
	return s.localSeq.Add(1)
}

// Seal encrypts an outbound payload on this session's send channel.
func (s *Session) Seal(plaintext []byte) ([]byte, error) {
	if s.send == nil {
		return nil, errors.New("session has been terminated")
	}
	return s.send.Encrypt(plaintext)
}

// Open decrypts an inbound payload on this session's receive channel.
func (s *Session) Open(ciphertext []byte) ([]byte, error) {
	if s.recv == nil {
		return nil, errors.New("session has been terminated")
	}
	return s.recv.Decrypt(ciphertext)
}

// MACKey returns the envelope authentication key for this session.
func (s *Session) MACKey() []byte {
	key := make([]byte, len(s.macKey))
	copy(key, s.macKey)
	return key
}

// wipe destroys the session's key material. Called under the store lock;
// a wiped session never decrypts again.
func (s *Session) wipe() {
	if s.send != nil {
		s.send.Wipe()
		s.send = nil
	}
	if s.recv != nil {
		s.recv.Wipe()
		s.recv = nil
	}
	crypto.ZeroBytes(s.macKey)
	s.macKey = nil
}
