// Package reputation scores peer behavior and blocks abusive peers. Each
// peer accumulates penalties for failed handshakes and spam and small
// rewards for successful deliveries; crossing the ban threshold silences
// the peer for a fixed window.
package reputation

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"meshcore/crypto"
	"meshcore/session"
)

// Scoring constants.
const (
	// PenaltyHandshakeFailure is applied when a peer's handshake aborts.
	PenaltyHandshakeFailure = -2
	// PenaltySpam is applied for malformed or replayed traffic.
	PenaltySpam = -5
	// RewardSuccess is applied for a successful authenticated delivery.
	RewardSuccess = 1
	// MaxScore caps accumulated goodwill so a long-lived peer cannot
	// bank unlimited credit against future abuse.
	MaxScore = 10
	// BanThreshold bans a peer once its score falls this low.
	BanThreshold = -10
	// BanDuration is how long a ban lasts.
	BanDuration = 15 * time.Minute
	// RecordRetention is how long an idle peer's record is kept.
	RecordRetention = 24 * time.Hour
)

// record tracks one peer's standing.
type record struct {
	score             int
	handshakeFailures int
	spamCount         int
	lastSeen          time.Time
	whitelisted       bool
	bannedUntil       time.Time
}

// Guard is the mutex-guarded reputation table.
type Guard struct {
	mu      sync.RWMutex
	records map[session.PeerID]*record

	timeProvider crypto.TimeProvider
}

// NewGuard creates a reputation guard.
func NewGuard() *Guard {
	return NewGuardWithTimeProvider(crypto.NewDefaultTimeProvider())
}

// NewGuardWithTimeProvider creates a guard with injectable time for
// testing.
func NewGuardWithTimeProvider(tp crypto.TimeProvider) *Guard {
	return &Guard{
		records:      make(map[session.PeerID]*record),
		timeProvider: tp,
	}
}

// ShouldAllow reports whether traffic from the peer may be processed.
// Whitelisted peers are always allowed; banned or threshold-crossing
// peers are not.
func (g *Guard) ShouldAllow(peer session.PeerID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.records[peer]
	if !ok {
		return true
	}
	if rec.whitelisted {
		return true
	}
	if !rec.bannedUntil.IsZero() {
		// Once a ban is on record its window alone gates the peer;
		// a served ban admits traffic again without waiting for the
		// cleanup sweep to reset the score.
		return !g.timeProvider.Now().Before(rec.bannedUntil)
	}
	return rec.score > BanThreshold
}

// RecordHandshakeFailure penalizes a peer whose handshake aborted.
func (g *Guard) RecordHandshakeFailure(peer session.PeerID) {
	g.penalize(peer, PenaltyHandshakeFailure, func(rec *record) {
		rec.handshakeFailures++
	})
}

// RecordSpam penalizes a peer for malformed or replayed traffic.
func (g *Guard) RecordSpam(peer session.PeerID) {
	g.penalize(peer, PenaltySpam, func(rec *record) {
		rec.spamCount++
	})
}

// RecordSuccess rewards a peer for an authenticated delivery. The score
// never rises above MaxScore.
func (g *Guard) RecordSuccess(peer session.PeerID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.recordLocked(peer)
	rec.score += RewardSuccess
	if rec.score > MaxScore {
		rec.score = MaxScore
	}
	rec.lastSeen = g.timeProvider.Now()
}

// Whitelist exempts a peer from penalties and bans and lifts any active
// ban.
func (g *Guard) Whitelist(peer session.PeerID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.recordLocked(peer)
	rec.whitelisted = true
	rec.bannedUntil = time.Time{}

	logrus.WithFields(logrus.Fields{
		"function": "Whitelist",
		"peer":     peer.String(),
	}).Info("Peer whitelisted")
}

// Score returns a peer's current score. Unknown peers score zero.
func (g *Guard) Score(peer session.PeerID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if rec, ok := g.records[peer]; ok {
		return rec.score
	}
	return 0
}

// IsBanned reports whether a peer is inside an active ban window.
func (g *Guard) IsBanned(peer session.PeerID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.records[peer]
	if !ok {
		return false
	}
	return g.timeProvider.Now().Before(rec.bannedUntil)
}

// Cleanup drops expired bans and forgets non-whitelisted peers idle past
// the retention window. Returns the number of records removed.
func (g *Guard) Cleanup() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.timeProvider.Now()
	removed := 0
	for peer, rec := range g.records {
		if !rec.bannedUntil.IsZero() && !now.Before(rec.bannedUntil) {
			// Ban served; the peer starts over.
			rec.bannedUntil = time.Time{}
			rec.score = 0
		}
		if !rec.whitelisted && now.Sub(rec.lastSeen) > RecordRetention {
			delete(g.records, peer)
			removed++
		}
	}
	return removed
}

// penalize applies a negative adjustment and bans on threshold crossing.
// Whitelisted peers only get their counters bumped.
func (g *Guard) penalize(peer session.PeerID, penalty int, count func(*record)) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.recordLocked(peer)
	count(rec)
	rec.lastSeen = g.timeProvider.Now()
	if rec.whitelisted {
		return
	}

	rec.score += penalty
	if rec.score <= BanThreshold && !g.timeProvider.Now().Before(rec.bannedUntil) {
		rec.bannedUntil = g.timeProvider.Now().Add(BanDuration)

		logrus.WithFields(logrus.Fields{
			"function":     "penalize",
			"peer":         peer.String(),
			"score":        rec.score,
			"banned_until": rec.bannedUntil,
		}).Warn("Peer banned")
	}
}

// recordLocked returns the peer's record, creating it on first sight.
// Caller holds the write lock.
func (g *Guard) recordLocked(peer session.PeerID) *record {
	rec, ok := g.records[peer]
	if !ok {
		rec = &record{lastSeen: g.timeProvider.Now()}
		g.records[peer] = rec
	}
	return rec
}
