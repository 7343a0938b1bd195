package transport

import (
	"fmt"
	"sync"

	"meshcore/session"
)

// MemoryEndpoint is one end of an in-process transport link. Frames sent
// here arrive synchronously at the linked endpoint's handler. An
// endpoint can be taken offline to simulate an unreachable peer.
type MemoryEndpoint struct {
	mu      sync.RWMutex
	local   session.PeerID
	links   map[session.PeerID]*MemoryEndpoint
	handler FrameHandler
	online  bool
	closed  bool
}

// NewMemoryEndpoint creates an unlinked endpoint for the given peer ID.
func NewMemoryEndpoint(local session.PeerID) *MemoryEndpoint {
	return &MemoryEndpoint{
		local:  local,
		links:  make(map[session.PeerID]*MemoryEndpoint),
		online: true,
	}
}

// NewMemoryPair creates two endpoints linked to each other.
func NewMemoryPair(a, b session.PeerID) (*MemoryEndpoint, *MemoryEndpoint) {
	ea := NewMemoryEndpoint(a)
	eb := NewMemoryEndpoint(b)
	Link(ea, eb)
	return ea, eb
}

// Link connects two endpoints so each can reach the other.
func Link(a, b *MemoryEndpoint) {
	a.mu.Lock()
	a.links[b.local] = b
	a.mu.Unlock()
	b.mu.Lock()
	b.links[a.local] = a
	b.mu.Unlock()
}

// LocalPeer returns this endpoint's peer ID.
func (e *MemoryEndpoint) LocalPeer() session.PeerID {
	return e.local
}

// SetOnline controls whether frames can leave or reach this endpoint.
func (e *MemoryEndpoint) SetOnline(online bool) {
	e.mu.Lock()
	e.online = online
	e.mu.Unlock()
}

// SendFrame delivers a frame to the linked peer's handler.
func (e *MemoryEndpoint) SendFrame(peer session.PeerID, frame []byte) error {
	e.mu.RLock()
	remote, linked := e.links[peer]
	online := e.online && !e.closed
	e.mu.RUnlock()

	if !online {
		return fmt.Errorf("%w: local endpoint offline", ErrPeerUnreachable)
	}
	if !linked {
		return fmt.Errorf("%w: no link to %s", ErrPeerUnreachable, peer)
	}
	return remote.deliver(e.local, frame)
}

// deliver hands a frame to this endpoint's handler as if it arrived off
// the air.
func (e *MemoryEndpoint) deliver(from session.PeerID, frame []byte) error {
	e.mu.RLock()
	handler := e.handler
	online := e.online && !e.closed
	e.mu.RUnlock()

	if !online {
		return fmt.Errorf("%w: %s offline", ErrPeerUnreachable, e.local)
	}
	if handler == nil {
		return nil
	}

	// Hand the handler its own copy; senders may reuse the slice.
	buf := make([]byte, len(frame))
	copy(buf, frame)
	handler(from, buf)
	return nil
}

// SetFrameHandler registers the inbound frame callback.
func (e *MemoryEndpoint) SetFrameHandler(handler FrameHandler) {
	e.mu.Lock()
	e.handler = handler
	e.mu.Unlock()
}

// Close takes the endpoint permanently offline.
func (e *MemoryEndpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}
