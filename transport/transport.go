// Package transport defines how the engine moves frames between peers.
// The engine never touches a socket; concrete transports (radio, BLE
// bridge, TCP relay) implement this interface and call the registered
// handler for inbound frames.
package transport

import (
	"errors"

	"meshcore/session"
)

// ErrPeerUnreachable indicates a frame could not be handed to the peer.
var ErrPeerUnreachable = errors.New("peer unreachable")

// FrameHandler consumes one inbound frame from a peer.
type FrameHandler func(peer session.PeerID, frame []byte)

// Transport moves opaque frames between this node and its peers.
// Implementations must be safe for concurrent use and must not retain
// the frame slice after SendFrame returns.
type Transport interface {
	// SendFrame hands one frame to the peer. A non-nil error means the
	// frame was not delivered and the caller may queue it for retry.
	SendFrame(peer session.PeerID, frame []byte) error

	// SetFrameHandler registers the inbound frame callback. Frames
	// arriving before a handler is set are dropped.
	SetFrameHandler(handler FrameHandler)

	// Close releases transport resources.
	Close() error
}
