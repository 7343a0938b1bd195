package transport

import (
	"sync"

	"meshcore/session"
)

// SentFrame records one frame handed to a MockTransport.
type SentFrame struct {
	Peer  session.PeerID
	Frame []byte
}

// MockTransport records outbound frames and lets tests inject inbound
// ones.
type MockTransport struct {
	mu      sync.Mutex
	sent    []SentFrame
	handler FrameHandler

	// SendErr, when set, is returned from every SendFrame call.
	SendErr error
}

// NewMockTransport creates an empty mock.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// SendFrame records the frame.
func (m *MockTransport) SendFrame(peer session.PeerID, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SendErr != nil {
		return m.SendErr
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	m.sent = append(m.sent, SentFrame{Peer: peer, Frame: buf})
	return nil
}

// SetFrameHandler registers the inbound frame callback.
func (m *MockTransport) SetFrameHandler(handler FrameHandler) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

// Close is a no-op.
func (m *MockTransport) Close() error { return nil }

// Inject feeds a frame to the registered handler.
func (m *MockTransport) Inject(from session.PeerID, frame []byte) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()

	if handler != nil {
		handler(from, frame)
	}
}

// Sent returns a snapshot of every recorded frame.
func (m *MockTransport) Sent() []SentFrame {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SentFrame, len(m.sent))
	copy(out, m.sent)
	return out
}

// Reset clears the recorded frames.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}
