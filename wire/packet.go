package wire

// PacketType identifies the kind of frame carried over a transport.
type PacketType byte

const (
	// PacketHandshakeInit is handshake message 0 (initiator ephemeral).
	PacketHandshakeInit PacketType = 0x10
	// PacketHandshakeResponse is handshake message 1 (responder ephemeral
	// plus encrypted static key).
	PacketHandshakeResponse PacketType = 0x11
	// PacketHandshakeFinish is handshake message 2 (initiator encrypted
	// static key).
	PacketHandshakeFinish PacketType = 0x12
	// PacketSessionMessage carries an AEAD-sealed authenticated envelope
	// for an established session.
	PacketSessionMessage PacketType = 0x13
)

// Packet is the outermost frame exchanged with a transport: a one-byte
// type tag followed by the opaque payload.
type Packet struct {
	Type PacketType
	Data []byte
}

// Serialize converts the packet to its wire form.
func (p *Packet) Serialize() []byte {
	buf := make([]byte, 1+len(p.Data))
	buf[0] = byte(p.Type)
	copy(buf[1:], p.Data)
	return buf
}

// ParsePacket decodes a packet from wire bytes.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, ErrEmptyFrame
	}
	payload := make([]byte, len(data)-1)
	copy(payload, data[1:])
	return &Packet{
		Type: PacketType(data[0]),
		Data: payload,
	}, nil
}

// IsHandshake reports whether the type tags one of the three handshake
// messages.
func (t PacketType) IsHandshake() bool {
	return t == PacketHandshakeInit || t == PacketHandshakeResponse || t == PacketHandshakeFinish
}

// String returns a human-readable name for logging.
func (t PacketType) String() string {
	switch t {
	case PacketHandshakeInit:
		return "handshake_init"
	case PacketHandshakeResponse:
		return "handshake_response"
	case PacketHandshakeFinish:
		return "handshake_finish"
	case PacketSessionMessage:
		return "session_message"
	default:
		return "unknown"
	}
}
