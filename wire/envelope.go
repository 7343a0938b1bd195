package wire

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const (
	// EnvelopeTagSize is the HMAC-SHA256 tag length.
	EnvelopeTagSize = sha256.Size
	// MaxSessionIDLength caps the session identifier field.
	MaxSessionIDLength = 64

	envelopeFixedSize = 2 + 8 + 8 + 4 // sid len + sequence + timestamp + payload len
)

// Envelope is an authenticated message bound to a session. The tag is an
// HMAC-SHA256 over the canonical concatenation of session id, sequence
// number, timestamp and payload, exactly as they appear on the wire:
//
//	[u16 sidLen][sid][u64 sequence][u64 timestamp][u32 payloadLen][payload][tag]
type Envelope struct {
	SessionID string
	// Sequence must be strictly greater than the last accepted sequence
	// for the session; receivers reject replays and duplicates.
	Sequence  uint64
	Timestamp int64 // unix milliseconds
	Payload   []byte
}

// EncodeEnvelope serializes the envelope and appends its authentication
// tag computed under macKey.
func EncodeEnvelope(env *Envelope, macKey []byte) ([]byte, error) {
	if len(env.SessionID) > MaxSessionIDLength {
		return nil, fmt.Errorf("%w: session id %d bytes, cap %d", ErrFieldTooLong, len(env.SessionID), MaxSessionIDLength)
	}

	buf := make([]byte, 0, envelopeFixedSize+len(env.SessionID)+len(env.Payload)+EnvelopeTagSize)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(env.SessionID)))
	buf = append(buf, env.SessionID...)
	buf = binary.BigEndian.AppendUint64(buf, env.Sequence)
	buf = binary.BigEndian.AppendUint64(buf, uint64(env.Timestamp))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(env.Payload)))
	buf = append(buf, env.Payload...)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(buf)
	return mac.Sum(buf), nil
}

// DecodeEnvelope parses and authenticates an envelope. Bounds are checked
// before any field is read; the tag comparison is constant time.
func DecodeEnvelope(data []byte, macKey []byte) (*Envelope, error) {
	sid, offset, err := readUint16Field(data, 0, MaxSessionIDLength, "session id")
	if err != nil {
		return nil, err
	}

	if offset+8+8+4 > len(data) {
		return nil, fmt.Errorf("%w: missing envelope header", ErrTruncatedFrame)
	}
	sequence := binary.BigEndian.Uint64(data[offset : offset+8])
	offset += 8
	timestamp := int64(binary.BigEndian.Uint64(data[offset : offset+8]))
	offset += 8
	payloadLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4

	if payloadLen < 0 || offset+payloadLen+EnvelopeTagSize > len(data) {
		return nil, fmt.Errorf("%w: declared payload %d bytes, %d remaining", ErrTruncatedFrame, payloadLen, len(data)-offset)
	}
	payload := data[offset : offset+payloadLen]
	offset += payloadLen

	if offset+EnvelopeTagSize != len(data) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(data)-offset-EnvelopeTagSize)
	}
	tag := data[offset:]

	mac := hmac.New(sha256.New, macKey)
	mac.Write(data[:offset])
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return nil, ErrAuthenticationFailure
	}

	out := make([]byte, payloadLen)
	copy(out, payload)
	return &Envelope{
		SessionID: string(sid),
		Sequence:  sequence,
		Timestamp: timestamp,
		Payload:   out,
	}, nil
}
