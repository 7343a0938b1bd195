package wire

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMacKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEnvelopeRoundTrip(t *testing.T) {
	key := testMacKey(t)
	env := &Envelope{
		SessionID: "a1b2c3d4-session",
		Sequence:  42,
		Timestamp: time.Now().UnixMilli(),
		Payload:   []byte("the quick brown fox"),
	}

	encoded, err := EncodeEnvelope(env, key)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(encoded, key)
	require.NoError(t, err)
	assert.Equal(t, env.SessionID, decoded.SessionID)
	assert.Equal(t, env.Sequence, decoded.Sequence)
	assert.Equal(t, env.Timestamp, decoded.Timestamp)
	assert.Equal(t, env.Payload, decoded.Payload)
}

func TestEnvelopeEmptyPayload(t *testing.T) {
	key := testMacKey(t)
	encoded, err := EncodeEnvelope(&Envelope{SessionID: "s", Sequence: 1}, key)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(encoded, key)
	require.NoError(t, err)
	assert.Empty(t, decoded.Payload)
}

func TestEnvelopeTamperDetection(t *testing.T) {
	key := testMacKey(t)
	encoded, err := EncodeEnvelope(&Envelope{
		SessionID: "session-1",
		Sequence:  7,
		Timestamp: 1700000000000,
		Payload:   []byte("important"),
	}, key)
	require.NoError(t, err)

	// Flipping any single byte must fail authentication (or bounds checks
	// for the length prefixes).
	for i := 0; i < len(encoded); i++ {
		mutated := append([]byte(nil), encoded...)
		mutated[i] ^= 0x01
		_, err := DecodeEnvelope(mutated, key)
		assert.Errorf(t, err, "byte %d flip accepted", i)
	}
}

func TestEnvelopeWrongKey(t *testing.T) {
	encoded, err := EncodeEnvelope(&Envelope{SessionID: "s", Sequence: 1, Payload: []byte("x")}, testMacKey(t))
	require.NoError(t, err)

	_, err = DecodeEnvelope(encoded, testMacKey(t))
	assert.ErrorIs(t, err, ErrAuthenticationFailure)
}

func TestEnvelopeTruncation(t *testing.T) {
	key := testMacKey(t)
	encoded, err := EncodeEnvelope(&Envelope{SessionID: "sid", Sequence: 3, Payload: []byte("abc")}, key)
	require.NoError(t, err)

	for cut := 0; cut < len(encoded); cut++ {
		_, err := DecodeEnvelope(encoded[:cut], key)
		assert.Errorf(t, err, "prefix of length %d accepted", cut)
	}
}

func TestEncodeEnvelopeSessionIDCap(t *testing.T) {
	long := make([]byte, MaxSessionIDLength+1)
	_, err := EncodeEnvelope(&Envelope{SessionID: string(long)}, testMacKey(t))
	assert.ErrorIs(t, err, ErrFieldTooLong)
}

func TestPacketRoundTrip(t *testing.T) {
	p := &Packet{Type: PacketSessionMessage, Data: []byte{0xde, 0xad}}
	parsed, err := ParsePacket(p.Serialize())
	require.NoError(t, err)
	assert.Equal(t, p.Type, parsed.Type)
	assert.Equal(t, p.Data, parsed.Data)

	_, err = ParsePacket(nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestPacketTypeClassification(t *testing.T) {
	assert.True(t, PacketHandshakeInit.IsHandshake())
	assert.True(t, PacketHandshakeResponse.IsHandshake())
	assert.True(t, PacketHandshakeFinish.IsHandshake())
	assert.False(t, PacketSessionMessage.IsHandshake())
	assert.Equal(t, "session_message", PacketSessionMessage.String())
}
