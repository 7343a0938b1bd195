package noise

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"meshcore/crypto"
)

var (
	// ErrHandshakeOrderViolation indicates a message was produced or
	// consumed out of the strict 0 -> 1 -> 2 order for the current role.
	// The handshake is aborted and must restart from message 0.
	ErrHandshakeOrderViolation = errors.New("handshake message out of order")
	// ErrInvalidMessageLength indicates a handshake message whose byte
	// length does not match its fixed size.
	ErrInvalidMessageLength = errors.New("invalid handshake message length")
	// ErrHandshakeNotComplete indicates cipher channels were requested
	// before the final message.
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrHandshakeFailed indicates the handshake was aborted; its state
	// has been discarded and cannot be reused.
	ErrHandshakeFailed = errors.New("handshake failed, state discarded")
	// ErrDecryptFailed indicates an encrypted handshake field did not
	// authenticate.
	ErrDecryptFailed = errors.New("handshake payload decryption failed")
)

// Role defines whether we initiate or respond to a handshake.
type Role uint8

const (
	// Initiator starts the exchange with message 0.
	Initiator Role = iota
	// Responder answers message 0 with message 1.
	Responder
)

// String returns the role name for logging.
func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// Fixed sizes of the three handshake messages with empty payloads.
const (
	// Message0Size carries the initiator's plaintext ephemeral key.
	Message0Size = keySize
	// Message1Size carries the responder's ephemeral key, its encrypted
	// static key, and the tag over the empty payload.
	Message1Size = keySize + (keySize + tagSize) + tagSize
	// Message2Size carries the initiator's encrypted static key and the
	// empty-payload tag.
	Message2Size = (keySize + tagSize) + tagSize

	// messageCount is the terminal message index.
	messageCount = 3
)

// Handshake drives one 3-message mutual-authentication exchange:
//
//	msg 0  initiator -> responder  ephemeral key
//	msg 1  responder -> initiator  ephemeral key, encrypted static key
//	msg 2  initiator -> responder  encrypted static key
//
// Messages must be produced and consumed strictly in index order for the
// holder's role; any mismatch discards all accumulated state. On
// completion the chaining key splits into two independent cipher channels
// plus the envelope MAC key.
type Handshake struct {
	role         Role
	messageIndex int
	ss           symmetricState

	localStatic      *crypto.KeyPair
	localEphemeral   *crypto.KeyPair
	remoteEphemeral  [keySize]byte
	remoteStatic     [keySize]byte
	haveRemoteStatic bool

	createdAt time.Time
	complete  bool
	failed    bool

	sendChannel *crypto.CipherChannel
	recvChannel *crypto.CipherChannel
	macKey      []byte
}

// NewHandshake creates a fresh handshake for the given role. staticKey is
// our long-term Curve25519 identity agreement pair; it is exchanged
// encrypted during the handshake, never in the clear.
func NewHandshake(role Role, staticKey *crypto.KeyPair) (*Handshake, error) {
	if staticKey == nil {
		return nil, errors.New("static key pair required")
	}

	hs := &Handshake{
		role:        role,
		ss:          newSymmetricState(),
		localStatic: staticKey,
		createdAt:   time.Now(),
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewHandshake",
		"role":     role.String(),
	}).Debug("Handshake created")

	return hs, nil
}

// WriteMessage produces the next outbound handshake message for our role.
// The caller transmits the returned bytes verbatim.
func (hs *Handshake) WriteMessage() ([]byte, error) {
	if err := hs.checkTurn(true); err != nil {
		return nil, err
	}

	var (
		message []byte
		err     error
	)
	switch hs.messageIndex {
	case 0:
		message, err = hs.writeMessage0()
	case 1:
		message, err = hs.writeMessage1()
	case 2:
		message, err = hs.writeMessage2()
	}
	if err != nil {
		hs.abort(err)
		return nil, err
	}

	hs.messageIndex++
	if hs.messageIndex == messageCount {
		if err := hs.finish(); err != nil {
			hs.abort(err)
			return nil, err
		}
	}
	return message, nil
}

// ReadMessage consumes an inbound handshake message for our role.
func (hs *Handshake) ReadMessage(message []byte) error {
	if err := hs.checkTurn(false); err != nil {
		return err
	}

	var err error
	switch hs.messageIndex {
	case 0:
		err = hs.readMessage0(message)
	case 1:
		err = hs.readMessage1(message)
	case 2:
		err = hs.readMessage2(message)
	}
	if err != nil {
		hs.abort(err)
		return err
	}

	hs.messageIndex++
	if hs.messageIndex == messageCount {
		if err := hs.finish(); err != nil {
			hs.abort(err)
			return err
		}
	}
	return nil
}

// checkTurn enforces strict message ordering: for each index exactly one
// side writes and the other reads.
func (hs *Handshake) checkTurn(writing bool) error {
	if hs.failed {
		return ErrHandshakeFailed
	}
	if hs.complete || hs.messageIndex >= messageCount {
		return ErrHandshakeOrderViolation
	}

	// The initiator writes messages 0 and 2 and reads message 1.
	initiatorWrites := hs.messageIndex != 1
	expectWrite := (hs.role == Initiator) == initiatorWrites
	if writing != expectWrite {
		err := fmt.Errorf("%w: %s cannot %s message %d",
			ErrHandshakeOrderViolation, hs.role, direction(writing), hs.messageIndex)
		hs.abort(err)
		return err
	}
	return nil
}

func direction(writing bool) string {
	if writing {
		return "write"
	}
	return "read"
}

// writeMessage0 emits the initiator ephemeral key in the clear.
func (hs *Handshake) writeMessage0() ([]byte, error) {
	ephemeral, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("ephemeral key generation failed: %w", err)
	}
	hs.localEphemeral = ephemeral
	hs.ss.mixHash(ephemeral.Public[:])

	payload, err := hs.ss.encryptAndHash(nil)
	if err != nil {
		return nil, err
	}

	message := make([]byte, 0, Message0Size)
	message = append(message, ephemeral.Public[:]...)
	return append(message, payload...), nil
}

// readMessage0 absorbs the initiator's ephemeral key.
func (hs *Handshake) readMessage0(message []byte) error {
	if len(message) != Message0Size {
		return fmt.Errorf("%w: message 0 is %d bytes, want %d", ErrInvalidMessageLength, len(message), Message0Size)
	}

	copy(hs.remoteEphemeral[:], message[:keySize])
	hs.ss.mixHash(hs.remoteEphemeral[:])

	if _, err := hs.ss.decryptAndHash(message[keySize:]); err != nil {
		return err
	}
	return nil
}

// writeMessage1 emits the responder ephemeral key and the encrypted
// responder static key, ratcheting the chaining key with the
// ephemeral-ephemeral and static-ephemeral agreements.
func (hs *Handshake) writeMessage1() ([]byte, error) {
	ephemeral, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("ephemeral key generation failed: %w", err)
	}
	hs.localEphemeral = ephemeral
	hs.ss.mixHash(ephemeral.Public[:])

	if err := hs.mixDH(ephemeral, hs.remoteEphemeral); err != nil {
		return nil, err
	}

	encStatic, err := hs.ss.encryptAndHash(hs.localStatic.Public[:])
	if err != nil {
		return nil, err
	}

	if err := hs.mixDH(hs.localStatic, hs.remoteEphemeral); err != nil {
		return nil, err
	}

	payload, err := hs.ss.encryptAndHash(nil)
	if err != nil {
		return nil, err
	}

	message := make([]byte, 0, Message1Size)
	message = append(message, ephemeral.Public[:]...)
	message = append(message, encStatic...)
	return append(message, payload...), nil
}

// readMessage1 absorbs the responder's ephemeral key and learns its
// static key from the encrypted field.
func (hs *Handshake) readMessage1(message []byte) error {
	if len(message) != Message1Size {
		return fmt.Errorf("%w: message 1 is %d bytes, want %d", ErrInvalidMessageLength, len(message), Message1Size)
	}

	copy(hs.remoteEphemeral[:], message[:keySize])
	hs.ss.mixHash(hs.remoteEphemeral[:])

	if err := hs.mixDH(hs.localEphemeral, hs.remoteEphemeral); err != nil {
		return err
	}

	staticField := message[keySize : keySize+keySize+tagSize]
	remoteStatic, err := hs.ss.decryptAndHash(staticField)
	if err != nil {
		return err
	}
	copy(hs.remoteStatic[:], remoteStatic)
	hs.haveRemoteStatic = true

	if err := hs.mixDH(hs.localEphemeral, hs.remoteStatic); err != nil {
		return err
	}

	if _, err := hs.ss.decryptAndHash(message[keySize+keySize+tagSize:]); err != nil {
		return err
	}
	return nil
}

// writeMessage2 emits the initiator's encrypted static key and performs
// the final static-ephemeral agreement.
func (hs *Handshake) writeMessage2() ([]byte, error) {
	encStatic, err := hs.ss.encryptAndHash(hs.localStatic.Public[:])
	if err != nil {
		return nil, err
	}

	if err := hs.mixDH(hs.localStatic, hs.remoteEphemeral); err != nil {
		return nil, err
	}

	payload, err := hs.ss.encryptAndHash(nil)
	if err != nil {
		return nil, err
	}

	message := make([]byte, 0, Message2Size)
	message = append(message, encStatic...)
	return append(message, payload...), nil
}

// readMessage2 learns the initiator's static key and performs the final
// agreement.
func (hs *Handshake) readMessage2(message []byte) error {
	if len(message) != Message2Size {
		return fmt.Errorf("%w: message 2 is %d bytes, want %d", ErrInvalidMessageLength, len(message), Message2Size)
	}

	staticField := message[:keySize+tagSize]
	remoteStatic, err := hs.ss.decryptAndHash(staticField)
	if err != nil {
		return err
	}
	copy(hs.remoteStatic[:], remoteStatic)
	hs.haveRemoteStatic = true

	if err := hs.mixDH(hs.localEphemeral, hs.remoteStatic); err != nil {
		return err
	}

	if _, err := hs.ss.decryptAndHash(message[keySize+tagSize:]); err != nil {
		return err
	}
	return nil
}

// mixDH ratchets the chaining key with a Curve25519 agreement.
func (hs *Handshake) mixDH(local *crypto.KeyPair, remotePublic [keySize]byte) error {
	if local == nil {
		return errors.New("missing local key for agreement")
	}
	secret, err := local.SharedSecret(remotePublic)
	if err != nil {
		return fmt.Errorf("key agreement failed: %w", err)
	}
	err = hs.ss.mixKey(secret[:])
	crypto.ZeroBytes(secret[:])
	return err
}

// finish splits the chaining key into the two direction channels. The
// chaining key has been mixed exactly three times by now (ee, es, se) and
// both static keys have been exchanged.
func (hs *Handshake) finish() error {
	c1, c2, macKey, err := hs.ss.split()
	if err != nil {
		return fmt.Errorf("failed to split cipher channels: %w", err)
	}

	// c1 protects initiator-to-responder traffic, c2 the reverse.
	if hs.role == Initiator {
		hs.sendChannel, hs.recvChannel = c1, c2
	} else {
		hs.sendChannel, hs.recvChannel = c2, c1
	}
	hs.macKey = macKey
	hs.complete = true

	// The ephemeral private key has served its purpose.
	hs.localEphemeral.Wipe()

	logrus.WithFields(logrus.Fields{
		"function": "finish",
		"role":     hs.role.String(),
	}).Debug("Handshake complete")
	return nil
}

// abort discards every piece of accumulated state. A fresh handshake must
// restart at message 0; nothing here can be retried.
func (hs *Handshake) abort(cause error) {
	if hs.failed {
		return
	}
	hs.failed = true
	hs.ss.wipe()
	if hs.localEphemeral != nil {
		hs.localEphemeral.Wipe()
	}
	crypto.ZeroBytes(hs.remoteStatic[:])
	hs.haveRemoteStatic = false

	logrus.WithFields(logrus.Fields{
		"function": "abort",
		"role":     hs.role.String(),
		"index":    hs.messageIndex,
		"error":    cause.Error(),
	}).Warn("Handshake aborted, state discarded")
}

// IsComplete reports whether the final split has happened.
func (hs *Handshake) IsComplete() bool {
	return hs.complete
}

// MessageIndex returns the number of handshake messages processed so far.
func (hs *Handshake) MessageIndex() int {
	return hs.messageIndex
}

// Role returns the handshake role.
func (hs *Handshake) Role() Role {
	return hs.role
}

// CreatedAt returns when the handshake began; callers abandon handshakes
// that make no progress within their timeout window.
func (hs *Handshake) CreatedAt() time.Time {
	return hs.createdAt
}

// Channels returns the send and receive cipher channels after completion.
func (hs *Handshake) Channels() (send, recv *crypto.CipherChannel, err error) {
	if !hs.complete {
		return nil, nil, ErrHandshakeNotComplete
	}
	return hs.sendChannel, hs.recvChannel, nil
}

// MACKey returns the envelope authentication key shared by both sides.
func (hs *Handshake) MACKey() ([]byte, error) {
	if !hs.complete {
		return nil, ErrHandshakeNotComplete
	}
	key := make([]byte, len(hs.macKey))
	copy(key, hs.macKey)
	return key, nil
}

// RemoteStaticKey returns the peer's verified static public key.
func (hs *Handshake) RemoteStaticKey() ([keySize]byte, error) {
	if !hs.haveRemoteStatic {
		return [keySize]byte{}, ErrHandshakeNotComplete
	}
	return hs.remoteStatic, nil
}
