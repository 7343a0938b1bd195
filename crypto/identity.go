package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"meshcore/secrets"
	"meshcore/wire"
)

// identitySecretSize is the serialized private material: agreement private
// key, signing seed and identity seed (32 bytes each).
const identitySecretSize = 96

// Identity is a node's long-lived key material: a Curve25519 agreement
// pair used as the handshake static key, an Ed25519 signing pair, and an
// Ed25519 identity pair whose public half anchors the fingerprint.
type Identity struct {
	Agreement *KeyPair

	SigningPublic ed25519.PublicKey
	signingKey    ed25519.PrivateKey

	IdentityPublic ed25519.PublicKey
	identityKey    ed25519.PrivateKey
}

// NewIdentity generates a fresh identity.
func NewIdentity() (*Identity, error) {
	agreement, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate agreement key: %w", err)
	}

	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	idPub, idPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}

	return &Identity{
		Agreement:      agreement,
		SigningPublic:  signPub,
		signingKey:     signPriv,
		IdentityPublic: idPub,
		identityKey:    idPriv,
	}, nil
}

// Fingerprint returns the hex SHA-256 digest of the identity public key.
func (id *Identity) Fingerprint() string {
	digest := sha256.Sum256(id.IdentityPublic)
	return hex.EncodeToString(digest[:])
}

// Sign signs a message with the signing key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.signingKey, message)
}

// Verify checks a signature against a peer's signing public key.
func Verify(signingPublic ed25519.PublicKey, message, signature []byte) bool {
	if len(signingPublic) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(signingPublic, message, signature)
}

// Bundle exports the identity's public keys as a legacy key bundle.
func (id *Identity) Bundle() *wire.KeyBundle {
	kb := &wire.KeyBundle{AgreementKey: id.Agreement.Public}
	copy(kb.SigningKey[:], id.SigningPublic)
	copy(kb.IdentityKey[:], id.IdentityPublic)
	return kb
}

// serialize flattens the private material for the secret store.
func (id *Identity) serialize() []byte {
	buf := make([]byte, 0, identitySecretSize)
	buf = append(buf, id.Agreement.Private[:]...)
	buf = append(buf, id.signingKey.Seed()...)
	buf = append(buf, id.identityKey.Seed()...)
	return buf
}

// identityFromSecret rebuilds an identity from stored private material.
func identityFromSecret(data []byte) (*Identity, error) {
	if len(data) != identitySecretSize {
		return nil, fmt.Errorf("invalid identity secret: %d bytes, want %d", len(data), identitySecretSize)
	}

	var agreementPriv [32]byte
	copy(agreementPriv[:], data[0:32])
	agreement, err := FromSecretKey(agreementPriv)
	if err != nil {
		return nil, fmt.Errorf("invalid agreement key: %w", err)
	}

	signingKey := ed25519.NewKeyFromSeed(data[32:64])
	identityKey := ed25519.NewKeyFromSeed(data[64:96])

	return &Identity{
		Agreement:      agreement,
		SigningPublic:  signingKey.Public().(ed25519.PublicKey),
		signingKey:     signingKey,
		IdentityPublic: identityKey.Public().(ed25519.PublicKey),
		identityKey:    identityKey,
	}, nil
}

// LoadIdentity loads the named identity from the secret store.
func LoadIdentity(store secrets.Store, name string) (*Identity, error) {
	data, err := store.Load(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	id, err := identityFromSecret(data)
	ZeroBytes(data)
	return id, err
}

// LoadOrCreateIdentity loads the named identity from the secret store,
// generating and persisting a fresh one if none exists.
func LoadOrCreateIdentity(store secrets.Store, name string) (*Identity, error) {
	data, err := store.Load(name)
	if err == nil {
		id, err := identityFromSecret(data)
		ZeroBytes(data)
		return id, err
	}
	if !errors.Is(err, secrets.ErrSecretNotFound) {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	id, err := NewIdentity()
	if err != nil {
		return nil, err
	}

	secret := id.serialize()
	defer ZeroBytes(secret)
	if err := store.Save(name, secret); err != nil {
		return nil, fmt.Errorf("failed to persist identity: %w", err)
	}
	return id, nil
}
