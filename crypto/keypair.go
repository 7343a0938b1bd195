package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/curve25519"
)

// KeyPair represents a Curve25519 key-agreement key pair.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random Curve25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var private [32]byte
	if _, err := rand.Read(private[:]); err != nil {
		return nil, err
	}
	return FromSecretKey(private)
}

// FromSecretKey derives the full key pair from an existing private key.
func FromSecretKey(secretKey [32]byte) (*KeyPair, error) {
	if isZeroKey(secretKey[:]) {
		return nil, errors.New("invalid secret key: all zeros")
	}

	public, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	kp := &KeyPair{Private: secretKey}
	copy(kp.Public[:], public)
	return kp, nil
}

// SharedSecret computes the X25519 shared secret between our private key
// and a peer's public key.
func (kp *KeyPair) SharedSecret(peerPublic [32]byte) ([32]byte, error) {
	var secret [32]byte
	out, err := curve25519.X25519(kp.Private[:], peerPublic[:])
	if err != nil {
		return secret, err
	}
	copy(secret[:], out)
	return secret, nil
}

// Wipe erases the private half of the key pair.
func (kp *KeyPair) Wipe() {
	ZeroBytes(kp.Private[:])
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key []byte) bool {
	var acc byte
	for _, b := range key {
		acc |= b
	}
	return acc == 0
}
