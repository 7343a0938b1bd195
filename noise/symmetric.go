package noise

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"meshcore/crypto"
)

// protocolName identifies the cipher suite and pattern. It is exactly 32
// bytes, so it seeds the transcript hash directly per the Noise spec.
const protocolName = "Noise_XX_25519_ChaChaPoly_SHA256"

const (
	// keySize is the symmetric and Curve25519 key length.
	keySize = 32
	// tagSize is the ChaCha20-Poly1305 authentication tag length.
	tagSize = 16
)

// symmetricState carries the running transcript hash, the rolling chaining
// key, and the current message key with its nonce counter. Every
// transmitted or received key and ciphertext is mixed into the hash, which
// in turn authenticates each encrypted handshake field (it is the AEAD
// associated data), binding the whole exchange against tampering and
// reordering.
type symmetricState struct {
	chainingKey [keySize]byte
	hash        [keySize]byte
	key         [keySize]byte
	nonce       uint64
	hasKey      bool
}

// newSymmetricState initializes the transcript from the protocol name and
// an empty prologue.
func newSymmetricState() symmetricState {
	var ss symmetricState
	copy(ss.hash[:], protocolName)
	ss.chainingKey = ss.hash
	ss.mixHash(nil)
	return ss
}

// mixHash absorbs data into the transcript hash.
func (ss *symmetricState) mixHash(data []byte) {
	h := sha256.New()
	h.Write(ss.hash[:])
	h.Write(data)
	h.Sum(ss.hash[:0])
}

// mixKey ratchets the chaining key with new key material (a DH result)
// and derives a fresh message key with a reset nonce.
func (ss *symmetricState) mixKey(material []byte) error {
	kdf := hkdf.New(sha256.New, material, ss.chainingKey[:], nil)
	if _, err := io.ReadFull(kdf, ss.chainingKey[:]); err != nil {
		return fmt.Errorf("key derivation failed: %w", err)
	}
	if _, err := io.ReadFull(kdf, ss.key[:]); err != nil {
		return fmt.Errorf("key derivation failed: %w", err)
	}
	ss.nonce = 0
	ss.hasKey = true
	return nil
}

// encryptAndHash seals plaintext under the current message key with the
// transcript hash as associated data, then mixes the ciphertext back into
// the hash. Before any key material is mixed the data passes in the clear
// but is still absorbed into the transcript.
func (ss *symmetricState) encryptAndHash(plaintext []byte) ([]byte, error) {
	if !ss.hasKey {
		ss.mixHash(plaintext)
		return append([]byte(nil), plaintext...), nil
	}

	aead, err := chacha20poly1305.New(ss.key[:])
	if err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, ss.currentNonce(), plaintext, ss.hash[:])
	ss.nonce++
	ss.mixHash(ciphertext)
	return ciphertext, nil
}

// decryptAndHash opens ciphertext produced by the peer's encryptAndHash.
// The pre-mix transcript hash is the associated data; the ciphertext is
// mixed afterward so both transcripts stay in lockstep.
func (ss *symmetricState) decryptAndHash(ciphertext []byte) ([]byte, error) {
	if !ss.hasKey {
		ss.mixHash(ciphertext)
		return append([]byte(nil), ciphertext...), nil
	}

	aead, err := chacha20poly1305.New(ss.key[:])
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, ss.currentNonce(), ciphertext, ss.hash[:])
	if err != nil {
		return nil, ErrDecryptFailed
	}
	ss.nonce++
	ss.mixHash(ciphertext)
	return plaintext, nil
}

// currentNonce renders the counter in the Noise nonce layout.
func (ss *symmetricState) currentNonce() []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(nonce[4:], ss.nonce)
	return nonce
}

// split derives the two independent direction keys plus the envelope MAC
// key from the final chaining key. The directions never share material.
func (ss *symmetricState) split() (c1, c2 *crypto.CipherChannel, macKey []byte, err error) {
	kdf := hkdf.New(sha256.New, nil, ss.chainingKey[:], nil)

	var k1, k2 [keySize]byte
	macKey = make([]byte, keySize)
	if _, err = io.ReadFull(kdf, k1[:]); err != nil {
		return nil, nil, nil, err
	}
	if _, err = io.ReadFull(kdf, k2[:]); err != nil {
		return nil, nil, nil, err
	}
	if _, err = io.ReadFull(kdf, macKey); err != nil {
		return nil, nil, nil, err
	}

	c1, err = crypto.NewCipherChannel(k1)
	if err != nil {
		return nil, nil, nil, err
	}
	c2, err = crypto.NewCipherChannel(k2)
	if err != nil {
		return nil, nil, nil, err
	}

	crypto.ZeroBytes(k1[:])
	crypto.ZeroBytes(k2[:])
	return c1, c2, macKey, nil
}

// wipe erases all accumulated secrets.
func (ss *symmetricState) wipe() {
	crypto.ZeroBytes(ss.chainingKey[:])
	crypto.ZeroBytes(ss.key[:])
	crypto.ZeroBytes(ss.hash[:])
	ss.hasKey = false
	ss.nonce = 0
}
