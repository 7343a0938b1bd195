package wire

import "fmt"

const (
	// KeyBundleLegacySize is the original fixed bundle layout:
	// 32-byte key-agreement key, 32-byte signing key, 32-byte identity key.
	KeyBundleLegacySize = 96
	// KeyBundleExtendedSize appends a 65-byte secondary signing public key
	// for the newer wire version.
	KeyBundleExtendedSize = 161

	secondaryKeySize = KeyBundleExtendedSize - KeyBundleLegacySize
)

// KeyBundle is the fixed-size concatenation of a peer's raw public keys
// exchanged during identity announcement.
type KeyBundle struct {
	AgreementKey [32]byte
	SigningKey   [32]byte
	IdentityKey  [32]byte
	// SecondarySigningKey is nil for legacy bundles, 65 bytes for extended.
	SecondarySigningKey []byte
}

// Encode serializes the bundle. Output is 96 bytes for legacy bundles and
// 161 bytes when a secondary signing key is present.
func (kb *KeyBundle) Encode() ([]byte, error) {
	if kb.SecondarySigningKey != nil && len(kb.SecondarySigningKey) != secondaryKeySize {
		return nil, fmt.Errorf("%w: secondary signing key %d bytes, want %d",
			ErrInvalidKeyBundleLength, len(kb.SecondarySigningKey), secondaryKeySize)
	}

	size := KeyBundleLegacySize
	if kb.SecondarySigningKey != nil {
		size = KeyBundleExtendedSize
	}

	buf := make([]byte, 0, size)
	buf = append(buf, kb.AgreementKey[:]...)
	buf = append(buf, kb.SigningKey[:]...)
	buf = append(buf, kb.IdentityKey[:]...)
	buf = append(buf, kb.SecondarySigningKey...)
	return buf, nil
}

// DecodeKeyBundle parses a combined public-key blob. Exactly two total
// lengths are accepted, legacy (96) and extended (161); anything else is
// rejected with ErrInvalidKeyBundleLength.
func DecodeKeyBundle(data []byte) (*KeyBundle, error) {
	switch len(data) {
	case KeyBundleLegacySize, KeyBundleExtendedSize:
	default:
		return nil, fmt.Errorf("%w: %d bytes, want %d or %d",
			ErrInvalidKeyBundleLength, len(data), KeyBundleLegacySize, KeyBundleExtendedSize)
	}

	kb := &KeyBundle{}
	copy(kb.AgreementKey[:], data[0:32])
	copy(kb.SigningKey[:], data[32:64])
	copy(kb.IdentityKey[:], data[64:96])

	if len(data) == KeyBundleExtendedSize {
		kb.SecondarySigningKey = make([]byte, secondaryKeySize)
		copy(kb.SecondarySigningKey, data[KeyBundleLegacySize:])
	}
	return kb, nil
}

// IsExtended reports whether the bundle carries a secondary signing key.
func (kb *KeyBundle) IsExtended() bool {
	return kb.SecondarySigningKey != nil
}
