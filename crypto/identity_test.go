package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshcore/secrets"
	"meshcore/wire"
)

func TestNewIdentityDistinctKeys(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	assert.NotEqual(t, id.SigningPublic, id.IdentityPublic)
	assert.Len(t, id.Fingerprint(), 64)
}

func TestIdentitySignVerify(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	message := []byte("announce")
	sig := id.Sign(message)
	assert.True(t, Verify(id.SigningPublic, message, sig))
	assert.False(t, Verify(id.SigningPublic, []byte("tampered"), sig))

	other, err := NewIdentity()
	require.NoError(t, err)
	assert.False(t, Verify(other.SigningPublic, message, sig))
}

func TestIdentityBundleEncodes(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	encoded, err := id.Bundle().Encode()
	require.NoError(t, err)
	assert.Len(t, encoded, wire.KeyBundleLegacySize)

	decoded, err := wire.DecodeKeyBundle(encoded)
	require.NoError(t, err)
	assert.Equal(t, id.Agreement.Public, decoded.AgreementKey)
}

func TestLoadOrCreateIdentityPersists(t *testing.T) {
	store := secrets.NewMemoryStore()

	first, err := LoadOrCreateIdentity(store, "node")
	require.NoError(t, err)

	second, err := LoadOrCreateIdentity(store, "node")
	require.NoError(t, err)

	assert.Equal(t, first.Agreement.Public, second.Agreement.Public)
	assert.Equal(t, first.SigningPublic, second.SigningPublic)
	assert.Equal(t, first.Fingerprint(), second.Fingerprint())

	// Reloaded identity signs verifiably.
	sig := second.Sign([]byte("hello"))
	assert.True(t, Verify(first.SigningPublic, []byte("hello"), sig))
}

func TestLoadOrCreateIdentityFreshPerName(t *testing.T) {
	store := secrets.NewMemoryStore()

	a, err := LoadOrCreateIdentity(store, "a")
	require.NoError(t, err)
	b, err := LoadOrCreateIdentity(store, "b")
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestLoadIdentityRequiresExisting(t *testing.T) {
	store := secrets.NewMemoryStore()

	_, err := LoadIdentity(store, "absent")
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)

	created, err := LoadOrCreateIdentity(store, "node")
	require.NoError(t, err)
	loaded, err := LoadIdentity(store, "node")
	require.NoError(t, err)
	assert.Equal(t, created.Fingerprint(), loaded.Fingerprint())
}

func TestIdentityFromSecretRejectsBadLength(t *testing.T) {
	_, err := identityFromSecret(make([]byte, 95))
	assert.Error(t, err)
}
