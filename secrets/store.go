// Package secrets provides opaque byte storage for long-lived key
// material. The engine only ever persists raw secret bytes through this
// interface; no semantics beyond load, save and delete.
package secrets

import "errors"

// ErrSecretNotFound indicates no secret is stored under the given name.
var ErrSecretNotFound = errors.New("secret not found")

// Store persists raw secret bytes keyed by name.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the secret bytes, or ErrSecretNotFound.
	Load(name string) ([]byte, error)
	// Save stores the secret bytes, replacing any existing value.
	Save(name string, data []byte) error
	// Delete removes the secret. Deleting an absent secret is not an error.
	Delete(name string) error
}
