package secrets

import "sync"

// MemoryStore is an in-memory Store for tests and ephemeral nodes.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string][]byte)}
}

// Load returns a copy of the secret bytes, or ErrSecretNotFound.
func (ms *MemoryStore) Load(name string) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	data, ok := ms.secrets[name]
	if !ok {
		return nil, ErrSecretNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Save stores a copy of the secret bytes.
func (ms *MemoryStore) Save(name string, data []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	ms.secrets[name] = stored
	return nil
}

// Delete removes the secret.
func (ms *MemoryStore) Delete(name string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.secrets, name)
	return nil
}
