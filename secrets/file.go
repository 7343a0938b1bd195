package secrets

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// FileStore keeps one file per secret under a private directory.
// Writes are atomic (temp file plus rename) so a crash never leaves a
// half-written secret behind.
type FileStore struct {
	dir string
}

// NewFileStore creates the backing directory (0700) if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create secret directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// path maps a secret name to a filesystem path. Names are hex encoded so
// arbitrary names cannot escape the directory.
func (fs *FileStore) path(name string) string {
	return filepath.Join(fs.dir, hex.EncodeToString([]byte(name))+".key")
}

// Load returns the secret bytes, or ErrSecretNotFound.
func (fs *FileStore) Load(name string) ([]byte, error) {
	data, err := os.ReadFile(fs.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSecretNotFound
		}
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	return data, nil
}

// Save writes the secret with owner-only permissions.
func (fs *FileStore) Save(name string, data []byte) error {
	target := fs.path(name)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to commit secret: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"name":  name,
		"bytes": len(data),
	}).Debug("Secret saved")
	return nil
}

// Delete removes the secret file. An absent secret is not an error.
func (fs *FileStore) Delete(name string) error {
	err := os.Remove(fs.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}
