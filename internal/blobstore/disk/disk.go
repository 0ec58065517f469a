// Package disk implements interfaces.BlobStore over a local directory,
// one file per SOP Instance UID. It is the default blob tier for a
// single-node deployment; internal/blobstore/postgres backs a
// multi-instance one.
package disk

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dicomnet/dicomnet/errors"
)

// Store is a directory-backed BlobStore.
type Store struct {
	root string
}

// Open returns a Store rooted at dir, creating it if necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore/disk: creating %s: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) path(sopInstanceUID string) string {
	return filepath.Join(s.root, sopInstanceUID+".dcm")
}

func (s *Store) Put(sopInstanceUID string, data []byte) error {
	tmp := s.path(sopInstanceUID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.NewStoreError("blob_put", err)
	}
	if err := os.Rename(tmp, s.path(sopInstanceUID)); err != nil {
		return errors.NewStoreError("blob_put", err)
	}
	return nil
}

func (s *Store) Get(sopInstanceUID string) ([]byte, error) {
	data, err := os.ReadFile(s.path(sopInstanceUID))
	if os.IsNotExist(err) {
		return nil, errors.NewStoreError("blob_get", errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.NewStoreError("blob_get", err)
	}
	return data, nil
}

func (s *Store) Delete(sopInstanceUID string) error {
	err := os.Remove(s.path(sopInstanceUID))
	if err != nil && !os.IsNotExist(err) {
		return errors.NewStoreError("blob_delete", err)
	}
	return nil
}
