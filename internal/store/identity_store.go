package store

import (
	"encoding/json"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"parley/internal/domain"
)

const idFilename = "identity.json.enc"

// IdentityFileStore persists the local identity key pair to disk, sealed
// under the user's passphrase.
type IdentityFileStore struct {
	dir string
	kdf kdfParams
	mu  sync.Mutex
}

// NewIdentityFileStore returns an IdentityFileStore rooted at dir.
func NewIdentityFileStore(dir string) *IdentityFileStore {
	return &IdentityFileStore{dir: dir, kdf: defaultKDF}
}

// SaveIdentity writes the encrypted identity to disk, replacing any previous
// one atomically.
func (s *IdentityFileStore) SaveIdentity(passphrase string, record domain.IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	ct, err := seal(passphrase, raw, s.kdf)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, idFilename), ct, 0o600)
}

// LoadIdentity reads and decrypts the identity.
func (s *IdentityFileStore) LoadIdentity(passphrase string) (domain.IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(filepath.Join(s.dir, idFilename))
	if err != nil {
		return domain.IdentityRecord{}, err
	}
	if b == nil {
		return domain.IdentityRecord{}, errors.Wrap(domain.ErrNotFound, "identity")
	}
	pt, err := open(passphrase, b)
	if err != nil {
		return domain.IdentityRecord{}, err
	}
	var rec domain.IdentityRecord
	if err := json.Unmarshal(pt, &rec); err != nil {
		return domain.IdentityRecord{}, errors.Wrap(err, "decode identity")
	}
	return rec, nil
}

// Compile-time assertion that IdentityFileStore implements domain.IdentityStore.
var _ domain.IdentityStore = (*IdentityFileStore)(nil)
