package store

import (
	"fmt"

	"parley/internal/domain"
)

// AccountKVStore persists per-relay account profiles in the auth bucket.
type AccountKVStore struct {
	kv domain.KeyValueStore
}

// NewAccountKVStore returns an AccountKVStore over kv.
func NewAccountKVStore(kv domain.KeyValueStore) *AccountKVStore {
	return &AccountKVStore{kv: kv}
}

// SaveAccountProfile stores or updates the given profile.
func (s *AccountKVStore) SaveAccountProfile(profile domain.AccountProfile) error {
	return putJSON(s.kv, AuthBucket, accountKey(profile.ServerURL, profile.Username), profile)
}

// LoadAccountProfile retrieves a profile for (serverURL, username).
func (s *AccountKVStore) LoadAccountProfile(
	serverURL string,
	username domain.Username,
) (domain.AccountProfile, bool, error) {
	var profile domain.AccountProfile
	ok, err := getJSON(s.kv, AuthBucket, accountKey(serverURL, username), &profile)
	return profile, ok, err
}

func accountKey(serverURL string, username domain.Username) string {
	return fmt.Sprintf("%s|%s", serverURL, username.String())
}

// Compile-time assertion that AccountKVStore implements domain.AccountStore.
var _ domain.AccountStore = (*AccountKVStore)(nil)
