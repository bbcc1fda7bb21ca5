package store

import "parley/internal/domain"

// ContactKVStore caches resolved peer public keys in the contacts bucket.
type ContactKVStore struct {
	kv domain.KeyValueStore
}

// NewContactKVStore returns a ContactKVStore over kv.
func NewContactKVStore(kv domain.KeyValueStore) *ContactKVStore {
	return &ContactKVStore{kv: kv}
}

// SaveContact stores or replaces the contact.
func (s *ContactKVStore) SaveContact(contact domain.Contact) error {
	return putJSON(s.kv, ContactsBucket, contact.Username.String(), contact)
}

// LoadContact retrieves a contact by username.
func (s *ContactKVStore) LoadContact(username domain.Username) (domain.Contact, bool, error) {
	var c domain.Contact
	ok, err := getJSON(s.kv, ContactsBucket, username.String(), &c)
	return c, ok, err
}

var _ domain.ContactStore = (*ContactKVStore)(nil)
