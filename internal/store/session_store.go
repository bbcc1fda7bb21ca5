package store

import "parley/internal/domain"

// SessionKVStore persists message sessions in the sessions bucket.
type SessionKVStore struct {
	kv domain.KeyValueStore
}

// NewSessionKVStore returns a SessionKVStore over kv.
func NewSessionKVStore(kv domain.KeyValueStore) *SessionKVStore {
	return &SessionKVStore{kv: kv}
}

// SaveSession writes the session record for record.Peer.
func (s *SessionKVStore) SaveSession(record domain.SessionRecord) error {
	return putJSON(s.kv, SessionsBucket, record.Peer.String(), record)
}

// LoadSession retrieves a stored session for peer.
func (s *SessionKVStore) LoadSession(peer domain.Username) (domain.SessionRecord, bool, error) {
	var rec domain.SessionRecord
	ok, err := getJSON(s.kv, SessionsBucket, peer.String(), &rec)
	return rec, ok, err
}

// DeleteSession drops the stored session for peer.
func (s *SessionKVStore) DeleteSession(peer domain.Username) error {
	return s.kv.Delete(SessionsBucket, peer.String())
}

// Compile-time assertion that SessionKVStore implements domain.SessionStore.
var _ domain.SessionStore = (*SessionKVStore)(nil)
