package interfaces

import domaintypes "parley/internal/domain/types"

// IdentityStore persists your long-term identity key pair.
//
// LoadIdentity returns an error matching domain.ErrNotFound when no identity
// has been saved yet.
type IdentityStore interface {
	SaveIdentity(passphrase string, record domaintypes.IdentityRecord) error
	LoadIdentity(passphrase string) (domaintypes.IdentityRecord, error)
}

// KeyValueStore is the generic get/put persistence collaborator, scoped per
// logical store (bucket).
type KeyValueStore interface {
	Get(bucket, key string) ([]byte, bool, error)
	Put(bucket, key string, value []byte) error
	Delete(bucket, key string) error
	Close() error
}

// AccountStore persists per-relay account profiles.
type AccountStore interface {
	SaveAccountProfile(profile domaintypes.AccountProfile) error
	LoadAccountProfile(
		serverURL string,
		username domaintypes.Username,
	) (domaintypes.AccountProfile, bool, error)
}

// ContactStore caches resolved counterparty public keys.
type ContactStore interface {
	SaveContact(contact domaintypes.Contact) error
	LoadContact(username domaintypes.Username) (domaintypes.Contact, bool, error)
}

// SessionStore persists message sessions.
type SessionStore interface {
	SaveSession(record domaintypes.SessionRecord) error
	LoadSession(peer domaintypes.Username) (domaintypes.SessionRecord, bool, error)
	DeleteSession(peer domaintypes.Username) error
}

// HistoryStore keeps the decrypted message log.
type HistoryStore interface {
	AppendMessage(msg domaintypes.Message) error
	MarkDelivered(id string) error
	ListMessages(peer domaintypes.Username, limit int) ([]domaintypes.Message, error)
	DeleteConversation(peer domaintypes.Username) error
	Close() error
}
