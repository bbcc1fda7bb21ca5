// Package store provides local persistence for Parley.
//
// It contains concrete implementations of the domain storage interfaces:
//   - IdentityFileStore keeps the identity key pair in a passphrase-sealed
//     file (scrypt + ChaCha20-Poly1305).
//   - BoltStore is the generic key-value collaborator with one bucket per
//     logical store (auth, contacts, sessions).
//   - AccountKVStore, ContactKVStore and SessionKVStore encode records as
//     JSON on top of any domain.KeyValueStore.
//   - HistorySQLite keeps the decrypted message log.
//
// All stores are safe for concurrent use.
package store
