// Package envelope turns plaintext into transportable encrypted envelopes and
// back, keeping one conversation key per counterparty.
//
// # Overview
//
// A Session holds the state of one conversation: the peer's encrypt-only
// public key (once resolved), the active conversation key and the ordered
// log of decrypted messages. A Builder holds the local identity and drives
// sessions through the key lifecycle:
//
//	NO_KEY ──(generate+wrap on send | unwrap+import on receive)──▶ KEY_ESTABLISHED
//
// There is no way back to NO_KEY other than dropping the session.
//
// # Outbound
//
//  1. Fail with ErrMissingRecipientKey when the peer key is unresolved.
//  2. Generate the conversation key if the session has none.
//  3. Encrypt under a fresh nonce while holding the session's send lock.
//  4. Attach the key wrapped for the peer while the peer has not yet proven
//     it holds the key, or after RequestRewrap/Rotate.
//  5. Base64 every binary field and append the plaintext to the log.
//
// # Inbound
//
//  1. Decode the base64 fields.
//  2. With no key yet, unwrap the carried key under a single-flight guard
//     keyed by peer, so concurrent arrivals establish exactly one key.
//  3. Decrypt. Failure discards the message and leaves the key untouched.
//  4. A carried key that differs from the established one is adopted only
//     if it authenticates the message and either the peer already proved it
//     holds our key (a rotation) or the peer sorts before us (both sides
//     initiated at once).
//
// # Durability
//
// Snapshot seals the conversation key under the owner's own public key, so a
// SessionRecord at rest is only useful together with the identity keystore.
package envelope
