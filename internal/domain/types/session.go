package types

// SessionRecord is the durable form of a message session.
//
// SealedKey is the conversation key wrapped under the owner's own public
// key, so restoring it needs the owner's private key. The message log is
// kept by the HistoryStore, not here. SealedRetiredKey holds the key a
// rotation or rekey replaced, sealed the same way.
type SessionRecord struct {
	Peer             Username `json:"peer"`
	PeerPublicKey    []byte   `json:"peer_public_key,omitempty"`
	SealedKey        []byte   `json:"sealed_key,omitempty"`
	SealedRetiredKey []byte   `json:"sealed_retired_key,omitempty"`
	PeerHasKey       bool     `json:"peer_has_key"`
	Rewrap           bool     `json:"rewrap"`
	Rotating         bool     `json:"rotating,omitempty"`
	EstablishedUTC   int64    `json:"established_utc,omitempty"`
}
