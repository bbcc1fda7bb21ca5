package types

// Envelope is the wire-format message exchanged through the relay.
//
// Ciphertext, IV and EncryptedAESKey are standard base64. EncryptedAESKey is
// only present while the conversation key is being established or re-sent.
// ID and Timestamp (Unix milliseconds) are plaintext metadata and are not
// encrypted. Rekey marks a carried key that replaces one the sender has
// already used with the recipient.
type Envelope struct {
	ID              string   `json:"id,omitempty"`
	From            Username `json:"from"`
	To              Username `json:"to"`
	Ciphertext      string   `json:"ciphertext"`
	IV              string   `json:"iv"`
	EncryptedAESKey string   `json:"encryptedAESKey,omitempty"`
	Rekey           bool     `json:"rekey,omitempty"`
	Timestamp       int64    `json:"timestamp,omitempty"`
}

// CarriesKey reports whether the envelope includes a wrapped conversation key.
func (e Envelope) CarriesKey() bool { return e.EncryptedAESKey != "" }

// Message is a decrypted message as kept in a session log.
type Message struct {
	ID        string   `json:"id"`
	Peer      Username `json:"peer"`
	From      Username `json:"from"`
	To        Username `json:"to"`
	Text      string   `json:"text"`
	Outgoing  bool     `json:"outgoing"`
	Timestamp int64    `json:"timestamp"`
	Delivered bool     `json:"delivered"`
	Read      bool     `json:"read"`
}

// DeliveryFailure describes an inbound envelope that was discarded.
//
// Reason is safe to show to users; Err carries the technical cause.
type DeliveryFailure struct {
	EnvelopeID string   `json:"envelope_id"`
	From       Username `json:"from"`
	Reason     string   `json:"reason"`
	Err        error    `json:"-"`
}

// ReceiveResult is what MessageService.Receive returns.
type ReceiveResult struct {
	Messages []Message
	Failures []DeliveryFailure
}
