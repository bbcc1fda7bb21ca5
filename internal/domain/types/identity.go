package types

import "time"

// IdentityRecord is the persisted form of the long-lived identity key pair.
//
// PrivateKey holds PKCS#8 DER and is only ever written to the local,
// passphrase-protected keystore. PublicKey holds SubjectPublicKeyInfo DER.
type IdentityRecord struct {
	PrivateKey []byte `json:"private_key"`
	PublicKey  []byte `json:"public_key"`
	CreatedUTC int64  `json:"created_utc"`
	ExpiresUTC int64  `json:"expires_utc"`
}

// Expired reports whether the key pair is past its expiry at now.
// A zero ExpiresUTC never expires.
func (r IdentityRecord) Expired(now time.Time) bool {
	return r.ExpiresUTC != 0 && now.Unix() >= r.ExpiresUTC
}
