package types

// AccountProfile identifies a Parley account on a specific relay server.
type AccountProfile struct {
	ServerURL string   `json:"server_url"`
	Username  Username `json:"username"`
	Token     string   `json:"token"`
}

// Contact caches a counterparty's resolved public key.
type Contact struct {
	Username    Username    `json:"username"`
	PublicKey   []byte      `json:"public_key"`
	Fingerprint Fingerprint `json:"fingerprint"`
	ResolvedUTC int64       `json:"resolved_utc"`
}
