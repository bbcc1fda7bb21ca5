package types

// Username identifies a party on the relay (phone number, handle, ...).
type Username string

// String returns the string form of the username.
func (u Username) String() string { return string(u) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// KeyState is the conversation key lifecycle of a session.
type KeyState int

const (
	// NoKey means no conversation key has been generated or received yet.
	NoKey KeyState = iota
	// KeyEstablished means the session holds an active conversation key.
	KeyEstablished
)

// String returns the state name.
func (s KeyState) String() string {
	switch s {
	case NoKey:
		return "NO_KEY"
	case KeyEstablished:
		return "KEY_ESTABLISHED"
	default:
		return "UNKNOWN"
	}
}
