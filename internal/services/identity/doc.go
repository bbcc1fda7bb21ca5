// Package identity manages creation, encryption and loading of the local identity.
//
// It enforces passphrase policy, generates the RSA identity key pair on an
// explicit call (never as a side effect), rotates it when it expires, and
// persists it via the domain.IdentityStore.
package identity
