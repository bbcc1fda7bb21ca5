package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"

	"github.com/pkg/errors"

	"parley/internal/domain"
)

const (
	// KeyBytes is the conversation key size (AES-256).
	KeyBytes = 32
	// NonceBytes is the GCM nonce size.
	NonceBytes = 12
)

// Nonce is a per-encryption GCM nonce. It must never repeat under one key.
type Nonce [NonceBytes]byte

// NonceFromBytes copies b into a Nonce, rejecting any other length.
func NonceFromBytes(b []byte) (Nonce, error) {
	var n Nonce
	if len(b) != NonceBytes {
		return n, errors.Wrapf(domain.ErrEncoding, "nonce is %d bytes, want %d", len(b), NonceBytes)
	}
	copy(n[:], b)
	return n, nil
}

// ConversationKey is an AES-256-GCM key shared by the two parties of one
// conversation. It is extractable so it can be wrapped for the peer.
// Values are never modified after creation.
type ConversationKey struct {
	k [KeyBytes]byte
}

// GenerateConversationKey returns a fresh random conversation key.
func GenerateConversationKey() (*ConversationKey, error) {
	ck := new(ConversationKey)
	if err := readRandom(ck.k[:]); err != nil {
		return nil, err
	}
	return ck, nil
}

// ImportConversationKey builds a key from raw bytes.
func ImportConversationKey(raw []byte) (*ConversationKey, error) {
	if len(raw) != KeyBytes {
		return nil, errors.Wrapf(domain.ErrInvalidKey, "conversation key is %d bytes, want %d", len(raw), KeyBytes)
	}
	ck := new(ConversationKey)
	copy(ck.k[:], raw)
	return ck, nil
}

// Raw returns a copy of the key bytes. Callers should Wipe it after use.
func (c *ConversationKey) Raw() []byte {
	out := make([]byte, KeyBytes)
	copy(out, c.k[:])
	return out
}

// Equal compares two keys in constant time.
func (c *ConversationKey) Equal(o *ConversationKey) bool {
	if c == nil || o == nil {
		return c == o
	}
	return subtle.ConstantTimeCompare(c.k[:], o.k[:]) == 1
}

// GenerateNonce returns 12 fresh random bytes.
func GenerateNonce() (Nonce, error) {
	var n Nonce
	err := readRandom(n[:])
	return n, err
}

// EncryptSymmetric seals plaintext with AES-256-GCM. The tag is appended to
// the returned ciphertext.
func EncryptSymmetric(nonce Nonce, key *ConversationKey, plaintext string) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce[:], []byte(plaintext), nil), nil
}

// DecryptSymmetric opens ciphertext sealed by EncryptSymmetric. A wrong key,
// wrong nonce or any tampering yields ErrDecryptionFailed.
func DecryptSymmetric(nonce Nonce, key *ConversationKey, ciphertext []byte) (string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}
	pt, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return "", errors.Wrapf(domain.ErrDecryptionFailed, "aes-gcm open: %v", err)
	}
	return string(pt), nil
}

func newGCM(key *ConversationKey) (cipher.AEAD, error) {
	if key == nil {
		return nil, errors.Wrap(domain.ErrNoConversationKey, "aes-gcm")
	}
	block, err := aes.NewCipher(key.k[:])
	if err != nil {
		return nil, errors.Wrap(err, "aes")
	}
	return cipher.NewGCM(block)
}
