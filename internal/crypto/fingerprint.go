package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"parley/internal/domain"
)

// Fingerprint returns a short hex fingerprint of an exported public key.
//
// It hashes with SHA-256 and truncates to 10 bytes (20 hex chars).
func Fingerprint(spki []byte) domain.Fingerprint {
	sum := sha256.Sum256(spki)
	return domain.Fingerprint(hex.EncodeToString(sum[:10]))
}
