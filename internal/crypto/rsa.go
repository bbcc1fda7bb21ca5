package crypto

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"time"

	"github.com/pkg/errors"

	"parley/internal/domain"
)

const (
	// MinRSABits is the smallest modulus accepted for identity keys.
	MinRSABits = 2048
	// DefaultRSABits is used when configuration does not pick a size.
	DefaultRSABits = 2048
)

// EncryptKey is a public key handle. It can wrap conversation keys and
// nothing else.
type EncryptKey struct {
	pub *rsa.PublicKey
}

// IsZero reports whether the handle holds no key.
func (k EncryptKey) IsZero() bool { return k.pub == nil }

// Bits returns the modulus size.
func (k EncryptKey) Bits() int {
	if k.pub == nil {
		return 0
	}
	return k.pub.N.BitLen()
}

// DecryptKey is a private key handle. It can unwrap conversation keys and
// nothing else.
type DecryptKey struct {
	priv *rsa.PrivateKey
}

// IsZero reports whether the handle holds no key.
func (k DecryptKey) IsZero() bool { return k.priv == nil }

// Public returns the encrypt-only handle for the matching public key.
func (k DecryptKey) Public() EncryptKey {
	if k.priv == nil {
		return EncryptKey{}
	}
	return EncryptKey{pub: &k.priv.PublicKey}
}

// KeyPair is a long-lived identity key pair.
type KeyPair struct {
	Private   DecryptKey
	Public    EncryptKey
	CreatedAt time.Time
	ExpiresAt time.Time // zero means no expiry
}

// Expired reports whether the pair is past ExpiresAt.
func (p KeyPair) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// GenerateKeyPair returns a fresh RSA key pair for OAEP-SHA256 key wrapping.
// A lifetime of zero means the pair does not expire.
func GenerateKeyPair(bits int, lifetime time.Duration) (KeyPair, error) {
	if bits < MinRSABits {
		return KeyPair{}, errors.Wrapf(domain.ErrWeakKey, "%d bits requested, minimum %d", bits, MinRSABits)
	}
	priv, err := rsa.GenerateKey(randReader, bits)
	if err != nil {
		return KeyPair{}, errors.Wrapf(domain.ErrCryptoUnavailable, "rsa generate: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	kp := KeyPair{
		Private:   DecryptKey{priv: priv},
		Public:    EncryptKey{pub: &priv.PublicKey},
		CreatedAt: now,
	}
	if lifetime > 0 {
		kp.ExpiresAt = now.Add(lifetime)
	}
	return kp, nil
}

// ExportPublicKey encodes the key as SubjectPublicKeyInfo DER.
func ExportPublicKey(k EncryptKey) ([]byte, error) {
	if k.pub == nil {
		return nil, errors.Wrap(domain.ErrInvalidKey, "export empty public key")
	}
	return x509.MarshalPKIXPublicKey(k.pub)
}

// ExportPrivateKey encodes the key as PKCS#8 DER. The result must only be
// written to local, protected storage.
func ExportPrivateKey(k DecryptKey) ([]byte, error) {
	if k.priv == nil {
		return nil, errors.Wrap(domain.ErrInvalidKey, "export empty private key")
	}
	return x509.MarshalPKCS8PrivateKey(k.priv)
}

// ImportPublicKey parses SubjectPublicKeyInfo DER into an encrypt-only handle.
func ImportPublicKey(der []byte) (EncryptKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return EncryptKey{}, errors.Wrapf(domain.ErrInvalidKey, "parse public key: %v", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return EncryptKey{}, errors.Wrapf(domain.ErrInvalidKey, "public key is %T, want RSA", parsed)
	}
	if pub.N.BitLen() < MinRSABits {
		return EncryptKey{}, errors.Wrapf(domain.ErrWeakKey, "public key has %d bits", pub.N.BitLen())
	}
	return EncryptKey{pub: pub}, nil
}

// ImportPrivateKey parses PKCS#8 DER into a decrypt-only handle.
func ImportPrivateKey(der []byte) (DecryptKey, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return DecryptKey{}, errors.Wrapf(domain.ErrInvalidKey, "parse private key: %v", err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return DecryptKey{}, errors.Wrapf(domain.ErrInvalidKey, "private key is %T, want RSA", parsed)
	}
	if priv.N.BitLen() < MinRSABits {
		return DecryptKey{}, errors.Wrapf(domain.ErrWeakKey, "private key has %d bits", priv.N.BitLen())
	}
	if err := priv.Validate(); err != nil {
		return DecryptKey{}, errors.Wrapf(domain.ErrInvalidKey, "validate private key: %v", err)
	}
	return DecryptKey{priv: priv}, nil
}

// WrapKey encrypts raw conversation key bytes under the recipient's public key.
func WrapKey(recipient EncryptKey, raw []byte) ([]byte, error) {
	if recipient.pub == nil {
		return nil, errors.Wrap(domain.ErrMissingRecipientKey, "wrap")
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), randReader, recipient.pub, raw, nil)
	if err != nil {
		if errors.Is(err, rsa.ErrMessageTooLong) {
			return nil, errors.Wrapf(domain.ErrInvalidKey, "wrap %d bytes: %v", len(raw), err)
		}
		return nil, errors.Wrapf(domain.ErrCryptoUnavailable, "rsa-oaep encrypt: %v", err)
	}
	return wrapped, nil
}

// UnwrapKey reverses WrapKey with the owner's private key.
func UnwrapKey(own DecryptKey, wrapped []byte) ([]byte, error) {
	if own.priv == nil {
		return nil, errors.Wrap(domain.ErrUnwrapFailed, "no private key")
	}
	raw, err := rsa.DecryptOAEP(sha256.New(), nil, own.priv, wrapped, nil)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrUnwrapFailed, "rsa-oaep decrypt: %v", err)
	}
	return raw, nil
}

// KeyPairFromRecord imports a persisted identity.
func KeyPairFromRecord(rec domain.IdentityRecord) (KeyPair, error) {
	priv, err := ImportPrivateKey(rec.PrivateKey)
	if err != nil {
		return KeyPair{}, err
	}
	kp := KeyPair{
		Private:   priv,
		Public:    priv.Public(),
		CreatedAt: time.Unix(rec.CreatedUTC, 0).UTC(),
	}
	if rec.ExpiresUTC != 0 {
		kp.ExpiresAt = time.Unix(rec.ExpiresUTC, 0).UTC()
	}
	return kp, nil
}

// RecordFromKeyPair exports kp for the identity keystore.
func RecordFromKeyPair(kp KeyPair) (domain.IdentityRecord, error) {
	priv, err := ExportPrivateKey(kp.Private)
	if err != nil {
		return domain.IdentityRecord{}, err
	}
	pub, err := ExportPublicKey(kp.Public)
	if err != nil {
		return domain.IdentityRecord{}, err
	}
	rec := domain.IdentityRecord{
		PrivateKey: priv,
		PublicKey:  pub,
		CreatedUTC: kp.CreatedAt.Unix(),
	}
	if !kp.ExpiresAt.IsZero() {
		rec.ExpiresUTC = kp.ExpiresAt.Unix()
	}
	return rec, nil
}
