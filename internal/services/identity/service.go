package identity

import (
	"time"
	"unicode"

	"github.com/pkg/errors"
	"gopkg.in/op/go-logging.v1"

	"parley/internal/crypto"
	"parley/internal/domain"
	plog "parley/internal/log"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

// Service manages the identity key pair using a backing store.
//
// The identity is one RSA key pair: the public half is published so peers
// can wrap conversation keys for us, the private half unwraps them and never
// leaves the passphrase-sealed keystore.
type Service struct {
	store    domain.IdentityStore
	bits     int
	lifetime time.Duration
	log      *logging.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithKeySize sets the RSA modulus size for new identities.
func WithKeySize(bits int) Option {
	return func(s *Service) {
		if bits > 0 {
			s.bits = bits
		}
	}
}

// WithLifetime sets how long new identities stay valid. Zero means forever.
func WithLifetime(d time.Duration) Option {
	return func(s *Service) { s.lifetime = d }
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New returns an identity service backed by the given store.
func New(store domain.IdentityStore, opts ...Option) *Service {
	s := &Service{
		store: store,
		bits:  crypto.DefaultRSABits,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = plog.Discard().GetLogger("identity")
	}
	return s
}

// GenerateIdentity creates a new identity, saves it encrypted with the
// passphrase, and returns it with the fingerprint of its public key. Any
// previous identity is replaced.
func (s *Service) GenerateIdentity(
	passphrase string,
) (domain.IdentityRecord, domain.Fingerprint, error) {
	if !isSecurePassphrase(passphrase) {
		return domain.IdentityRecord{}, "", domain.ErrWeakPassphrase
	}

	kp, err := crypto.GenerateKeyPair(s.bits, s.lifetime)
	if err != nil {
		return domain.IdentityRecord{}, "", err
	}
	rec, err := crypto.RecordFromKeyPair(kp)
	if err != nil {
		return domain.IdentityRecord{}, "", err
	}
	if err := s.store.SaveIdentity(passphrase, rec); err != nil {
		return domain.IdentityRecord{}, "", errors.Wrap(err, "save identity")
	}
	fp := crypto.Fingerprint(rec.PublicKey)
	s.log.Noticef("Generated %d-bit identity %s", s.bits, fp)
	return rec, fp, nil
}

// LoadIdentity decrypts and returns the local identity.
func (s *Service) LoadIdentity(passphrase string) (domain.IdentityRecord, error) {
	return s.store.LoadIdentity(passphrase)
}

// EnsureIdentity returns the stored identity, generating one when none
// exists yet or the stored one has expired.
func (s *Service) EnsureIdentity(passphrase string) (domain.IdentityRecord, bool, error) {
	rec, err := s.store.LoadIdentity(passphrase)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.log.Info("No identity found, generating one")
	case err != nil:
		return domain.IdentityRecord{}, false, err
	case rec.Expired(s.now()):
		s.log.Noticef("Identity %s expired, rotating", crypto.Fingerprint(rec.PublicKey))
	default:
		return rec, false, nil
	}
	rec, _, err = s.GenerateIdentity(passphrase)
	if err != nil {
		return domain.IdentityRecord{}, false, err
	}
	return rec, true, nil
}

// FingerprintIdentity returns a short fingerprint of the local public key.
func (s *Service) FingerprintIdentity(passphrase string) (domain.Fingerprint, error) {
	rec, err := s.store.LoadIdentity(passphrase)
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(rec.PublicKey), nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
