package domain

import "github.com/pkg/errors"

// Failure taxonomy shared by every layer. Callers match with errors.Is.
var (
	// ErrCryptoUnavailable means no secure randomness or crypto provider.
	ErrCryptoUnavailable = errors.New("secure crypto provider unavailable")
	// ErrMissingRecipientKey means the recipient's public key is not resolved.
	ErrMissingRecipientKey = errors.New("recipient public key not resolved")
	// ErrDecryptionFailed means an authentication tag did not verify.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrUnwrapFailed means a wrapped conversation key could not be opened.
	ErrUnwrapFailed = errors.New("conversation key unwrap failed")
	// ErrEncoding means transport text could not be decoded to binary.
	ErrEncoding = errors.New("malformed transport encoding")
	// ErrNoConversationKey means an envelope arrived for a conversation with
	// no established key and it carried none.
	ErrNoConversationKey = errors.New("no conversation key for peer")
	// ErrInvalidKey means key material could not be imported.
	ErrInvalidKey = errors.New("invalid key material")
	// ErrWeakKey means an asymmetric key is below the minimum size.
	ErrWeakKey = errors.New("asymmetric key too small")
	// ErrWrongPassphrase means the keystore could not be opened.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted keystore")
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrWeakPassphrase means the passphrase fails the strength policy.
	ErrWeakPassphrase = errors.New(
		"passphrase is too weak (must be at least 12 characters and include upper, lower, " +
			"number, and symbol)",
	)
)

// UserFacing maps a per-message failure to a non-technical description.
func UserFacing(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCryptoUnavailable):
		return "Secure messaging is unavailable on this device."
	case errors.Is(err, ErrMissingRecipientKey):
		return "The recipient's security key could not be found yet."
	case errors.Is(err, ErrDecryptionFailed),
		errors.Is(err, ErrUnwrapFailed),
		errors.Is(err, ErrEncoding),
		errors.Is(err, ErrNoConversationKey):
		return "A message could not be verified and was not delivered."
	default:
		return "Something went wrong while handling a message."
	}
}
