package interfaces

import (
	"context"

	domaintypes "parley/internal/domain/types"
)

// IdentityService creates, retrieves, and inspects your identity key pair.
type IdentityService interface {
	GenerateIdentity(passphrase string) (
		domaintypes.IdentityRecord,
		domaintypes.Fingerprint,
		error,
	)
	LoadIdentity(passphrase string) (domaintypes.IdentityRecord, error)
	// EnsureIdentity loads the identity, generating a new one when none
	// exists or the stored one has expired. created reports a new key pair,
	// which must be published again.
	EnsureIdentity(passphrase string) (record domaintypes.IdentityRecord, created bool, err error)
	FingerprintIdentity(passphrase string) (domaintypes.Fingerprint, error)
}

// MessageService encrypts, sends, fetches and decrypts messages.
type MessageService interface {
	SendMessage(
		ctx context.Context,
		passphrase string,
		from domaintypes.Username,
		to domaintypes.Username,
		text string,
	) (domaintypes.Message, error)
	ReceiveMessages(
		ctx context.Context,
		passphrase string,
		me domaintypes.Username,
		limit int,
	) (domaintypes.ReceiveResult, error)
	// Listen receives whenever the relay reports queued envelopes, until ctx
	// is done.
	Listen(
		ctx context.Context,
		passphrase string,
		me domaintypes.Username,
		fn func(domaintypes.ReceiveResult, error),
	) error
	ResolvePeer(
		ctx context.Context,
		passphrase string,
		me domaintypes.Username,
		peer domaintypes.Username,
	) (domaintypes.Contact, error)
	RotateConversation(
		ctx context.Context,
		passphrase string,
		me domaintypes.Username,
		peer domaintypes.Username,
	) error
	ForgetConversation(peer domaintypes.Username) error
	History(peer domaintypes.Username, limit int) ([]domaintypes.Message, error)
}
