package interfaces

import (
	"context"

	domaintypes "parley/internal/domain/types"
)

// RelayClient is how we talk to the relay, which acts as both the backend
// (registration, public key directory) and the transport (envelope queues).
type RelayClient interface {
	// UseToken sets the bearer token for queue operations.
	UseToken(token string)

	Register(
		ctx context.Context,
		username domaintypes.Username,
		publicKey []byte,
	) (token string, err error)
	LookupPublicKey(ctx context.Context, username domaintypes.Username) ([]byte, error)

	SendMessage(ctx context.Context, envelope domaintypes.Envelope) error
	FetchMessages(
		ctx context.Context,
		username domaintypes.Username,
		limit int,
	) ([]domaintypes.Envelope, error)
	AckMessages(ctx context.Context, username domaintypes.Username, count int) error

	// Subscribe blocks until ctx is done, calling fn with the number of
	// queued envelopes whenever the relay reports new ones.
	Subscribe(ctx context.Context, username domaintypes.Username, fn func(pending int)) error
}
