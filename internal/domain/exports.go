package domain

import (
	interfaces "parley/internal/domain/interfaces"
	types "parley/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Username        = types.Username
	Fingerprint     = types.Fingerprint
	KeyState        = types.KeyState
	IdentityRecord  = types.IdentityRecord
	AccountProfile  = types.AccountProfile
	Contact         = types.Contact
	Envelope        = types.Envelope
	Message         = types.Message
	DeliveryFailure = types.DeliveryFailure
	ReceiveResult   = types.ReceiveResult
	SessionRecord   = types.SessionRecord
)

// Key states.
const (
	NoKey          = types.NoKey
	KeyEstablished = types.KeyEstablished
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	IdentityService = interfaces.IdentityService
	MessageService  = interfaces.MessageService
	RelayClient     = interfaces.RelayClient
	IdentityStore   = interfaces.IdentityStore
	KeyValueStore   = interfaces.KeyValueStore
	AccountStore    = interfaces.AccountStore
	ContactStore    = interfaces.ContactStore
	SessionStore    = interfaces.SessionStore
	HistoryStore    = interfaces.HistoryStore
)
