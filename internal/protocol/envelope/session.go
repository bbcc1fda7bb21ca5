package envelope

import (
	"sync"
	"sync/atomic"
	"time"

	"parley/internal/crypto"
	"parley/internal/domain"
)

// Session is the mutable state of one conversation.
//
// The conversation key is published through an atomic pointer and is only
// ever swapped for a new value, so a reader never sees a half-written key.
type Session struct {
	Peer domain.Username

	// sendMu makes nonce generation and encryption one unit per session.
	sendMu sync.Mutex

	key atomic.Pointer[crypto.ConversationKey]

	mu          sync.Mutex
	peerKey     crypto.EncryptKey
	peerKeyDER  []byte
	peerHasKey  bool
	rewrap      bool
	established time.Time
	messages    []domain.Message

	// rotating is set by Rotate until the peer uses the new key. retired is
	// the key last replaced, kept to open envelopes already in flight and
	// never adopted again.
	rotating bool
	retired  *crypto.ConversationKey
}

// NewSession returns an empty NO_KEY session with peer.
func NewSession(peer domain.Username) *Session {
	return &Session{Peer: peer}
}

// SetPeerKey imports the peer's SubjectPublicKeyInfo bytes as the wrap key.
// A different key than the one already held forces the next envelope to
// carry the conversation key again.
func (s *Session) SetPeerKey(spki []byte) error {
	pub, err := crypto.ImportPublicKey(spki)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peerKeyDER != nil && string(s.peerKeyDER) != string(spki) {
		s.rewrap = true
	}
	s.peerKey = pub
	s.peerKeyDER = append([]byte(nil), spki...)
	return nil
}

// HasPeerKey reports whether the peer's public key has been resolved.
func (s *Session) HasPeerKey() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.peerKey.IsZero()
}

// State reports the key lifecycle state.
func (s *Session) State() domain.KeyState {
	if s.key.Load() == nil {
		return domain.NoKey
	}
	return domain.KeyEstablished
}

// EstablishedAt is when the current conversation key was set.
func (s *Session) EstablishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.established
}

// RequestRewrap makes the next outgoing envelope carry the wrapped key.
func (s *Session) RequestRewrap() {
	s.mu.Lock()
	s.rewrap = true
	s.mu.Unlock()
}

// Messages returns a copy of the decrypted message log in arrival order.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// LoadMessages seeds the log from durable history. It replaces whatever the
// session held.
func (s *Session) LoadMessages(msgs []domain.Message) {
	s.mu.Lock()
	s.messages = append([]domain.Message(nil), msgs...)
	s.mu.Unlock()
}

func (s *Session) appendMessage(m domain.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
}

// needsWrap reports whether outgoing envelopes must carry the key.
func (s *Session) needsWrap() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rewrap || !s.peerHasKey
}

func (s *Session) wrapKey() crypto.EncryptKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerKey
}

func (s *Session) markEstablished(at time.Time, peerHasKey bool) {
	s.mu.Lock()
	s.established = at
	s.peerHasKey = peerHasKey
	s.mu.Unlock()
}

// confirm records that the peer used the current key.
func (s *Session) confirm() {
	s.mu.Lock()
	s.peerHasKey = true
	s.rotating = false
	s.mu.Unlock()
}

func (s *Session) retiredKey() *crypto.ConversationKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}
