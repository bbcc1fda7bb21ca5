package envelope

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"parley/internal/crypto"
	"parley/internal/domain"
)

// maxEstablishAttempts bounds retries after another caller's bad envelope
// failed the shared unwrap.
const maxEstablishAttempts = 3

// Builder produces and consumes envelopes on behalf of one local identity.
// It is safe for concurrent use across sessions.
type Builder struct {
	self     domain.Username
	identity crypto.KeyPair

	flight singleflight.Group

	now   func() time.Time
	newID func() string
}

// NewBuilder returns a builder for self, unwrapping with identity.
func NewBuilder(self domain.Username, identity crypto.KeyPair) *Builder {
	return &Builder{
		self:     self,
		identity: identity,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Self returns the local username.
func (b *Builder) Self() domain.Username { return b.self }

// PrepareOutgoing encrypts plaintext for the session's peer.
//
// It fails with ErrMissingRecipientKey, before any key material is
// generated, when the peer's public key has not been resolved. In that case
// nothing is appended to the log so the caller can resolve and retry.
func (b *Builder) PrepareOutgoing(
	ctx context.Context,
	s *Session,
	plaintext string,
) (domain.Envelope, domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Envelope{}, domain.Message{}, err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	peerKey := s.wrapKey()
	if peerKey.IsZero() {
		return domain.Envelope{}, domain.Message{}, errors.Wrapf(domain.ErrMissingRecipientKey, "send to %s", s.Peer)
	}

	key := s.key.Load()
	var wrapped []byte
	if key == nil {
		fresh, err := crypto.GenerateConversationKey()
		if err != nil {
			return domain.Envelope{}, domain.Message{}, err
		}
		w, err := wrapFor(peerKey, fresh)
		if err != nil {
			return domain.Envelope{}, domain.Message{}, err
		}
		if s.key.CompareAndSwap(nil, fresh) {
			key, wrapped = fresh, w
			s.markEstablished(b.now().UTC(), false)
		} else {
			// an inbound envelope established the key first
			key = s.key.Load()
		}
	}
	if wrapped == nil && s.needsWrap() {
		w, err := wrapFor(peerKey, key)
		if err != nil {
			return domain.Envelope{}, domain.Message{}, err
		}
		wrapped = w
	}

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return domain.Envelope{}, domain.Message{}, err
	}
	ct, err := crypto.EncryptSymmetric(nonce, key, plaintext)
	if err != nil {
		return domain.Envelope{}, domain.Message{}, err
	}

	now := b.now()
	env := domain.Envelope{
		ID:         b.newID(),
		From:       b.self,
		To:         s.Peer,
		Ciphertext: crypto.BytesToText(ct),
		IV:         crypto.BytesToText(nonce[:]),
		Timestamp:  now.UnixMilli(),
	}
	if wrapped != nil {
		env.EncryptedAESKey = crypto.BytesToText(wrapped)
		s.mu.Lock()
		env.Rekey = s.rotating
		s.rewrap = false
		s.mu.Unlock()
	}

	msg := domain.Message{
		ID:        env.ID,
		Peer:      s.Peer,
		From:      b.self,
		To:        s.Peer,
		Text:      plaintext,
		Outgoing:  true,
		Timestamp: env.Timestamp,
	}
	s.appendMessage(msg)
	return env, msg, nil
}

// AcceptIncoming decrypts env into the session's log.
//
// Any failure discards the message: the log is unchanged and the
// established conversation key stays in place.
func (b *Builder) AcceptIncoming(ctx context.Context, s *Session, env domain.Envelope) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	if env.From != s.Peer {
		return domain.Message{}, errors.Errorf("envelope from %s offered to session with %s", env.From, s.Peer)
	}

	ct, err := crypto.TextToBytes(env.Ciphertext)
	if err != nil {
		return domain.Message{}, errors.Wrap(err, "ciphertext")
	}
	iv, err := crypto.TextToBytes(env.IV)
	if err != nil {
		return domain.Message{}, errors.Wrap(err, "iv")
	}
	nonce, err := crypto.NonceFromBytes(iv)
	if err != nil {
		return domain.Message{}, err
	}
	var wrapped []byte
	if env.CarriesKey() {
		if wrapped, err = crypto.TextToBytes(env.EncryptedAESKey); err != nil {
			return domain.Message{}, errors.Wrap(err, "encryptedAESKey")
		}
	}

	key := s.key.Load()
	if key == nil {
		if wrapped == nil {
			return domain.Message{}, errors.Wrapf(domain.ErrNoConversationKey, "from %s", s.Peer)
		}
		if key, err = b.establish(s, wrapped, nonce, ct); err != nil {
			return domain.Message{}, err
		}
	}

	pt, decErr := crypto.DecryptSymmetric(nonce, key, ct)
	if decErr == nil {
		s.confirm()
		return b.record(s, env, pt), nil
	}
	if old := s.retiredKey(); old != nil {
		// sent before the peer saw our replacement key
		if pt, err := crypto.DecryptSymmetric(nonce, old, ct); err == nil {
			return b.record(s, env, pt), nil
		}
	}
	if wrapped == nil {
		return domain.Message{}, decErr
	}
	return b.acceptRekey(s, env, key, wrapped, nonce, ct, decErr)
}

// establish unwraps and stores the first conversation key of s. The key is
// only stored once it has opened the envelope that carried it. Concurrent
// callers for the same peer share one unwrap, and a key that is already
// set always wins.
func (b *Builder) establish(
	s *Session,
	wrapped []byte,
	nonce crypto.Nonce,
	ct []byte,
) (*crypto.ConversationKey, error) {
	for attempt := 0; ; attempt++ {
		v, err, shared := b.flight.Do(string(s.Peer), func() (any, error) {
			if k := s.key.Load(); k != nil {
				return k, nil
			}
			k, err := b.unwrap(wrapped)
			if err != nil {
				return nil, err
			}
			if _, err := crypto.DecryptSymmetric(nonce, k, ct); err != nil {
				return nil, err
			}
			if !s.key.CompareAndSwap(nil, k) {
				return s.key.Load(), nil
			}
			s.markEstablished(b.now().UTC(), true)
			return k, nil
		})
		if err != nil {
			// a shared failure belongs to another caller's envelope
			if shared && attempt < maxEstablishAttempts && s.key.Load() == nil {
				continue
			}
			return nil, err
		}
		return v.(*crypto.ConversationKey), nil
	}
}

// acceptRekey handles an envelope that did not open under the current key
// but carries a wrapped key of its own.
func (b *Builder) acceptRekey(
	s *Session,
	env domain.Envelope,
	current *crypto.ConversationKey,
	wrapped []byte,
	nonce crypto.Nonce,
	ct []byte,
	decErr error,
) (domain.Message, error) {
	offered, err := b.unwrap(wrapped)
	if err != nil {
		return domain.Message{}, err
	}
	if offered.Equal(current) {
		return domain.Message{}, decErr
	}
	pt, err := crypto.DecryptSymmetric(nonce, offered, ct)
	if err != nil {
		return domain.Message{}, decErr
	}

	// A peer that has used our key, or that announces a rotation we did not
	// start, is followed. Two fresh keys crossing are settled by username.
	s.mu.Lock()
	stale := s.retired != nil && offered.Equal(s.retired)
	adopt := !stale && (s.peerHasKey || (env.Rekey && !s.rotating) || env.From < b.self)
	s.mu.Unlock()
	if adopt && s.key.CompareAndSwap(current, offered) {
		s.mu.Lock()
		s.established = b.now().UTC()
		s.peerHasKey = true
		s.rewrap = false
		s.rotating = false
		s.retired = current
		s.mu.Unlock()
	}
	return b.record(s, env, pt), nil
}

func (b *Builder) unwrap(wrapped []byte) (*crypto.ConversationKey, error) {
	raw, err := crypto.UnwrapKey(b.identity.Private, wrapped)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(raw)
	return crypto.ImportConversationKey(raw)
}

func (b *Builder) record(s *Session, env domain.Envelope, text string) domain.Message {
	ts := env.Timestamp
	if ts == 0 {
		ts = b.now().UnixMilli()
	}
	msg := domain.Message{
		ID:        env.ID,
		Peer:      s.Peer,
		From:      env.From,
		To:        env.To,
		Text:      text,
		Timestamp: ts,
		Delivered: true,
	}
	s.appendMessage(msg)
	return msg
}

// Rotate replaces the session's conversation key with a fresh one and makes
// the next envelope carry it. A session with no key has nothing to rotate.
func (b *Builder) Rotate(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	old := s.key.Load()
	if old == nil {
		return errors.Wrapf(domain.ErrNoConversationKey, "rotate %s", s.Peer)
	}
	fresh, err := crypto.GenerateConversationKey()
	if err != nil {
		return err
	}
	s.key.Store(fresh)
	s.mu.Lock()
	s.established = b.now().UTC()
	s.peerHasKey = false
	s.rewrap = true
	s.rotating = true
	s.retired = old
	s.mu.Unlock()
	return nil
}

// Snapshot returns the durable form of s. The conversation key is sealed
// under the builder's own public key.
func (b *Builder) Snapshot(s *Session) (domain.SessionRecord, error) {
	s.mu.Lock()
	rec := domain.SessionRecord{
		Peer:          s.Peer,
		PeerPublicKey: append([]byte(nil), s.peerKeyDER...),
		PeerHasKey:    s.peerHasKey,
		Rewrap:        s.rewrap,
		Rotating:      s.rotating,
	}
	if !s.established.IsZero() {
		rec.EstablishedUTC = s.established.Unix()
	}
	retired := s.retired
	s.mu.Unlock()
	if len(rec.PeerPublicKey) == 0 {
		rec.PeerPublicKey = nil
	}

	if key := s.key.Load(); key != nil {
		sealed, err := wrapFor(b.identity.Public, key)
		if err != nil {
			return domain.SessionRecord{}, errors.Wrap(err, "seal conversation key")
		}
		rec.SealedKey = sealed
	}
	if retired != nil {
		sealed, err := wrapFor(b.identity.Public, retired)
		if err != nil {
			return domain.SessionRecord{}, errors.Wrap(err, "seal retired key")
		}
		rec.SealedRetiredKey = sealed
	}
	return rec, nil
}

// Restore rebuilds a session from its durable form. The message log is not
// part of the record; seed it with LoadMessages.
func (b *Builder) Restore(rec domain.SessionRecord) (*Session, error) {
	s := NewSession(rec.Peer)
	if len(rec.PeerPublicKey) > 0 {
		if err := s.SetPeerKey(rec.PeerPublicKey); err != nil {
			return nil, errors.Wrapf(err, "restore peer key for %s", rec.Peer)
		}
	}
	if len(rec.SealedKey) > 0 {
		k, err := b.unwrap(rec.SealedKey)
		if err != nil {
			return nil, errors.Wrapf(err, "unseal conversation key for %s", rec.Peer)
		}
		s.key.Store(k)
	}
	if len(rec.SealedRetiredKey) > 0 {
		k, err := b.unwrap(rec.SealedRetiredKey)
		if err != nil {
			return nil, errors.Wrapf(err, "unseal retired key for %s", rec.Peer)
		}
		s.retired = k
	}
	s.peerHasKey = rec.PeerHasKey
	s.rewrap = rec.Rewrap
	s.rotating = rec.Rotating
	if rec.EstablishedUTC != 0 {
		s.established = time.Unix(rec.EstablishedUTC, 0).UTC()
	}
	return s, nil
}

func wrapFor(pub crypto.EncryptKey, key *crypto.ConversationKey) ([]byte, error) {
	raw := key.Raw()
	defer crypto.Wipe(raw)
	return crypto.WrapKey(pub, raw)
}
