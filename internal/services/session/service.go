package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/op/go-logging.v1"

	"parley/internal/crypto"
	"parley/internal/domain"
	plog "parley/internal/log"
	"parley/internal/protocol/envelope"
)

// backlog is how much history a freshly opened session shows.
const backlog = 200

// Service tracks live sessions and their durable state.
type Service struct {
	sessions domain.SessionStore
	contacts domain.ContactStore
	history  domain.HistoryStore
	relay    domain.RelayClient
	log      *logging.Logger

	mu   sync.Mutex
	live map[domain.Username]*envelope.Session
}

// New constructs a session Service with the given stores and relay client.
func New(
	sessions domain.SessionStore,
	contacts domain.ContactStore,
	history domain.HistoryStore,
	relay domain.RelayClient,
	log *logging.Logger,
) *Service {
	if log == nil {
		log = plog.Discard().GetLogger("session")
	}
	return &Service{
		sessions: sessions,
		contacts: contacts,
		history:  history,
		relay:    relay,
		log:      log,
		live:     make(map[domain.Username]*envelope.Session),
	}
}

// Open returns the live session with peer, loading it on first use.
//
// A stored conversation key that no longer opens under b's identity (the
// identity was rotated) is dropped and the session starts over in NO_KEY.
func (s *Service) Open(b *envelope.Builder, peer domain.Username) (*envelope.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.live[peer]; ok {
		return sess, nil
	}

	sess := envelope.NewSession(peer)
	rec, ok, err := s.sessions.LoadSession(peer)
	if err != nil {
		return nil, errors.Wrapf(err, "load session %s", peer)
	}
	if ok {
		restored, err := b.Restore(rec)
		switch {
		case errors.Is(err, domain.ErrUnwrapFailed):
			s.log.Warningf("Stored key for %s is unreadable, starting a new conversation key", peer)
			rec.SealedKey, rec.SealedRetiredKey = nil, nil
			rec.Rotating = false
			if restored, err = b.Restore(rec); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		}
		sess = restored
	}

	if !sess.HasPeerKey() {
		c, ok, err := s.contacts.LoadContact(peer)
		if err != nil {
			return nil, errors.Wrapf(err, "load contact %s", peer)
		}
		if ok {
			if err := sess.SetPeerKey(c.PublicKey); err != nil {
				s.log.Warningf("Cached key for %s is unusable: %v", peer, err)
			}
		}
	}

	msgs, err := s.history.ListMessages(peer, backlog)
	if err != nil {
		return nil, errors.Wrapf(err, "load history %s", peer)
	}
	sess.LoadMessages(msgs)

	s.live[peer] = sess
	return sess, nil
}

// Resolve looks up the peer's current public key through the relay, binds
// it to the session and caches it as a contact.
//
// A peer that never published a key yields ErrMissingRecipientKey.
func (s *Service) Resolve(ctx context.Context, sess *envelope.Session) (domain.Contact, error) {
	pub, err := s.relay.LookupPublicKey(ctx, sess.Peer)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Contact{}, errors.Wrapf(domain.ErrMissingRecipientKey, "%s has not published a key", sess.Peer)
	}
	if err != nil {
		return domain.Contact{}, errors.Wrapf(err, "lookup %s", sess.Peer)
	}
	if err := sess.SetPeerKey(pub); err != nil {
		return domain.Contact{}, errors.Wrapf(err, "key published by %s", sess.Peer)
	}

	fp := crypto.Fingerprint(pub)
	if prev, ok, err := s.contacts.LoadContact(sess.Peer); err == nil && ok && prev.Fingerprint != fp {
		s.log.Warningf("Public key for %s changed from %s to %s", sess.Peer, prev.Fingerprint, fp)
	}
	c := domain.Contact{
		Username:    sess.Peer,
		PublicKey:   pub,
		Fingerprint: fp,
		ResolvedUTC: time.Now().Unix(),
	}
	if err := s.contacts.SaveContact(c); err != nil {
		return domain.Contact{}, errors.Wrap(err, "save contact")
	}
	s.log.Debugf("Resolved %s to %s", sess.Peer, fp)
	return c, nil
}

// Save persists the session's durable state.
func (s *Service) Save(b *envelope.Builder, sess *envelope.Session) error {
	rec, err := b.Snapshot(sess)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.sessions.SaveSession(rec), "save session %s", sess.Peer)
}

// Teardown forgets everything about the conversation with peer except the
// cached public key. This is the only way back to NO_KEY.
func (s *Service) Teardown(peer domain.Username) error {
	s.mu.Lock()
	delete(s.live, peer)
	s.mu.Unlock()

	if err := s.sessions.DeleteSession(peer); err != nil {
		return errors.Wrapf(err, "delete session %s", peer)
	}
	return errors.Wrapf(s.history.DeleteConversation(peer), "delete history %s", peer)
}

// Reset drops every live session, forcing the next Open to reload. Call it
// after the local identity changes.
func (s *Service) Reset() {
	s.mu.Lock()
	s.live = make(map[domain.Username]*envelope.Session)
	s.mu.Unlock()
}

// Evict drops the live session with peer so the next Open reloads its
// stored state.
func (s *Service) Evict(peer domain.Username) {
	s.mu.Lock()
	delete(s.live, peer)
	s.mu.Unlock()
}
