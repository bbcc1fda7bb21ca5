package message

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
	"parley/internal/services/session"
)

const ackTimeout = 10 * time.Second

// Service sends and receives messages over the relay.
type Service struct {
	ids      domain.IdentityService
	sessions *session.Service
	history  domain.HistoryStore
	relay    domain.RelayClient
	log      *logging.Logger

	mu      sync.Mutex
	builder *envelope.Builder
}

// New constructs a message Service.
func New(
	ids domain.IdentityService,
	sessions *session.Service,
	history domain.HistoryStore,
	relay domain.RelayClient,
	log *logging.Logger,
) *Service {
	if log == nil {
		log = plog.Discard().GetLogger("message")
	}
	return &Service{
		ids:      ids,
		sessions: sessions,
		history:  history,
		relay:    relay,
		log:      log,
	}
}

// unlock returns the envelope builder for me, loading the identity on first
// use. Later calls reuse the unlocked identity.
func (s *Service) unlock(passphrase string, me domain.Username) (*envelope.Builder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.builder != nil && s.builder.Self() == me {
		return s.builder, nil
	}
	rec, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return nil, errors.Wrap(err, "unlock identity")
	}
	kp, err := crypto.KeyPairFromRecord(rec)
	if err != nil {
		return nil, err
	}
	if kp.Expired(time.Now()) {
		s.log.Warningf("Identity %s has expired; run init to rotate it", crypto.Fingerprint(rec.PublicKey))
	}
	if s.builder != nil {
		s.sessions.Reset()
	}
	s.builder = envelope.NewBuilder(me, kp)
	return s.builder, nil
}

// SendMessage encrypts text for to and posts it to the relay.
//
// The plaintext is recorded locally once the envelope is built, whether or
// not the relay accepts it; Delivered is set only after it does. A recipient
// with no published key fails with ErrMissingRecipientKey and nothing is
// recorded.
func (s *Service) SendMessage(
	ctx context.Context,
	passphrase string,
	from domain.Username,
	to domain.Username,
	text string,
) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	b, err := s.unlock(passphrase, from)
	if err != nil {
		return domain.Message{}, err
	}
	sess, err := s.sessions.Open(b, to)
	if err != nil {
		return domain.Message{}, err
	}
	if !sess.HasPeerKey() {
		if _, err := s.sessions.Resolve(ctx, sess); err != nil {
			return domain.Message{}, err
		}
	}

	env, msg, err := b.PrepareOutgoing(ctx, sess, text)
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.sessions.Save(b, sess); err != nil {
		return msg, err
	}
	if err := s.history.AppendMessage(msg); err != nil {
		return msg, err
	}

	if err := s.relay.SendMessage(ctx, env); err != nil {
		if env.CarriesKey() {
			// the peer never saw this wrapped key
			sess.RequestRewrap()
			if serr := s.sessions.Save(b, sess); serr != nil {
				s.log.Errorf("Failed to persist rewrap for %s: %v", to, serr)
			}
		}
		return msg, errors.Wrapf(err, "deliver to %s", to)
	}
	msg.Delivered = true
	if err := s.history.MarkDelivered(msg.ID); err != nil {
		s.log.Warningf("Failed to mark %s delivered: %v", msg.ID, err)
	}
	s.log.Debugf("Sent %s to %s (wrapped key: %v)", env.ID, to, env.CarriesKey())
	return msg, nil
}

// ReceiveMessages fetches up to limit queued envelopes for me and opens them
// in arrival order. Every processed envelope is acknowledged, including the
// ones that failed to open; those are reported in Failures.
//
// A message that opened but could not be stored locally stops the batch.
// Only the envelopes before it are acknowledged, so the relay delivers it
// again, and the error is returned with the partial result.
func (s *Service) ReceiveMessages(
	ctx context.Context,
	passphrase string,
	me domain.Username,
	limit int,
) (domain.ReceiveResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ReceiveResult{}, err
	}
	b, err := s.unlock(passphrase, me)
	if err != nil {
		return domain.ReceiveResult{}, err
	}
	envs, err := s.relay.FetchMessages(ctx, me, limit)
	if err != nil {
		return domain.ReceiveResult{}, errors.Wrap(err, "fetch")
	}

	var (
		res       domain.ReceiveResult
		processed int
		stopErr   error
	)
	for _, env := range envs {
		if ctx.Err() != nil {
			break
		}
		msg, discard, err := s.receiveOne(ctx, b, me, env)
		if err != nil {
			s.log.Errorf("Stopped receiving at envelope %s from %s: %v", env.ID, env.From, err)
			stopErr = err
			break
		}
		processed++
		if discard != nil {
			s.log.Warningf("Discarded envelope %s from %s: %v", env.ID, env.From, discard)
			res.Failures = append(res.Failures, domain.DeliveryFailure{
				EnvelopeID: env.ID,
				From:       env.From,
				Reason:     domain.UserFacing(discard),
				Err:        discard,
			})
			continue
		}
		res.Messages = append(res.Messages, msg)
	}

	if processed > 0 {
		ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
		defer cancel()
		if err := s.relay.AckMessages(ackCtx, me, processed); err != nil {
			if stopErr != nil {
				s.log.Errorf("Failed to ack %d envelopes: %v", processed, err)
				return res, stopErr
			}
			return res, errors.Wrap(err, "ack")
		}
	}
	return res, stopErr
}

// receiveOne opens env into its session and stores the result. discard is
// set when the envelope itself is unusable; err is a local failure that
// leaves env unconsumed.
func (s *Service) receiveOne(
	ctx context.Context,
	b *envelope.Builder,
	me domain.Username,
	env domain.Envelope,
) (msg domain.Message, discard error, err error) {
	if env.To != me {
		return domain.Message{}, errors.Errorf("envelope addressed to %s", env.To), nil
	}
	if env.From == "" {
		return domain.Message{}, errors.New("envelope has no sender"), nil
	}
	sess, err := s.sessions.Open(b, env.From)
	if err != nil {
		return domain.Message{}, nil, err
	}

	msg, discard = b.AcceptIncoming(ctx, sess, env)
	if discard != nil {
		if err := ctx.Err(); err != nil {
			return domain.Message{}, nil, err
		}
		return domain.Message{}, discard, nil
	}

	if err := s.sessions.Save(b, sess); err != nil {
		s.sessions.Evict(env.From)
		return domain.Message{}, nil, err
	}
	if err := s.history.AppendMessage(msg); err != nil {
		// reload from the stores when the relay delivers it again
		s.sessions.Evict(env.From)
		return domain.Message{}, nil, errors.Wrapf(err, "store message %s", msg.ID)
	}
	return msg, nil, nil
}

// Listen receives whenever the relay reports pending envelopes and passes
// each batch to fn. It returns when ctx is done.
func (s *Service) Listen(
	ctx context.Context,
	passphrase string,
	me domain.Username,
	fn func(domain.ReceiveResult, error),
) error {
	if _, err := s.unlock(passphrase, me); err != nil {
		return err
	}
	return s.relay.Subscribe(ctx, me, func(pending int) {
		if pending == 0 {
			return
		}
		fn(s.ReceiveMessages(ctx, passphrase, me, pending))
	})
}

// ResolvePeer fetches and caches the peer's current public key.
func (s *Service) ResolvePeer(
	ctx context.Context,
	passphrase string,
	me domain.Username,
	peer domain.Username,
) (domain.Contact, error) {
	b, err := s.unlock(passphrase, me)
	if err != nil {
		return domain.Contact{}, err
	}
	sess, err := s.sessions.Open(b, peer)
	if err != nil {
		return domain.Contact{}, err
	}
	c, err := s.sessions.Resolve(ctx, sess)
	if err != nil {
		return domain.Contact{}, err
	}
	return c, s.sessions.Save(b, sess)
}

// RotateConversation replaces the conversation key with peer. The next
// message carries the new key.
func (s *Service) RotateConversation(
	ctx context.Context,
	passphrase string,
	me domain.Username,
	peer domain.Username,
) error {
	b, err := s.unlock(passphrase, me)
	if err != nil {
		return err
	}
	sess, err := s.sessions.Open(b, peer)
	if err != nil {
		return err
	}
	if err := b.Rotate(ctx, sess); err != nil {
		return err
	}
	s.log.Noticef("Rotated conversation key with %s", peer)
	return s.sessions.Save(b, sess)
}

// ForgetConversation tears the conversation with peer down to NO_KEY and
// deletes its history.
func (s *Service) ForgetConversation(peer domain.Username) error {
	return s.sessions.Teardown(peer)
}

// History returns the latest limit messages with peer, oldest first.
func (s *Service) History(peer domain.Username, limit int) ([]domain.Message, error) {
	return s.history.ListMessages(peer, limit)
}

var _ domain.MessageService = (*Service)(nil)
