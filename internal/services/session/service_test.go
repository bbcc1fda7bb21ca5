package session_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"parley/internal/crypto"
	"parley/internal/domain"
	"parley/internal/protocol/envelope"
	"parley/internal/services/session"
	"parley/internal/store"
)

var (
	keysOnce sync.Once
	keys     [3]crypto.KeyPair
	keysErr  error
)

func identities(t *testing.T) [3]crypto.KeyPair {
	t.Helper()
	keysOnce.Do(func() {
		for i := range keys {
			if keys[i], keysErr = crypto.GenerateKeyPair(crypto.DefaultRSABits, 0); keysErr != nil {
				return
			}
		}
	})
	require.NoError(t, keysErr)
	return keys
}

func spki(t *testing.T, kp crypto.KeyPair) []byte {
	t.Helper()
	der, err := crypto.ExportPublicKey(kp.Public)
	require.NoError(t, err)
	return der
}

// directory is a relay that only answers key lookups.
type directory struct {
	domain.RelayClient
	keys map[domain.Username][]byte
}

func (d *directory) LookupPublicKey(_ context.Context, u domain.Username) ([]byte, error) {
	k, ok := d.keys[u]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "public key for %s", u)
	}
	return k, nil
}

type fixture struct {
	kv       *store.BoltStore
	hist     *store.HistorySQLite
	sessions *store.SessionKVStore
	contacts *store.ContactKVStore
	relay    *directory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	kv, err := store.OpenBolt(filepath.Join(dir, "parley.db"))
	require.NoError(t, err)
	hist, err := store.OpenHistory(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = hist.Close()
		_ = kv.Close()
	})
	return &fixture{
		kv:       kv,
		hist:     hist,
		sessions: store.NewSessionKVStore(kv),
		contacts: store.NewContactKVStore(kv),
		relay:    &directory{keys: map[domain.Username][]byte{}},
	}
}

func (f *fixture) service() *session.Service {
	return session.New(f.sessions, f.contacts, f.hist, f.relay, nil)
}

func TestOpenFreshSession(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	alice := envelope.NewBuilder("alice", identities(t)[0])
	svc := f.service()

	sess, err := svc.Open(alice, "bob")
	require.NoError(err)
	require.Equal(domain.NoKey, sess.State())
	require.False(sess.HasPeerKey())
	require.Empty(sess.Messages())

	again, err := svc.Open(alice, "bob")
	require.NoError(err)
	require.Same(sess, again, "live sessions are shared")
}

func TestOpenUsesCachedContact(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	bobKey := spki(t, identities(t)[1])
	require.NoError(f.contacts.SaveContact(domain.Contact{
		Username:    "bob",
		PublicKey:   bobKey,
		Fingerprint: crypto.Fingerprint(bobKey),
	}))

	sess, err := f.service().Open(envelope.NewBuilder("alice", identities(t)[0]), "bob")
	require.NoError(err)
	require.True(sess.HasPeerKey())
}

func TestResolve(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service()
	sess, err := svc.Open(envelope.NewBuilder("alice", identities(t)[0]), "bob")
	require.NoError(err)

	_, err = svc.Resolve(ctx, sess)
	require.ErrorIs(err, domain.ErrMissingRecipientKey)
	require.False(sess.HasPeerKey())

	first := spki(t, identities(t)[1])
	f.relay.keys["bob"] = first
	c, err := svc.Resolve(ctx, sess)
	require.NoError(err)
	require.True(sess.HasPeerKey())
	require.Equal(crypto.Fingerprint(first), c.Fingerprint)
	require.NotZero(c.ResolvedUTC)

	// bob re-registers with a new key; the cache follows the directory.
	second := spki(t, identities(t)[2])
	f.relay.keys["bob"] = second
	c, err = svc.Resolve(ctx, sess)
	require.NoError(err)
	cached, ok, err := f.contacts.LoadContact("bob")
	require.NoError(err)
	require.True(ok)
	require.Equal(c, cached)
	require.Equal(second, cached.PublicKey)

	f.relay.keys["bob"] = []byte("junk")
	_, err = svc.Resolve(ctx, sess)
	require.ErrorIs(err, domain.ErrInvalidKey)
}

func TestSaveAndReopen(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice := envelope.NewBuilder("alice", identities(t)[0])
	bobKey := spki(t, identities(t)[1])
	f.relay.keys["bob"] = bobKey

	svc := f.service()
	sess, err := svc.Open(alice, "bob")
	require.NoError(err)
	_, err = svc.Resolve(ctx, sess)
	require.NoError(err)
	_, msg, err := alice.PrepareOutgoing(ctx, sess, "hello")
	require.NoError(err)
	require.NoError(svc.Save(alice, sess))
	require.NoError(f.hist.AppendMessage(msg))

	// A new process with the same identity picks the conversation up.
	reopened, err := f.service().Open(envelope.NewBuilder("alice", identities(t)[0]), "bob")
	require.NoError(err)
	require.Equal(domain.KeyEstablished, reopened.State())
	require.True(reopened.HasPeerKey())
	require.Equal(sess.EstablishedAt().Unix(), reopened.EstablishedAt().Unix())
	msgs := reopened.Messages()
	require.Len(msgs, 1)
	require.Equal("hello", msgs[0].Text)
}

func TestOpenAfterIdentityRotation(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.relay.keys["bob"] = spki(t, identities(t)[1])

	old := envelope.NewBuilder("alice", identities(t)[0])
	svc := f.service()
	sess, err := svc.Open(old, "bob")
	require.NoError(err)
	_, err = svc.Resolve(ctx, sess)
	require.NoError(err)
	_, _, err = old.PrepareOutgoing(ctx, sess, "hello")
	require.NoError(err)
	require.NoError(svc.Save(old, sess))

	rotated := envelope.NewBuilder("alice", identities(t)[2])
	fresh, err := f.service().Open(rotated, "bob")
	require.NoError(err)
	require.Equal(domain.NoKey, fresh.State(), "sealed key belongs to the old identity")
	require.True(fresh.HasPeerKey())

	env, _, err := rotated.PrepareOutgoing(ctx, fresh, "hello again")
	require.NoError(err)
	require.True(env.CarriesKey())
}

func TestTeardown(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice := envelope.NewBuilder("alice", identities(t)[0])
	f.relay.keys["bob"] = spki(t, identities(t)[1])

	svc := f.service()
	sess, err := svc.Open(alice, "bob")
	require.NoError(err)
	_, err = svc.Resolve(ctx, sess)
	require.NoError(err)
	_, msg, err := alice.PrepareOutgoing(ctx, sess, "hello")
	require.NoError(err)
	require.NoError(svc.Save(alice, sess))
	require.NoError(f.hist.AppendMessage(msg))

	require.NoError(svc.Teardown("bob"))

	_, ok, err := f.sessions.LoadSession("bob")
	require.NoError(err)
	require.False(ok)
	hist, err := f.hist.ListMessages("bob", 0)
	require.NoError(err)
	require.Empty(hist)

	reopened, err := svc.Open(alice, "bob")
	require.NoError(err)
	require.NotSame(sess, reopened)
	require.Equal(domain.NoKey, reopened.State())
	require.True(reopened.HasPeerKey(), "the contact cache survives")
}
