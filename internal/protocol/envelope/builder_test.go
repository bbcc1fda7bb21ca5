package envelope_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"parley/internal/crypto"
	"parley/internal/domain"
	"parley/internal/protocol/envelope"
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

type party struct {
	name domain.Username
	kp   crypto.KeyPair
	b    *envelope.Builder
	spki []byte
}

func newParty(t *testing.T, name domain.Username, idx int) *party {
	t.Helper()
	kp := identities(t)[idx]
	spki, err := crypto.ExportPublicKey(kp.Public)
	require.NoError(t, err)
	return &party{name: name, kp: kp, b: envelope.NewBuilder(name, kp), spki: spki}
}

// with returns a session held by p for a conversation with peer.
func (p *party) with(t *testing.T, peer *party) *envelope.Session {
	t.Helper()
	s := envelope.NewSession(peer.name)
	require.NoError(t, s.SetPeerKey(peer.spki))
	return s
}

func pair(t *testing.T) (alice, bob *party) {
	return newParty(t, "alice", 0), newParty(t, "bob", 1)
}

func TestScenario_Hello(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob := pair(t)
	aToB, bFromA := alice.with(t, bob), envelope.NewSession(alice.name)

	require.Equal(domain.NoKey, aToB.State())
	env, sent, err := alice.b.PrepareOutgoing(ctx, aToB, "hello")
	require.NoError(err)
	require.Equal(domain.KeyEstablished, aToB.State())
	require.True(env.CarriesKey())
	require.Equal(alice.name, env.From)
	require.Equal(bob.name, env.To)
	require.NotEmpty(env.ID)
	require.Equal(sent.ID, env.ID)
	require.True(sent.Outgoing)

	got, err := bob.b.AcceptIncoming(ctx, bFromA, env)
	require.NoError(err)
	require.Equal("hello", got.Text)
	require.Equal(domain.KeyEstablished, bFromA.State())
	require.Len(bFromA.Messages(), 1)
	require.Equal([]domain.Message{sent}, aToB.Messages())
}

func TestScenario_TwoMessagesDistinctIVsInOrder(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob := pair(t)
	aToB, bFromA := alice.with(t, bob), envelope.NewSession(alice.name)

	first, _, err := alice.b.PrepareOutgoing(ctx, aToB, "first")
	require.NoError(err)
	second, _, err := alice.b.PrepareOutgoing(ctx, aToB, "second")
	require.NoError(err)
	require.NotEqual(first.IV, second.IV)

	for _, env := range []domain.Envelope{first, second} {
		_, err := bob.b.AcceptIncoming(ctx, bFromA, env)
		require.NoError(err)
	}
	msgs := bFromA.Messages()
	require.Len(msgs, 2)
	require.Equal("first", msgs[0].Text)
	require.Equal("second", msgs[1].Text)
}

func TestScenario_CorruptCiphertextDiscarded(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob := pair(t)
	aToB, bFromA := alice.with(t, bob), envelope.NewSession(alice.name)

	env, _, err := alice.b.PrepareOutgoing(ctx, aToB, "integrity matters")
	require.NoError(err)

	ct, err := crypto.TextToBytes(env.Ciphertext)
	require.NoError(err)
	ct[0] ^= 0x01
	bad := env
	bad.Ciphertext = crypto.BytesToText(ct)

	_, err = bob.b.AcceptIncoming(ctx, bFromA, bad)
	require.ErrorIs(err, domain.ErrDecryptionFailed)
	require.Empty(bFromA.Messages())
	require.Equal(domain.NoKey, bFromA.State())

	// The key stays usable for the untouched original.
	got, err := bob.b.AcceptIncoming(ctx, bFromA, env)
	require.NoError(err)
	require.Equal("integrity matters", got.Text)
	require.Len(bFromA.Messages(), 1)
}

func TestAcceptIncoming_UnprovenFirstKeyNotKept(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob := pair(t)
	aToB, bFromA := alice.with(t, bob), envelope.NewSession(alice.name)

	env, _, err := alice.b.PrepareOutgoing(ctx, aToB, "the real one")
	require.NoError(err)

	// A key wrapped for bob that does not open the ciphertext it came with.
	other, err := crypto.GenerateConversationKey()
	require.NoError(err)
	wrapped, err := crypto.WrapKey(bob.kp.Public, other.Raw())
	require.NoError(err)
	forged := env
	forged.EncryptedAESKey = crypto.BytesToText(wrapped)

	_, err = bob.b.AcceptIncoming(ctx, bFromA, forged)
	require.ErrorIs(err, domain.ErrDecryptionFailed)
	require.Equal(domain.NoKey, bFromA.State())
	require.True(bFromA.EstablishedAt().IsZero())

	got, err := bob.b.AcceptIncoming(ctx, bFromA, env)
	require.NoError(err)
	require.Equal("the real one", got.Text)
	require.Equal(domain.KeyEstablished, bFromA.State())

	// Later plain envelopes open under the genuine key.
	env, _, err = alice.b.PrepareOutgoing(ctx, aToB, "again")
	require.NoError(err)
	_, err = bob.b.AcceptIncoming(ctx, bFromA, env)
	require.NoError(err)
}

func TestScenario_MissingRecipientKey(t *testing.T) {
	require := require.New(t)
	alice, bob := pair(t)
	s := envelope.NewSession(bob.name)

	env, _, err := alice.b.PrepareOutgoing(context.Background(), s, "too early")
	require.ErrorIs(err, domain.ErrMissingRecipientKey)
	require.Equal(domain.Envelope{}, env)
	require.Empty(s.Messages())
	require.Equal(domain.NoKey, s.State())
	require.False(s.HasPeerKey())
}

func TestAcceptIncoming_ConcurrentArrivalsEstablishOneKey(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob := pair(t)
	aToB := alice.with(t, bob)

	const n = 8
	envs := make([]domain.Envelope, n)
	for i := range envs {
		env, _, err := alice.b.PrepareOutgoing(ctx, aToB, "burst")
		require.NoError(err)
		require.True(env.CarriesKey())
		envs[i] = env
	}

	bFromA := envelope.NewSession(alice.name)
	start := make(chan struct{})
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for _, env := range envs {
		wg.Add(1)
		go func(env domain.Envelope) {
			defer wg.Done()
			<-start
			_, err := bob.b.AcceptIncoming(ctx, bFromA, env)
			errs <- err
		}(env)
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(err)
	}
	require.Len(bFromA.Messages(), n)

	// Bob's reply needs no wrapped key and opens under Alice's key.
	require.NoError(bFromA.SetPeerKey(alice.spki))
	reply, _, err := bob.b.PrepareOutgoing(ctx, bFromA, "got them")
	require.NoError(err)
	require.False(reply.CarriesKey())
	got, err := alice.b.AcceptIncoming(ctx, aToB, reply)
	require.NoError(err)
	require.Equal("got them", got.Text)
}

func TestPrepareOutgoing_ConcurrentSendsNeverReuseNonce(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob := pair(t)
	aToB := alice.with(t, bob)

	const n = 64
	var (
		mu   sync.Mutex
		ivs  = make(map[string]struct{}, n)
		envs []domain.Envelope
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, _, err := alice.b.PrepareOutgoing(ctx, aToB, "x")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ivs[env.IV] = struct{}{}
				envs = append(envs, env)
			}
		}()
	}
	wg.Wait()
	require.Len(envs, n)
	require.Len(ivs, n)
	require.Len(aToB.Messages(), n)

	bFromA := envelope.NewSession(alice.name)
	for _, env := range envs {
		_, err := bob.b.AcceptIncoming(ctx, bFromA, env)
		require.NoError(err)
	}
}

func TestRewrapPolicy(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob := pair(t)
	aToB, bToA := alice.with(t, bob), bob.with(t, alice)

	env, _, err := alice.b.PrepareOutgoing(ctx, aToB, "one")
	require.NoError(err)
	_, err = bob.b.AcceptIncoming(ctx, bToA, env)
	require.NoError(err)

	reply, _, err := bob.b.PrepareOutgoing(ctx, bToA, "two")
	require.NoError(err)
	require.False(reply.CarriesKey(), "bob received the key from alice")
	_, err = alice.b.AcceptIncoming(ctx, aToB, reply)
	require.NoError(err)

	env, _, err = alice.b.PrepareOutgoing(ctx, aToB, "three")
	require.NoError(err)
	require.False(env.CarriesKey(), "bob proved possession of the key")

	aToB.RequestRewrap()
	env, _, err = alice.b.PrepareOutgoing(ctx, aToB, "four")
	require.NoError(err)
	require.True(env.CarriesKey())
	_, err = bob.b.AcceptIncoming(ctx, bToA, env)
	require.NoError(err)

	env, _, err = alice.b.PrepareOutgoing(ctx, aToB, "five")
	require.NoError(err)
	require.False(env.CarriesKey(), "rewrap is one-shot")
}

func TestRotate(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob := pair(t)
	aToB, bToA := alice.with(t, bob), bob.with(t, alice)

	require.ErrorIs(alice.b.Rotate(ctx, aToB), domain.ErrNoConversationKey)

	env, _, err := alice.b.PrepareOutgoing(ctx, aToB, "before")
	require.NoError(err)
	_, err = bob.b.AcceptIncoming(ctx, bToA, env)
	require.NoError(err)
	reply, _, err := bob.b.PrepareOutgoing(ctx, bToA, "ack")
	require.NoError(err)
	_, err = alice.b.AcceptIncoming(ctx, aToB, reply)
	require.NoError(err)

	require.NoError(alice.b.Rotate(ctx, aToB))
	env, _, err = alice.b.PrepareOutgoing(ctx, aToB, "after")
	require.NoError(err)
	require.True(env.CarriesKey())

	got, err := bob.b.AcceptIncoming(ctx, bToA, env)
	require.NoError(err)
	require.Equal("after", got.Text)

	reply, _, err = bob.b.PrepareOutgoing(ctx, bToA, "still here")
	require.NoError(err)
	require.False(reply.CarriesKey())
	got, err = alice.b.AcceptIncoming(ctx, aToB, reply)
	require.NoError(err)
	require.Equal("still here", got.Text)
}

func TestRotate_CrossingEnvelopesKeepNewKey(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob := pair(t)
	aToB, bToA := alice.with(t, bob), bob.with(t, alice)

	env, _, err := alice.b.PrepareOutgoing(ctx, aToB, "hi")
	require.NoError(err)
	_, err = bob.b.AcceptIncoming(ctx, bToA, env)
	require.NoError(err)
	reply, _, err := bob.b.PrepareOutgoing(ctx, bToA, "hey")
	require.NoError(err)
	_, err = alice.b.AcceptIncoming(ctx, aToB, reply)
	require.NoError(err)

	require.NoError(bob.b.Rotate(ctx, bToA))
	rotatedAt := bToA.EstablishedAt()

	// Alice has not seen the new key yet. One envelope goes out plain and
	// one re-carries the old key after a failed send.
	plain, _, err := alice.b.PrepareOutgoing(ctx, aToB, "crossing")
	require.NoError(err)
	require.False(plain.CarriesKey())
	aToB.RequestRewrap()
	carried, _, err := alice.b.PrepareOutgoing(ctx, aToB, "crossing again")
	require.NoError(err)
	require.True(carried.CarriesKey())
	require.False(carried.Rekey)

	// The rotation survives a restart between the two.
	rec, err := bob.b.Snapshot(bToA)
	require.NoError(err)
	require.True(rec.Rotating)
	require.NotEmpty(rec.SealedRetiredKey)
	bob.b = envelope.NewBuilder(bob.name, bob.kp)
	bToA, err = bob.b.Restore(rec)
	require.NoError(err)

	for _, e := range []domain.Envelope{plain, carried} {
		_, err := bob.b.AcceptIncoming(ctx, bToA, e)
		require.NoError(err)
	}
	require.Equal(rotatedAt.Unix(), bToA.EstablishedAt().Unix())

	// Bob keeps offering the new key until alice uses it.
	for _, text := range []string{"new key", "new key again"} {
		out, _, err := bob.b.PrepareOutgoing(ctx, bToA, text)
		require.NoError(err)
		require.True(out.CarriesKey())
		require.True(out.Rekey)
		got, err := alice.b.AcceptIncoming(ctx, aToB, out)
		require.NoError(err)
		require.Equal(text, got.Text)
	}

	env, _, err = alice.b.PrepareOutgoing(ctx, aToB, "on the new key")
	require.NoError(err)
	require.False(env.CarriesKey())
	got, err := bob.b.AcceptIncoming(ctx, bToA, env)
	require.NoError(err)
	require.Equal("on the new key", got.Text)

	reply, _, err = bob.b.PrepareOutgoing(ctx, bToA, "settled")
	require.NoError(err)
	require.False(reply.CarriesKey())
	_, err = alice.b.AcceptIncoming(ctx, aToB, reply)
	require.NoError(err)
}

func TestRotate_BothSidesConverge(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob := pair(t)
	aToB, bToA := alice.with(t, bob), bob.with(t, alice)

	env, _, err := alice.b.PrepareOutgoing(ctx, aToB, "hi")
	require.NoError(err)
	_, err = bob.b.AcceptIncoming(ctx, bToA, env)
	require.NoError(err)

	require.NoError(alice.b.Rotate(ctx, aToB))
	require.NoError(bob.b.Rotate(ctx, bToA))
	fromAlice, _, err := alice.b.PrepareOutgoing(ctx, aToB, "rotated")
	require.NoError(err)
	fromBob, _, err := bob.b.PrepareOutgoing(ctx, bToA, "me too")
	require.NoError(err)
	require.True(fromAlice.Rekey)
	require.True(fromBob.Rekey)

	got, err := alice.b.AcceptIncoming(ctx, aToB, fromBob)
	require.NoError(err)
	require.Equal("me too", got.Text)
	got, err = bob.b.AcceptIncoming(ctx, bToA, fromAlice)
	require.NoError(err)
	require.Equal("rotated", got.Text)

	// Both sides now agree on alice's new key.
	env, _, err = bob.b.PrepareOutgoing(ctx, bToA, "agreed?")
	require.NoError(err)
	require.False(env.CarriesKey())
	_, err = alice.b.AcceptIncoming(ctx, aToB, env)
	require.NoError(err)
	env, _, err = alice.b.PrepareOutgoing(ctx, aToB, "agreed")
	require.NoError(err)
	require.False(env.CarriesKey())
	_, err = bob.b.AcceptIncoming(ctx, bToA, env)
	require.NoError(err)
}

func TestSimultaneousInitiationConverges(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob := pair(t)
	aToB, bToA := alice.with(t, bob), bob.with(t, alice)

	fromAlice, _, err := alice.b.PrepareOutgoing(ctx, aToB, "hi bob")
	require.NoError(err)
	fromBob, _, err := bob.b.PrepareOutgoing(ctx, bToA, "hi alice")
	require.NoError(err)

	got, err := alice.b.AcceptIncoming(ctx, aToB, fromBob)
	require.NoError(err)
	require.Equal("hi alice", got.Text)
	got, err = bob.b.AcceptIncoming(ctx, bToA, fromAlice)
	require.NoError(err)
	require.Equal("hi bob", got.Text)

	// Both sides now agree on alice's key.
	env, _, err := bob.b.PrepareOutgoing(ctx, bToA, "settled?")
	require.NoError(err)
	_, err = alice.b.AcceptIncoming(ctx, aToB, env)
	require.NoError(err)
	env, _, err = alice.b.PrepareOutgoing(ctx, aToB, "settled")
	require.NoError(err)
	require.False(env.CarriesKey())
	_, err = bob.b.AcceptIncoming(ctx, bToA, env)
	require.NoError(err)
}

func TestAcceptIncoming_Failures(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t)
	aToB := alice.with(t, bob)

	env, _, err := alice.b.PrepareOutgoing(ctx, aToB, "secret")
	require.NoError(t, err)

	t.Run("no key and none carried", func(t *testing.T) {
		s := envelope.NewSession(alice.name)
		stripped := env
		stripped.EncryptedAESKey = ""
		_, err := bob.b.AcceptIncoming(ctx, s, stripped)
		require.ErrorIs(t, err, domain.ErrNoConversationKey)
		require.Equal(t, domain.NoKey, s.State())
	})

	t.Run("key wrapped for someone else", func(t *testing.T) {
		carol := newParty(t, "carol", 2)
		s := envelope.NewSession(alice.name)
		_, err := carol.b.AcceptIncoming(ctx, s, env)
		require.ErrorIs(t, err, domain.ErrUnwrapFailed)
		require.Equal(t, domain.NoKey, s.State())
	})

	t.Run("malformed base64", func(t *testing.T) {
		s := envelope.NewSession(alice.name)
		bad := env
		bad.IV = "%%%"
		_, err := bob.b.AcceptIncoming(ctx, s, bad)
		require.ErrorIs(t, err, domain.ErrEncoding)
		require.Empty(t, s.Messages())
	})

	t.Run("short iv", func(t *testing.T) {
		s := envelope.NewSession(alice.name)
		bad := env
		bad.IV = crypto.BytesToText([]byte{1, 2, 3})
		_, err := bob.b.AcceptIncoming(ctx, s, bad)
		require.ErrorIs(t, err, domain.ErrEncoding)
	})

	t.Run("wrong session", func(t *testing.T) {
		s := envelope.NewSession("mallory")
		_, err := bob.b.AcceptIncoming(ctx, s, env)
		require.Error(t, err)
		require.Empty(t, s.Messages())
	})

	t.Run("cancelled", func(t *testing.T) {
		s := envelope.NewSession(alice.name)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := bob.b.AcceptIncoming(cctx, s, env)
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, domain.NoKey, s.State())

		_, _, err = alice.b.PrepareOutgoing(cctx, aToB, "late")
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestSnapshotRestore(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob := pair(t)
	aToB, bFromA := alice.with(t, bob), envelope.NewSession(alice.name)

	env, _, err := alice.b.PrepareOutgoing(ctx, aToB, "before restart")
	require.NoError(err)
	_, err = bob.b.AcceptIncoming(ctx, bFromA, env)
	require.NoError(err)

	rec, err := alice.b.Snapshot(aToB)
	require.NoError(err)
	require.Equal(bob.name, rec.Peer)
	require.NotEmpty(rec.SealedKey)
	require.Equal(bob.spki, rec.PeerPublicKey)
	require.NotZero(rec.EstablishedUTC)

	// A new builder over the same identity picks the conversation back up.
	restarted := envelope.NewBuilder(alice.name, alice.kp)
	restored, err := restarted.Restore(rec)
	require.NoError(err)
	require.Equal(domain.KeyEstablished, restored.State())
	require.True(restored.HasPeerKey())
	require.Empty(restored.Messages())

	env, _, err = restarted.PrepareOutgoing(ctx, restored, "after restart")
	require.NoError(err)
	got, err := bob.b.AcceptIncoming(ctx, bFromA, env)
	require.NoError(err)
	require.Equal("after restart", got.Text)

	// The sealed key is useless under another identity.
	_, err = bob.b.Restore(rec)
	require.ErrorIs(err, domain.ErrUnwrapFailed)

	empty, err := alice.b.Snapshot(envelope.NewSession("nobody"))
	require.NoError(err)
	require.Nil(empty.SealedKey)
	fresh, err := alice.b.Restore(empty)
	require.NoError(err)
	require.Equal(domain.NoKey, fresh.State())
}

func TestSetPeerKey(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob := pair(t)
	aToB, bToA := alice.with(t, bob), bob.with(t, alice)

	require.ErrorIs(aToB.SetPeerKey([]byte("junk")), domain.ErrInvalidKey)
	require.True(aToB.HasPeerKey(), "a bad import keeps the old key")

	env, _, err := alice.b.PrepareOutgoing(ctx, aToB, "one")
	require.NoError(err)
	_, err = bob.b.AcceptIncoming(ctx, bToA, env)
	require.NoError(err)
	reply, _, err := bob.b.PrepareOutgoing(ctx, bToA, "two")
	require.NoError(err)
	_, err = alice.b.AcceptIncoming(ctx, aToB, reply)
	require.NoError(err)

	// Bob's key changed: the conversation key must be wrapped again.
	carol := newParty(t, "carol", 2)
	require.NoError(aToB.SetPeerKey(carol.spki))
	env, _, err = alice.b.PrepareOutgoing(ctx, aToB, "three")
	require.NoError(err)
	require.True(env.CarriesKey())
}
