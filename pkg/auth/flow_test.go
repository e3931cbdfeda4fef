package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"testing"

	"github.com/shary-app/sharycore/pkg/cryptoerr"
	"github.com/shary-app/sharycore/pkg/identity"
	"github.com/shary-app/sharycore/pkg/keys"
	"github.com/shary-app/sharycore/pkg/sealedbox"
	"github.com/stretchr/testify/require"
)

type account struct {
	email   string
	signPub []byte
	kexPub  []byte
}

// fakeBackend is a minimal in-memory backend with single-use challenges.
type fakeBackend struct {
	mu         sync.Mutex
	accounts   map[string]account
	challenges map[string][]byte

	// Hooks for failure injection.
	challengeErr error
	challenge    func() []byte
	verifyErr    error
	registerErr  error
	verifyCalls  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		accounts:   make(map[string]account),
		challenges: make(map[string][]byte),
	}
}

func (b *fakeBackend) RequestChallenge(_ context.Context, username string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.challengeErr != nil {
		return nil, b.challengeErr
	}
	var c []byte
	if b.challenge != nil {
		c = b.challenge()
	} else {
		c = make([]byte, 32)
		rand.Read(c)
	}
	b.challenges[username] = c
	return c, nil
}

func (b *fakeBackend) VerifyLogin(_ context.Context, username string, challenge, signature []byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verifyCalls++
	if b.verifyErr != nil {
		return false, b.verifyErr
	}
	want, ok := b.challenges[username]
	delete(b.challenges, username)
	if !ok || !bytes.Equal(want, challenge) {
		return false, nil
	}
	acc, ok := b.accounts[username]
	if !ok {
		return false, nil
	}
	return keys.Verify(acc.signPub, challenge, signature), nil
}

func (b *fakeBackend) RegisterIdentity(_ context.Context, username, email string, signPub, kexPub []byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.registerErr != nil {
		return false, b.registerErr
	}
	if _, ok := b.accounts[username]; ok {
		return false, nil
	}
	b.accounts[username] = account{email: email, signPub: bytes.Clone(signPub), kexPub: bytes.Clone(kexPub)}
	return true, nil
}

func (b *fakeBackend) GetPublicKey(_ context.Context, user string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[user]
	if !ok {
		return nil, ErrUnknownUser
	}
	return bytes.Clone(acc.kexPub), nil
}

var testFactory = identity.NewFactory(identity.WithIterations(1000))

func creds(user, password string) identity.Credentials {
	return identity.Credentials{
		Username:      user,
		Password:      []byte(password),
		ApplicationID: "com.shary.app",
	}
}

func TestFlow_RegisterAndLogin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := newFakeBackend()
	alice := creds("alice", "correct horse battery staple")

	reg := NewFlow(backend, WithFactory(testFactory))
	pub, err := reg.Register(ctx, alice, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, Unauthenticated, reg.State())
	require.Equal(t, "alice@example.com", backend.accounts["alice"].email)
	require.Equal(t, pub.SignPublicKey[:], backend.accounts["alice"].signPub)

	fl := NewFlow(backend, WithFactory(testFactory))
	sess, err := fl.Login(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, Authenticated, fl.State())
	require.Equal(t, "alice", sess.Username)
	require.Equal(t, *pub, sess.Identity)
	require.False(t, sess.AuthenticatedAt.IsZero())

	// Authenticated flows must be reset before another login.
	_, err = fl.Login(ctx, alice)
	require.ErrorIs(t, err, cryptoerr.ErrProtocolState)
	require.NoError(t, fl.Reset())
	require.Equal(t, Unauthenticated, fl.State())
	_, err = fl.Login(ctx, alice)
	require.NoError(t, err)
}

func TestFlow_WrongPassword(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := newFakeBackend()

	pub, err := NewFlow(backend, WithFactory(testFactory)).
		Register(ctx, creds("alice", "correct horse battery staple"), "a@example.com")
	require.NoError(t, err)

	wrong, err := testFactory.Derive(ctx, creds("alice", "wrong"))
	require.NoError(t, err)
	require.NotEqual(t, pub.SignPublicKey, wrong.SignPublicKey())

	fl := NewFlow(backend, WithFactory(testFactory))
	sess, err := fl.Login(ctx, creds("alice", "wrong"))
	require.ErrorIs(t, err, cryptoerr.ErrAuthenticationFailure)
	require.Nil(t, sess)
	require.Equal(t, Failed, fl.State())

	_, err = fl.Login(ctx, creds("alice", "correct horse battery staple"))
	require.ErrorIs(t, err, cryptoerr.ErrProtocolState)

	require.NoError(t, fl.Reset())
	_, err = fl.Login(ctx, creds("alice", "correct horse battery staple"))
	require.NoError(t, err)
}

func TestFlow_RegisterDuplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := newFakeBackend()
	fl := NewFlow(backend, WithFactory(testFactory))

	_, err := fl.Register(ctx, creds("bob", "one"), "bob@example.com")
	require.NoError(t, err)

	_, err = fl.Register(ctx, creds("bob", "two"), "bob2@example.com")
	require.ErrorIs(t, err, ErrRegistrationRejected)
	require.Equal(t, Unauthenticated, fl.State())
	require.Equal(t, "bob@example.com", backend.accounts["bob"].email)
}

func TestFlow_TransportErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	netErr := errors.New("connection reset")

	t.Run("register", func(t *testing.T) {
		t.Parallel()
		backend := newFakeBackend()
		backend.registerErr = netErr
		fl := NewFlow(backend, WithFactory(testFactory))

		_, err := fl.Register(ctx, creds("carol", "pw"), "c@example.com")
		require.ErrorIs(t, err, cryptoerr.ErrTransport)
		require.ErrorIs(t, err, netErr)
		require.Equal(t, Unauthenticated, fl.State())
	})

	t.Run("challenge", func(t *testing.T) {
		t.Parallel()
		backend := newFakeBackend()
		backend.challengeErr = ErrRateLimited
		fl := NewFlow(backend, WithFactory(testFactory))

		_, err := fl.Login(ctx, creds("carol", "pw"))
		require.ErrorIs(t, err, cryptoerr.ErrTransport)
		require.ErrorIs(t, err, ErrRateLimited)
		require.Equal(t, Failed, fl.State())
	})

	t.Run("verify", func(t *testing.T) {
		t.Parallel()
		backend := newFakeBackend()
		backend.verifyErr = netErr
		fl := NewFlow(backend, WithFactory(testFactory))

		_, err := fl.Login(ctx, creds("carol", "pw"))
		require.ErrorIs(t, err, cryptoerr.ErrTransport)
		require.Equal(t, Failed, fl.State())
	})
}

func TestFlow_EmptyChallenge(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.challenge = func() []byte { return nil }
	fl := NewFlow(backend, WithFactory(testFactory))

	_, err := fl.Login(context.Background(), creds("dave", "pw"))
	require.ErrorIs(t, err, cryptoerr.ErrInvalidInputLength)
	require.Equal(t, Failed, fl.State())
	require.Zero(t, backend.verifyCalls)
}

func TestFlow_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend := newFakeBackend()
	fl := NewFlow(backend, WithFactory(testFactory))

	_, err := fl.Login(ctx, creds("erin", "pw"))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, Failed, fl.State())
	require.Zero(t, backend.verifyCalls)

	reg := NewFlow(backend, WithFactory(testFactory))
	_, err = reg.Register(ctx, creds("erin", "pw"), "e@example.com")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, Unauthenticated, reg.State())
	require.Empty(t, backend.accounts)
}

// blockingBackend parks RequestChallenge until release is closed.
type blockingBackend struct {
	*fakeBackend
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBackend) RequestChallenge(ctx context.Context, username string) ([]byte, error) {
	close(b.entered)
	<-b.release
	return b.fakeBackend.RequestChallenge(ctx, username)
}

func TestFlow_RejectsConcurrentOperations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := &blockingBackend{
		fakeBackend: newFakeBackend(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	alice := creds("alice", "correct horse battery staple")
	_, err := NewFlow(backend, WithFactory(testFactory)).Register(ctx, alice, "alice@example.com")
	require.NoError(t, err)

	fl := NewFlow(backend, WithFactory(testFactory))
	done := make(chan error, 1)
	go func() {
		_, err := fl.Login(ctx, alice)
		done <- err
	}()
	<-backend.entered

	_, err = fl.Login(ctx, alice)
	require.ErrorIs(t, err, cryptoerr.ErrProtocolState)
	require.ErrorContains(t, err, "operation in progress")

	_, err = fl.Register(ctx, creds("bob", "pw"), "bob@example.com")
	require.ErrorIs(t, err, cryptoerr.ErrProtocolState)

	err = fl.Reset()
	require.ErrorIs(t, err, cryptoerr.ErrProtocolState)

	close(backend.release)
	require.NoError(t, <-done)
	require.Equal(t, Authenticated, fl.State())
	require.NotContains(t, backend.accounts, "bob")
}

func TestFlow_ResetFromUnauthenticated(t *testing.T) {
	t.Parallel()

	fl := NewFlow(newFakeBackend())
	require.NoError(t, fl.Reset())
	require.Equal(t, Unauthenticated, fl.State())
}

// Keys found through the directory are usable for sealing, and a single
// flipped ciphertext byte is reported as an authentication failure.
func TestDirectory_SealedFieldTamper(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := newFakeBackend()
	alice := creds("alice", "correct horse battery staple")
	bob := creds("bob", "hunter2")

	for _, c := range []identity.Credentials{alice, bob} {
		_, err := NewFlow(backend, WithFactory(testFactory)).Register(ctx, c, c.Username+"@example.com")
		require.NoError(t, err)
	}

	_, err := backend.GetPublicKey(ctx, "mallory")
	require.ErrorIs(t, err, ErrUnknownUser)

	alicePub, err := backend.GetPublicKey(ctx, "alice")
	require.NoError(t, err)
	bobID, err := testFactory.Derive(ctx, bob)
	require.NoError(t, err)
	aliceID, err := testFactory.Derive(ctx, alice)
	require.NoError(t, err)

	msg, err := sealedbox.Seal([]byte("secret-field-value"), bobID.KexSeed(), alicePub, nil)
	require.NoError(t, err)

	got, err := sealedbox.Open(msg, aliceID.KexSeed(), msg.SenderPublicKey[:], nil)
	require.NoError(t, err)
	require.Equal(t, []byte("secret-field-value"), got)

	msg.Ciphertext[0] ^= 0xff
	got, err = sealedbox.Open(msg, aliceID.KexSeed(), msg.SenderPublicKey[:], nil)
	require.ErrorIs(t, err, cryptoerr.ErrAuthenticationFailure)
	require.Nil(t, got)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "unauthenticated", Unauthenticated.String())
	require.Equal(t, "challenge-requested", ChallengeRequested.String())
	require.Equal(t, "challenge-signed", ChallengeSigned.String())
	require.Equal(t, "authenticated", Authenticated.String())
	require.Equal(t, "failed", Failed.String())
	require.Equal(t, "unknown", State(42).String())
}
