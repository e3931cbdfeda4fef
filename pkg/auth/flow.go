// Package auth runs registration and challenge-response login against a
// Backend.
//
// The password never leaves the process. Register publishes the public keys
// derived from it; Login derives the same identity again and proves
// possession of the signing seed by signing a backend challenge. The backend
// only checks that signature against the registered key.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shary-app/sharycore/pkg/cryptoerr"
	"github.com/shary-app/sharycore/pkg/identity"
)

// Session is the result of a successful login.
type Session struct {
	Username        string
	Identity        identity.PublicIdentity
	AuthenticatedAt time.Time
}

// Flow is one instance of the login protocol. It is safe for concurrent use
// but runs a single operation at a time; a second call while one is in
// progress fails with a protocol state error.
type Flow struct {
	backend Backend
	factory *identity.Factory
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	state State
	busy  bool
}

// Option configures a Flow.
type Option func(*Flow)

// WithFactory sets the identity factory. It must match the one used at
// registration time, or login derives a different key.
func WithFactory(f *identity.Factory) Option {
	return func(fl *Flow) { fl.factory = f }
}

// WithLogger sets the logger for state transitions.
func WithLogger(l *slog.Logger) Option {
	return func(fl *Flow) { fl.logger = l }
}

// NewFlow returns a flow in the Unauthenticated state.
func NewFlow(backend Backend, opts ...Option) *Flow {
	fl := &Flow{
		backend: backend,
		factory: identity.NewFactory(),
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
		state:   Unauthenticated,
	}
	for _, opt := range opts {
		opt(fl)
	}
	return fl
}

// State returns the current state.
func (fl *Flow) State() State {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.state
}

// Reset returns a Failed or Authenticated flow to Unauthenticated.
func (fl *Flow) Reset() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	switch {
	case fl.busy:
		return stateError("auth.Reset", fl.state, "operation in progress")
	case fl.state == Failed, fl.state == Authenticated, fl.state == Unauthenticated:
		fl.setStateLocked(Unauthenticated)
		return nil
	default:
		return stateError("auth.Reset", fl.state, "")
	}
}

// Register derives the identity of creds and publishes its public keys with
// email. The flow stays Unauthenticated whatever the outcome.
func (fl *Flow) Register(ctx context.Context, creds identity.Credentials, email string) (*identity.PublicIdentity, error) {
	const op = "auth.Register"

	if err := fl.begin(op); err != nil {
		return nil, err
	}
	defer fl.end(Unauthenticated)

	id, err := fl.factory.Derive(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer id.Wipe()

	pub := id.Public()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ok, err := fl.backend.RegisterIdentity(ctx, creds.Username, email,
		pub.SignPublicKey[:], pub.KexPublicKey[:])
	if err != nil {
		return nil, transportError(op, err)
	}
	if !ok {
		return nil, ErrRegistrationRejected
	}

	fl.logger.DebugContext(ctx, "identity registered",
		"username", creds.Username, "identity", pub.ID())
	return &pub, nil
}

// Login runs the challenge-response protocol for creds. Any failure leaves
// the flow Failed with no identity retained.
func (fl *Flow) Login(ctx context.Context, creds identity.Credentials) (*Session, error) {
	const op = "auth.Login"

	if err := fl.begin(op); err != nil {
		return nil, err
	}
	final := Failed
	defer func() { fl.end(final) }()

	id, err := fl.factory.Derive(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer id.Wipe()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	challenge, err := fl.backend.RequestChallenge(ctx, creds.Username)
	if err != nil {
		return nil, transportError(op, err)
	}
	fl.transition(ctx, ChallengeRequested)

	if len(challenge) == 0 {
		return nil, cryptoerr.New(cryptoerr.KindInvalidInputLength, op, "empty challenge")
	}
	sig, err := id.Sign(challenge)
	if err != nil {
		return nil, err
	}
	fl.transition(ctx, ChallengeSigned)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ok, err := fl.backend.VerifyLogin(ctx, creds.Username, challenge, sig[:])
	if err != nil {
		return nil, transportError(op, err)
	}
	if !ok {
		fl.logger.InfoContext(ctx, "login rejected", "username", creds.Username)
		return nil, cryptoerr.AuthFailed(op)
	}

	final = Authenticated
	return &Session{
		Username:        creds.Username,
		Identity:        id.Public(),
		AuthenticatedAt: fl.now(),
	}, nil
}

func (fl *Flow) begin(op string) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.busy {
		return stateError(op, fl.state, "operation in progress")
	}
	if fl.state != Unauthenticated {
		return stateError(op, fl.state, "")
	}
	fl.busy = true
	return nil
}

func (fl *Flow) end(s State) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.busy = false
	fl.setStateLocked(s)
}

func (fl *Flow) transition(ctx context.Context, s State) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.state = s
	fl.logger.DebugContext(ctx, "auth state", "state", s.String())
}

func (fl *Flow) setStateLocked(s State) {
	if fl.state != s {
		fl.logger.Debug("auth state", "state", s.String())
	}
	fl.state = s
}

func stateError(op string, s State, detail string) error {
	msg := "in state " + s.String()
	if detail != "" {
		msg += ": " + detail
	}
	return cryptoerr.New(cryptoerr.KindProtocolStateError, op, msg)
}

// transportError keeps typed core errors and context errors as they are and
// wraps everything else as a transport failure.
func transportError(op string, err error) error {
	if cryptoerr.KindOf(err) != 0 {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return cryptoerr.Wrap(cryptoerr.KindTransportError, op, err)
}
