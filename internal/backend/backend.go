// Package backend is a reference implementation of the account side of the
// login protocol: it stores registered public keys, issues single-use
// challenges and verifies signed challenges.
package backend

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/shary-app/sharycore/internal/metrics"
	"github.com/shary-app/sharycore/internal/ratelimit"
	"github.com/shary-app/sharycore/internal/registry"
	"github.com/shary-app/sharycore/pkg/auth"
	"github.com/shary-app/sharycore/pkg/cryptoerr"
	"github.com/shary-app/sharycore/pkg/keys"
)

const (
	// ChallengeSize is the length of issued challenges.
	ChallengeSize = 32

	// DefaultChallengeTTL is how long a challenge can be answered.
	DefaultChallengeTTL = time.Minute

	// maxOutstanding caps unanswered challenges per username. The oldest
	// is dropped when a new one is issued.
	maxOutstanding = 8

	maxUsernameLen = 128
)

// Service implements auth.Backend and auth.Directory.
type Service struct {
	store   registry.Store
	ttl     time.Duration
	limiter *ratelimit.Limiter
	metrics *metrics.Backend
	logger  *slog.Logger

	mu         sync.Mutex
	challenges map[string][]pending
}

type pending struct {
	challenge [ChallengeSize]byte
	expires   time.Time
}

var (
	_ auth.Backend   = (*Service)(nil)
	_ auth.Directory = (*Service)(nil)
)

// Option configures a Service.
type Option func(*Service)

// WithChallengeTTL sets how long challenges stay valid.
func WithChallengeTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = d }
}

// WithLimiter throttles challenge requests and verifications per username.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithMetrics sets the counters to update.
func WithMetrics(m *metrics.Backend) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New returns a service backed by store.
func New(store registry.Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		ttl:        DefaultChallengeTTL,
		logger:     slog.New(slog.DiscardHandler),
		challenges: make(map[string][]pending),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	s.metrics.Accounts.Set(float64(store.Len()))
	return s
}

// Metrics returns the counters the service updates.
func (s *Service) Metrics() *metrics.Backend {
	return s.metrics
}

// RegisterIdentity stores the public keys of a new account. It returns
// false if the username is taken.
func (s *Service) RegisterIdentity(ctx context.Context, username, email string, signPublicKey, kexPublicKey []byte) (bool, error) {
	const op = "backend.RegisterIdentity"

	if err := checkUsername(op, username); err != nil {
		s.metrics.Registrations.WithLabelValues(metrics.ResultInvalid).Inc()
		return false, err
	}
	if len(signPublicKey) != keys.SigningPublicKeySize {
		s.metrics.Registrations.WithLabelValues(metrics.ResultInvalid).Inc()
		return false, cryptoerr.InvalidLength(op, "sign public key", len(signPublicKey), keys.SigningPublicKeySize)
	}
	if len(kexPublicKey) != keys.ExchangePublicKeySize {
		s.metrics.Registrations.WithLabelValues(metrics.ResultInvalid).Inc()
		return false, cryptoerr.InvalidLength(op, "kex public key", len(kexPublicKey), keys.ExchangePublicKeySize)
	}
	if email != "" {
		// Only the bare address is kept; display names are dropped.
		addr, err := mail.ParseAddress(email)
		if err != nil {
			s.metrics.Registrations.WithLabelValues(metrics.ResultInvalid).Inc()
			return false, cryptoerr.New(cryptoerr.KindInvalidInputLength, op, "malformed email")
		}
		email = addr.Address
	}

	err := s.store.Put(ctx, registry.Record{
		Username:      username,
		Email:         email,
		SignPublicKey: signPublicKey,
		KexPublicKey:  kexPublicKey,
		RegisteredAt:  time.Now().UTC(),
	})
	switch {
	case errors.Is(err, registry.ErrExists):
		s.metrics.Registrations.WithLabelValues(metrics.ResultRejected).Inc()
		s.logger.InfoContext(ctx, "registration rejected: username taken", "username", username)
		return false, nil
	case err != nil:
		return false, fmt.Errorf("store account: %w", err)
	}

	s.metrics.Registrations.WithLabelValues(metrics.ResultOK).Inc()
	s.metrics.Accounts.Set(float64(s.store.Len()))
	s.logger.InfoContext(ctx, "account registered", "username", username)
	return true, nil
}

// RequestChallenge issues a fresh challenge for username. Challenges are
// issued for unknown usernames too, so the answer does not reveal which
// accounts exist; verification fails for them later.
func (s *Service) RequestChallenge(ctx context.Context, username string) ([]byte, error) {
	const op = "backend.RequestChallenge"

	if err := checkUsername(op, username); err != nil {
		s.metrics.Challenges.WithLabelValues(metrics.ResultInvalid).Inc()
		return nil, err
	}
	now := time.Now()
	if !s.limiter.Allow(username, now) {
		s.metrics.Challenges.WithLabelValues(metrics.ResultRateLimited).Inc()
		s.logger.WarnContext(ctx, "challenge rate limited", "username", username)
		return nil, auth.ErrRateLimited
	}

	var p pending
	if _, err := rand.Read(p.challenge[:]); err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindDerivationFailure, op, err)
	}
	p.expires = now.Add(s.ttl)

	key := registry.NormalizeUsername(username)
	s.mu.Lock()
	list := live(s.challenges[key], now)
	if len(list) >= maxOutstanding {
		list = list[len(list)-maxOutstanding+1:]
	}
	s.challenges[key] = append(list, p)
	s.mu.Unlock()

	s.metrics.Challenges.WithLabelValues(metrics.ResultOK).Inc()
	s.metrics.Outstanding.Set(float64(s.Outstanding()))
	out := make([]byte, ChallengeSize)
	copy(out, p.challenge[:])
	return out, nil
}

// VerifyLogin consumes challenge and checks signature against the signing
// key registered for username. A challenge is consumed even when the
// signature is wrong, so every challenge is answered at most once.
func (s *Service) VerifyLogin(ctx context.Context, username string, challenge, signature []byte) (bool, error) {
	const op = "backend.VerifyLogin"

	if err := checkUsername(op, username); err != nil {
		s.metrics.Logins.WithLabelValues(metrics.ResultInvalid).Inc()
		return false, err
	}
	if len(signature) != keys.SignatureSize {
		s.metrics.Logins.WithLabelValues(metrics.ResultInvalid).Inc()
		return false, cryptoerr.InvalidLength(op, "signature", len(signature), keys.SignatureSize)
	}
	now := time.Now()
	if !s.limiter.Allow(username, now) {
		s.metrics.Logins.WithLabelValues(metrics.ResultRateLimited).Inc()
		s.logger.WarnContext(ctx, "login rate limited", "username", username)
		return false, auth.ErrRateLimited
	}

	issued := s.take(username, challenge, now)
	s.metrics.Outstanding.Set(float64(s.Outstanding()))
	if !issued {
		s.metrics.Logins.WithLabelValues(metrics.ResultRejected).Inc()
		s.logger.InfoContext(ctx, "login rejected: unknown or expired challenge", "username", username)
		return false, nil
	}

	rec, err := s.store.Get(ctx, username)
	if errors.Is(err, registry.ErrNotFound) {
		s.metrics.Logins.WithLabelValues(metrics.ResultRejected).Inc()
		s.logger.InfoContext(ctx, "login rejected: unknown user", "username", username)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load account: %w", err)
	}

	if !keys.Verify(rec.SignPublicKey, challenge, signature) {
		s.metrics.Logins.WithLabelValues(metrics.ResultRejected).Inc()
		s.logger.InfoContext(ctx, "login rejected: bad signature", "username", username)
		return false, nil
	}

	s.metrics.Logins.WithLabelValues(metrics.ResultOK).Inc()
	s.logger.InfoContext(ctx, "login accepted", "username", username)
	return true, nil
}

// GetPublicKey returns the X25519 public key registered for user.
func (s *Service) GetPublicKey(ctx context.Context, user string) ([]byte, error) {
	rec, err := s.store.Get(ctx, user)
	if errors.Is(err, registry.ErrNotFound) {
		s.metrics.Lookups.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, auth.ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	s.metrics.Lookups.WithLabelValues(metrics.ResultOK).Inc()
	return rec.KexPublicKey, nil
}

// Outstanding returns the number of unexpired, unanswered challenges.
func (s *Service) Outstanding() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for user, list := range s.challenges {
		list = live(list, now)
		if len(list) == 0 {
			delete(s.challenges, user)
			continue
		}
		s.challenges[user] = list
		n += len(list)
	}
	return n
}

// take removes challenge from the outstanding set of username and reports
// whether it was there and unexpired.
func (s *Service) take(username string, challenge []byte, now time.Time) bool {
	if len(challenge) != ChallengeSize {
		return false
	}
	key := registry.NormalizeUsername(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	list := live(s.challenges[key], now)
	found := false
	for i, p := range list {
		if string(p.challenge[:]) == string(challenge) {
			list = append(list[:i], list[i+1:]...)
			found = true
			break
		}
	}
	if len(list) == 0 {
		delete(s.challenges, key)
	} else {
		s.challenges[key] = list
	}
	return found
}

// live filters out expired challenges in place.
func live(list []pending, now time.Time) []pending {
	out := list[:0]
	for _, p := range list {
		if now.Before(p.expires) {
			out = append(out, p)
		}
	}
	return out
}

func checkUsername(op, username string) error {
	u := strings.TrimSpace(username)
	if u == "" {
		return cryptoerr.New(cryptoerr.KindInvalidInputLength, op, "empty username")
	}
	if len(u) > maxUsernameLen {
		return cryptoerr.InvalidLength(op, "username", len(u), maxUsernameLen)
	}
	return nil
}
