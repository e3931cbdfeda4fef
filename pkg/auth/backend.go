package auth

import (
	"context"
	"errors"
)

// Backend is the server side of registration and login. Implementations
// own challenge generation and must hand out each challenge at most once.
// They also own network timeouts and retries; Flow never retries.
type Backend interface {
	// RequestChallenge returns fresh opaque challenge bytes for username.
	RequestChallenge(ctx context.Context, username string) ([]byte, error)

	// VerifyLogin checks signature over challenge against the signing key
	// registered for username.
	VerifyLogin(ctx context.Context, username string, challenge, signature []byte) (bool, error)

	// RegisterIdentity publishes the public keys of a new account. It
	// returns false if the username is taken.
	RegisterIdentity(ctx context.Context, username, email string, signPublicKey, kexPublicKey []byte) (bool, error)
}

// Directory looks up the exchange public key of another user, as needed
// to seal a message for them.
type Directory interface {
	// GetPublicKey returns the 32-byte X25519 key of user or ErrUnknownUser.
	GetPublicKey(ctx context.Context, user string) ([]byte, error)
}

var (
	// ErrRegistrationRejected is returned by Register when the backend
	// refuses the account, typically because the username is taken.
	ErrRegistrationRejected = errors.New("registration rejected")

	// ErrUnknownUser is returned by a Directory for a user with no keys.
	ErrUnknownUser = errors.New("unknown user")

	// ErrRateLimited is returned by backends throttling a username.
	ErrRateLimited = errors.New("rate limited")
)
