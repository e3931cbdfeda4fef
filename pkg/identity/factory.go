// Package identity derives a user's whole key set from username, password
// and application id. Nothing is stored: the same inputs always give the
// same identity, so it is simply derived again when needed.
//
//	f := identity.NewFactory()
//	id, err := f.Derive(ctx, identity.Credentials{
//	    Username:      "alice",
//	    Password:      pw,
//	    ApplicationID: "com.shary.app",
//	})
//
// Derivation is slow on purpose (the password KDF dominates) and should run
// off latency-sensitive goroutines. Concurrent derivations of different
// identities are safe; the factory holds no mutable state.
package identity

import (
	"context"

	"github.com/shary-app/sharycore/pkg/keys"
)

// Factory derives identities with fixed KDF parameters.
type Factory struct {
	params keys.KDFParams
}

// Option configures a Factory.
type Option func(*Factory)

// WithKDFParams overrides the password KDF parameters. Every identity of an
// application must be derived with the same parameters.
func WithKDFParams(p keys.KDFParams) Option {
	return func(f *Factory) { f.params = p }
}

// WithIterations is WithKDFParams for PBKDF2 with n iterations.
func WithIterations(n int) Option {
	return func(f *Factory) {
		f.params = keys.KDFParams{Algorithm: keys.AlgorithmPBKDF2SHA256, Iterations: n}
	}
}

// NewFactory returns a factory using keys.DefaultKDFParams unless overridden.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{params: keys.DefaultKDFParams()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Params returns the KDF parameters in use.
func (f *Factory) Params() keys.KDFParams {
	return f.params
}

// Derive runs password KDF -> master seed -> id:sign / id:kex sub-seeds ->
// keypairs. The master seed and sub-seed buffers are wiped before return.
// ctx is checked before and after the KDF, which itself cannot be
// interrupted.
func (f *Factory) Derive(ctx context.Context, creds Credentials) (*Identity, error) {
	master, err := f.masterSeed(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer keys.Wipe(master)

	signSeed, err := keys.SubSeed(master, keys.LabelSign)
	if err != nil {
		return nil, err
	}
	defer keys.Wipe(signSeed)

	kexSeed, err := keys.SubSeed(master, keys.LabelKex)
	if err != nil {
		return nil, err
	}
	defer keys.Wipe(kexSeed)

	return FromSeeds(signSeed, kexSeed)
}

// DeriveSessionSeed derives the 32-byte seed labelled "session:<nonce>" from
// the same master seed as the identity. The caller owns and should wipe it.
func (f *Factory) DeriveSessionSeed(ctx context.Context, creds Credentials, nonce []byte) ([]byte, error) {
	master, err := f.masterSeed(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer keys.Wipe(master)

	return keys.SubSeedBytes(master, keys.SessionLabel(nonce))
}

func (f *Factory) masterSeed(ctx context.Context, creds Credentials) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	salt := keys.Salt(creds.ApplicationID, creds.Username)
	master, err := keys.DeriveMasterSeed(creds.Password, salt, f.params)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		keys.Wipe(master)
		return nil, err
	}
	return master, nil
}
