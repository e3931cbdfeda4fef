package keys

import (
	"github.com/shary-app/sharycore/pkg/cryptoerr"
	"golang.org/x/crypto/curve25519"
)

// X25519 sizes.
const (
	ExchangePublicKeySize = curve25519.PointSize
	SharedSecretSize      = curve25519.PointSize
)

// ExchangeKey is an X25519 keypair derived from a 32-byte seed. The seed is
// used as the scalar and clamped per RFC 7748 inside curve25519.
type ExchangeKey struct {
	scalar [curve25519.ScalarSize]byte
	pub    [ExchangePublicKeySize]byte
}

// NewExchangeKey derives the keypair deterministically from seed.
func NewExchangeKey(seed []byte) (*ExchangeKey, error) {
	const op = "keys.NewExchangeKey"
	if len(seed) != curve25519.ScalarSize {
		return nil, cryptoerr.InvalidLength(op, "seed", len(seed), curve25519.ScalarSize)
	}
	k := &ExchangeKey{}
	copy(k.scalar[:], seed)
	pub, err := curve25519.X25519(k.scalar[:], curve25519.Basepoint)
	if err != nil {
		Wipe(k.scalar[:])
		return nil, cryptoerr.Wrap(cryptoerr.KindDerivationFailure, op, err)
	}
	copy(k.pub[:], pub)
	return k, nil
}

// Public returns the 32-byte public key.
func (k *ExchangeKey) Public() [ExchangePublicKeySize]byte {
	return k.pub
}

// DiffieHellman returns the raw 32-byte shared secret with peer. It must be
// passed through Expand before use as a key. Low-order peer points, which
// would give an all-zero secret, are rejected.
func (k *ExchangeKey) DiffieHellman(peer []byte) ([]byte, error) {
	const op = "keys.DiffieHellman"
	if len(peer) != ExchangePublicKeySize {
		return nil, cryptoerr.InvalidLength(op, "peer public key", len(peer), ExchangePublicKeySize)
	}
	shared, err := curve25519.X25519(k.scalar[:], peer)
	if err != nil {
		return nil, cryptoerr.AuthFailed(op)
	}
	return shared, nil
}

// Wipe zeroes the private scalar. The key must not be used afterwards.
func (k *ExchangeKey) Wipe() {
	Wipe(k.scalar[:])
}
