package keys

import (
	"crypto/ed25519"

	"github.com/shary-app/sharycore/pkg/cryptoerr"
)

// Ed25519 sizes.
const (
	SigningPublicKeySize = ed25519.PublicKeySize
	SignatureSize        = ed25519.SignatureSize
)

// SigningKey is an Ed25519 keypair derived from a 32-byte seed.
type SigningKey struct {
	priv ed25519.PrivateKey
	pub  [SigningPublicKeySize]byte
}

// NewSigningKey derives the keypair deterministically from seed with the
// standard Ed25519 expansion.
func NewSigningKey(seed []byte) (*SigningKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, cryptoerr.InvalidLength("keys.NewSigningKey", "seed", len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	k := &SigningKey{priv: priv}
	copy(k.pub[:], priv[ed25519.SeedSize:])
	return k, nil
}

// Public returns the 32-byte public key.
func (k *SigningKey) Public() [SigningPublicKeySize]byte {
	return k.pub
}

// Sign returns the 64-byte signature of message.
func (k *SigningKey) Sign(message []byte) [SignatureSize]byte {
	var sig [SignatureSize]byte
	copy(sig[:], ed25519.Sign(k.priv, message))
	return sig
}

// Wipe zeroes the private key. The key must not be used afterwards.
func (k *SigningKey) Wipe() {
	Wipe(k.priv)
}

// Verify reports whether sig is a valid signature of message by pub.
// Malformed sizes are rejected before the curve is touched.
func Verify(pub, message, sig []byte) bool {
	return VerifyErr(pub, message, sig) == nil
}

// VerifyErr is Verify with a typed reason: an InvalidInputLength error for a
// malformed key or signature, AuthenticationFailure for a bad signature.
func VerifyErr(pub, message, sig []byte) error {
	const op = "keys.Verify"
	if len(pub) != SigningPublicKeySize {
		return cryptoerr.InvalidLength(op, "public key", len(pub), SigningPublicKeySize)
	}
	if len(sig) != SignatureSize {
		return cryptoerr.InvalidLength(op, "signature", len(sig), SignatureSize)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), message, sig) {
		return cryptoerr.AuthFailed(op)
	}
	return nil
}
