package sealedbox

import (
	"crypto/rand"

	"github.com/cloudflare/circl/hpke"
	"github.com/shary-app/sharycore/pkg/cryptoerr"
	"github.com/shary-app/sharycore/pkg/keys"
)

// anonymousInfo binds HPKE contexts to this use.
var anonymousInfo = []byte("shary/sealedbox/anonymous/v1")

var anonymousSuite = hpke.NewSuite(
	hpke.KEM_X25519_HKDF_SHA256,
	hpke.KDF_HKDF_SHA256,
	hpke.AEAD_AES256GCM,
)

// encSize is the size of the HPKE encapsulated key for X25519.
const encSize = 32

// SealAnonymous encrypts plaintext to a recipient's exchange public key with
// HPKE base mode. A fresh ephemeral key is used per message, so the sender
// is not identified and compromise of the recipient's key later does not
// reveal the sender's side. The output is enc || ciphertext.
func SealAnonymous(plaintext, recipientPublicKey, associatedData []byte) ([]byte, error) {
	const op = "sealedbox.SealAnonymous"
	if len(recipientPublicKey) != keys.ExchangePublicKeySize {
		return nil, cryptoerr.InvalidLength(op, "recipient public key", len(recipientPublicKey), keys.ExchangePublicKeySize)
	}

	scheme := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	pk, err := scheme.UnmarshalBinaryPublicKey(recipientPublicKey)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindInvalidInputLength, op, err)
	}
	sender, err := anonymousSuite.NewSender(pk, anonymousInfo)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindDerivationFailure, op, err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindDerivationFailure, op, err)
	}
	ct, err := sealer.Seal(plaintext, associatedData)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindDerivationFailure, op, err)
	}

	return append(enc, ct...), nil
}

// OpenAnonymous decrypts a blob produced by SealAnonymous with the
// recipient's exchange seed.
func OpenAnonymous(blob, recipientSeed, associatedData []byte) ([]byte, error) {
	const op = "sealedbox.OpenAnonymous"
	if len(recipientSeed) != keys.SeedSize {
		return nil, cryptoerr.InvalidLength(op, "seed", len(recipientSeed), keys.SeedSize)
	}
	if len(blob) < encSize+TagSize {
		return nil, cryptoerr.New(cryptoerr.KindInvalidInputLength, op, "message too short")
	}

	scheme := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	sk, err := scheme.UnmarshalBinaryPrivateKey(recipientSeed)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindInvalidInputLength, op, err)
	}
	receiver, err := anonymousSuite.NewReceiver(sk, anonymousInfo)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindDerivationFailure, op, err)
	}
	opener, err := receiver.Setup(blob[:encSize])
	if err != nil {
		return nil, cryptoerr.AuthFailed(op)
	}
	pt, err := opener.Open(blob[encSize:], associatedData)
	if err != nil {
		return nil, cryptoerr.AuthFailed(op)
	}

	return pt, nil
}
