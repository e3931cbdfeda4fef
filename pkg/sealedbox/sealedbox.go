// Package sealedbox encrypts messages between two password-derived
// identities.
//
// Seal derives the caller's X25519 key from its exchange seed, computes the
// ECDH secret with the peer, expands it with the "box" label into an
// AES-256-GCM key and encrypts under a fresh random 96-bit nonce. The
// message carries the caller's static public key, so repeated seals between
// the same pair share one key; only the nonce differs. Use SealAnonymous for
// a fresh ephemeral key per message.
//
// Open fails closed: if the tag does not verify no plaintext is returned.
package sealedbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/shary-app/sharycore/pkg/cryptoerr"
	"github.com/shary-app/sharycore/pkg/keys"
)

// Sizes of the sealed message fields.
const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

// Message is a sealed message.
type Message struct {
	// SenderPublicKey is the sealer's static X25519 public key.
	SenderPublicKey [keys.ExchangePublicKeySize]byte
	Nonce           [NonceSize]byte
	Ciphertext      []byte
	Tag             [TagSize]byte
}

// Seal encrypts plaintext from the identity owning mySeed to peerPublicKey.
// associatedData, if non-nil, is authenticated but not encrypted.
func Seal(plaintext, mySeed, peerPublicKey, associatedData []byte) (*Message, error) {
	return seal(rand.Reader, plaintext, mySeed, peerPublicKey, associatedData)
}

// seal is Seal with an explicit nonce source.
func seal(nonces io.Reader, plaintext, mySeed, peerPublicKey, associatedData []byte) (*Message, error) {
	const op = "sealedbox.Seal"

	local, aead, err := boxCipher(op, mySeed, peerPublicKey)
	if err != nil {
		return nil, err
	}

	msg := &Message{SenderPublicKey: local}
	if _, err := io.ReadFull(nonces, msg.Nonce[:]); err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindDerivationFailure, op, err)
	}

	sealed := aead.Seal(nil, msg.Nonce[:], plaintext, associatedData)
	split := len(sealed) - TagSize
	msg.Ciphertext = sealed[:split:split]
	copy(msg.Tag[:], sealed[split:])

	return msg, nil
}

// Open decrypts msg sealed by peerPublicKey for the identity owning mySeed.
// Any authentication failure is reported as AuthenticationFailure.
func Open(msg *Message, mySeed, peerPublicKey, associatedData []byte) ([]byte, error) {
	const op = "sealedbox.Open"
	if msg == nil {
		return nil, cryptoerr.New(cryptoerr.KindInvalidInputLength, op, "nil message")
	}

	_, aead, err := boxCipher(op, mySeed, peerPublicKey)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(msg.Ciphertext)+TagSize)
	sealed = append(sealed, msg.Ciphertext...)
	sealed = append(sealed, msg.Tag[:]...)

	// A non-nil dst keeps an empty plaintext distinguishable from failure.
	plaintext, err := aead.Open(make([]byte, 0, len(msg.Ciphertext)), msg.Nonce[:], sealed, associatedData)
	if err != nil {
		return nil, cryptoerr.AuthFailed(op)
	}

	return plaintext, nil
}

// boxCipher derives the AEAD shared by mySeed and peer. It returns the local
// public key as well. Intermediate secrets are wiped before returning.
func boxCipher(op string, mySeed, peer []byte) ([KeySize]byte, cipher.AEAD, error) {
	var local [KeySize]byte
	if len(mySeed) != keys.SeedSize {
		return local, nil, cryptoerr.InvalidLength(op, "seed", len(mySeed), keys.SeedSize)
	}
	if len(peer) != keys.ExchangePublicKeySize {
		return local, nil, cryptoerr.InvalidLength(op, "peer public key", len(peer), keys.ExchangePublicKeySize)
	}

	kx, err := keys.NewExchangeKey(mySeed)
	if err != nil {
		return local, nil, err
	}
	defer kx.Wipe()
	local = kx.Public()

	shared, err := kx.DiffieHellman(peer)
	if err != nil {
		return local, nil, err
	}
	defer keys.Wipe(shared)

	key, err := keys.Expand(shared, []byte(keys.LabelBox), KeySize, nil)
	if err != nil {
		return local, nil, err
	}
	defer keys.Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return local, nil, cryptoerr.Wrap(cryptoerr.KindDerivationFailure, op, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return local, nil, cryptoerr.Wrap(cryptoerr.KindDerivationFailure, op, err)
	}

	return local, aead, nil
}
