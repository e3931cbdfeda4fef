package sealedbox

import (
	"fmt"

	"github.com/shary-app/sharycore/pkg/cryptoerr"
)

// wireVersion prefixes the binary form of a Message.
const wireVersion = 1

// headerSize is version + sender key + nonce.
const headerSize = 1 + KeySize + NonceSize

// MarshalBinary encodes m as version || senderPub || nonce || ciphertext || tag.
func (m *Message) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, headerSize+len(m.Ciphertext)+TagSize)
	out = append(out, wireVersion)
	out = append(out, m.SenderPublicKey[:]...)
	out = append(out, m.Nonce[:]...)
	out = append(out, m.Ciphertext...)
	out = append(out, m.Tag[:]...)
	return out, nil
}

// UnmarshalBinary decodes the form written by MarshalBinary.
func (m *Message) UnmarshalBinary(data []byte) error {
	const op = "sealedbox.UnmarshalBinary"
	if len(data) < headerSize+TagSize {
		return cryptoerr.New(cryptoerr.KindInvalidInputLength, op,
			fmt.Sprintf("message too short: %d bytes", len(data)))
	}
	if data[0] != wireVersion {
		return cryptoerr.New(cryptoerr.KindInvalidInputLength, op,
			fmt.Sprintf("unsupported version %d", data[0]))
	}

	rest := data[1:]
	copy(m.SenderPublicKey[:], rest[:KeySize])
	rest = rest[KeySize:]
	copy(m.Nonce[:], rest[:NonceSize])
	rest = rest[NonceSize:]

	split := len(rest) - TagSize
	m.Ciphertext = append([]byte(nil), rest[:split]...)
	copy(m.Tag[:], rest[split:])

	return nil
}
