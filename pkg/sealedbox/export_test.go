package sealedbox

import "io"

// SealWithReader seals with nonces drawn from r.
func SealWithReader(r io.Reader, plaintext, mySeed, peerPublicKey, associatedData []byte) (*Message, error) {
	return seal(r, plaintext, mySeed, peerPublicKey, associatedData)
}
