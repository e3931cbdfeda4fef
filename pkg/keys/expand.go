package keys

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/shary-app/sharycore/pkg/cryptoerr"
	"golang.org/x/crypto/hkdf"
)

// SeedSize is the size of every sub-seed.
const SeedSize = 32

// maxExpandLen is the RFC 5869 output limit for SHA-256.
const maxExpandLen = 255 * sha256.Size

// Domain separation labels. Each purpose owns exactly one label.
const (
	LabelSign = "id:sign"
	LabelKex  = "id:kex"
	LabelBox  = "box"

	sessionPrefix = "session:"
)

// SessionLabel returns the label for a per-session seed.
func SessionLabel(nonce []byte) []byte {
	label := make([]byte, 0, len(sessionPrefix)+len(nonce))
	label = append(label, sessionPrefix...)
	return append(label, nonce...)
}

// Expand derives length bytes from ikm with HKDF-SHA-256 (extract then
// expand). An empty salt means a block of zeros. info is the domain label.
func Expand(ikm, info []byte, length int, salt []byte) ([]byte, error) {
	const op = "keys.Expand"
	if length <= 0 || length > maxExpandLen {
		return nil, cryptoerr.New(cryptoerr.KindInvalidInputLength, op,
			fmt.Sprintf("output length %d outside 1..%d", length, maxExpandLen))
	}
	if len(salt) == 0 {
		salt = make([]byte, sha256.Size)
	}

	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindDerivationFailure, op, err)
	}

	return out, nil
}

// SubSeed derives a 32-byte seed for one purpose from the master seed.
func SubSeed(master []byte, label string) ([]byte, error) {
	return SubSeedBytes(master, []byte(label))
}

// SubSeedBytes is SubSeed for labels that are not plain strings, such as
// SessionLabel.
func SubSeedBytes(master, label []byte) ([]byte, error) {
	if len(master) != MasterSeedSize {
		return nil, cryptoerr.InvalidLength("keys.SubSeed", "master seed", len(master), MasterSeedSize)
	}
	return Expand(master, label, SeedSize, nil)
}
