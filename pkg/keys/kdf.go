package keys

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/shary-app/sharycore/pkg/cryptoerr"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// MasterSeedSize is the size of the master seed produced from a password.
const MasterSeedSize = 32

// DefaultIterations is the PBKDF2 iteration count used unless overridden.
const DefaultIterations = 200_000

// Algorithm selects the password hash used for the master seed.
type Algorithm string

const (
	// AlgorithmPBKDF2SHA256 is PBKDF2-HMAC-SHA-256.
	AlgorithmPBKDF2SHA256 Algorithm = "pbkdf2-sha256"

	// AlgorithmArgon2id is the memory-hard Argon2id.
	AlgorithmArgon2id Algorithm = "argon2id"
)

// KDFParams configures the password stretching step. The zero value means
// PBKDF2-HMAC-SHA-256 with DefaultIterations.
type KDFParams struct {
	Algorithm  Algorithm
	Iterations int

	// Argon2id settings, ignored for PBKDF2.
	Argon2Time      uint32
	Argon2MemoryKiB uint32
	Argon2Threads   uint8
}

// DefaultKDFParams returns the parameters identities are derived with.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Algorithm:  AlgorithmPBKDF2SHA256,
		Iterations: DefaultIterations,
	}
}

func (p KDFParams) withDefaults() KDFParams {
	if p.Algorithm == "" {
		p.Algorithm = AlgorithmPBKDF2SHA256
	}
	if p.Iterations == 0 {
		p.Iterations = DefaultIterations
	}
	if p.Argon2Time == 0 {
		p.Argon2Time = 1
	}
	if p.Argon2MemoryKiB == 0 {
		p.Argon2MemoryKiB = 64 * 1024
	}
	if p.Argon2Threads == 0 {
		p.Argon2Threads = 4
	}
	return p
}

// Salt builds the KDF salt binding a seed to one account inside one
// application namespace: "applicationID:username", both trimmed and
// lower-cased. The result is never truncated.
func Salt(applicationID, username string) []byte {
	app := strings.ToLower(strings.TrimSpace(applicationID))
	user := strings.ToLower(strings.TrimSpace(username))
	salt := make([]byte, 0, len(app)+1+len(user))
	salt = append(salt, app...)
	salt = append(salt, ':')
	salt = append(salt, user...)
	return salt
}

// DerivePassword stretches password into outLen bytes with
// PBKDF2-HMAC-SHA-256. An empty password is accepted.
func DerivePassword(password, salt []byte, outLen, iterations int) ([]byte, error) {
	const op = "keys.DerivePassword"
	if outLen <= 0 {
		return nil, cryptoerr.New(cryptoerr.KindInvalidInputLength, op,
			fmt.Sprintf("output length %d", outLen))
	}
	if iterations <= 0 {
		return nil, cryptoerr.New(cryptoerr.KindDerivationFailure, op,
			fmt.Sprintf("iteration count %d", iterations))
	}

	return pbkdf2.Key(password, salt, iterations, outLen, sha256.New), nil
}

// DeriveMasterSeed derives the 32-byte master seed from a password using the
// algorithm selected in params. Same inputs always give the same seed.
func DeriveMasterSeed(password, salt []byte, params KDFParams) ([]byte, error) {
	const op = "keys.DeriveMasterSeed"
	p := params.withDefaults()

	switch p.Algorithm {
	case AlgorithmPBKDF2SHA256:
		return DerivePassword(password, salt, MasterSeedSize, p.Iterations)

	case AlgorithmArgon2id:
		return argon2.IDKey(password, salt, p.Argon2Time, p.Argon2MemoryKiB,
			p.Argon2Threads, MasterSeedSize), nil

	default:
		return nil, cryptoerr.New(cryptoerr.KindDerivationFailure, op,
			fmt.Sprintf("unknown algorithm %q", p.Algorithm))
	}
}
