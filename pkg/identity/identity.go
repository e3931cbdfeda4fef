package identity

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/shary-app/sharycore/pkg/cryptoerr"
	"github.com/shary-app/sharycore/pkg/keys"
	"github.com/tyler-smith/go-bip39"
)

// IDPrefix starts every textual identity ID.
const IDPrefix = "shy1"

// Credentials are the inputs of a derivation. They are never persisted.
type Credentials struct {
	Username      string
	Password      []byte
	ApplicationID string
}

// Wipe zeroes the password.
func (c *Credentials) Wipe() {
	keys.Wipe(c.Password)
}

// PublicIdentity is the shareable half of an Identity.
type PublicIdentity struct {
	SignPublicKey [keys.SigningPublicKeySize]byte
	KexPublicKey  [keys.ExchangePublicKeySize]byte
}

// ID returns a short stable name for the identity: IDPrefix followed by the
// base58 SHA-256 of the signing key.
func (p PublicIdentity) ID() string {
	h := sha256.Sum256(p.SignPublicKey[:])
	return IDPrefix + base58.Encode(h[:])
}

// Fingerprint returns twelve BIP-39 words over both public keys, meant to be
// compared out of band by two people before trusting each other's keys.
func (p PublicIdentity) Fingerprint() string {
	h := sha256.New()
	h.Write(p.SignPublicKey[:])
	h.Write(p.KexPublicKey[:])
	sum := h.Sum(nil)

	// 128 bits of entropy always map to twelve words.
	words, err := bip39.NewMnemonic(sum[:16])
	if err != nil {
		panic(fmt.Sprintf("identity: fingerprint: %v", err))
	}
	return words
}

func (p PublicIdentity) String() string {
	return p.ID()
}

// Identity holds both keypairs of a user. The seeds are secret; only the
// public keys may leave the process. The public keys are always the ones
// derived from the seeds because only FromSeeds and Factory build one.
type Identity struct {
	pub      PublicIdentity
	signSeed [keys.SeedSize]byte
	kexSeed  [keys.SeedSize]byte
}

// FromSeeds rebuilds an identity from its two sub-seeds.
func FromSeeds(signSeed, kexSeed []byte) (*Identity, error) {
	sk, err := keys.NewSigningKey(signSeed)
	if err != nil {
		return nil, err
	}
	defer sk.Wipe()

	kx, err := keys.NewExchangeKey(kexSeed)
	if err != nil {
		return nil, err
	}
	defer kx.Wipe()

	id := &Identity{
		pub: PublicIdentity{
			SignPublicKey: sk.Public(),
			KexPublicKey:  kx.Public(),
		},
	}
	copy(id.signSeed[:], signSeed)
	copy(id.kexSeed[:], kexSeed)
	return id, nil
}

// Public returns the shareable part.
func (id *Identity) Public() PublicIdentity {
	return id.pub
}

// SignPublicKey returns the Ed25519 public key.
func (id *Identity) SignPublicKey() [keys.SigningPublicKeySize]byte {
	return id.pub.SignPublicKey
}

// KexPublicKey returns the X25519 public key.
func (id *Identity) KexPublicKey() [keys.ExchangePublicKeySize]byte {
	return id.pub.KexPublicKey
}

// SignSeed returns a copy of the signing seed. The caller owns and should
// wipe it.
func (id *Identity) SignSeed() []byte {
	return append([]byte(nil), id.signSeed[:]...)
}

// KexSeed returns a copy of the exchange seed, as needed by sealedbox. The
// caller owns and should wipe it.
func (id *Identity) KexSeed() []byte {
	return append([]byte(nil), id.kexSeed[:]...)
}

// Sign signs message with the identity's signing key.
func (id *Identity) Sign(message []byte) ([keys.SignatureSize]byte, error) {
	sk, err := keys.NewSigningKey(id.signSeed[:])
	if err != nil {
		return [keys.SignatureSize]byte{}, err
	}
	defer sk.Wipe()
	return sk.Sign(message), nil
}

// Equal compares all four fields byte for byte in constant time.
func (id *Identity) Equal(other *Identity) bool {
	if id == nil || other == nil {
		return id == other
	}
	eq := subtle.ConstantTimeCompare(id.pub.SignPublicKey[:], other.pub.SignPublicKey[:]) &
		subtle.ConstantTimeCompare(id.pub.KexPublicKey[:], other.pub.KexPublicKey[:]) &
		subtle.ConstantTimeCompare(id.signSeed[:], other.signSeed[:]) &
		subtle.ConstantTimeCompare(id.kexSeed[:], other.kexSeed[:])
	return eq == 1
}

// Wipe zeroes both seeds. Public keys stay usable.
func (id *Identity) Wipe() {
	keys.Wipe(id.signSeed[:])
	keys.Wipe(id.kexSeed[:])
}

// String prints the public part only. It has a value receiver so that
// formatting an Identity value does not dump the seeds either.
func (id Identity) String() string {
	return "Identity(" + id.pub.ID() + ")"
}

// GoString keeps %#v from dumping the seeds.
func (id Identity) GoString() string {
	return id.String()
}

// VerifyFingerprint compares a fingerprint typed by a person against p,
// ignoring case and extra whitespace.
func (p PublicIdentity) VerifyFingerprint(words string) bool {
	got := strings.Join(strings.Fields(strings.ToLower(words)), " ")
	return subtle.ConstantTimeCompare([]byte(got), []byte(p.Fingerprint())) == 1
}

// ParseSignPublicKey checks the size of a raw signing key.
func ParseSignPublicKey(raw []byte) ([keys.SigningPublicKeySize]byte, error) {
	var out [keys.SigningPublicKeySize]byte
	if len(raw) != len(out) {
		return out, cryptoerr.InvalidLength("identity.ParseSignPublicKey", "public key", len(raw), len(out))
	}
	copy(out[:], raw)
	return out, nil
}
