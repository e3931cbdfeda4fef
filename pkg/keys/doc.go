// Package keys holds the primitives the identity is built from: the password
// KDF, the HKDF sub-seed expander, and Ed25519 and X25519 keypairs derived
// from 32-byte seeds.
//
// Everything here is a pure function of its inputs. Nothing is cached and
// nothing is logged. Secret buffers handed back to callers are owned by them
// and should be cleared with Wipe once no longer needed.
package keys

// Wipe overwrites b with zeros. Go gives no guarantee that no other copy of
// the data exists, so this is best effort.
func Wipe(b []byte) {
	clear(b)
}
