// Package keyfmt converts fixed-size keys to and from text.
//
// Keys are written as unpadded base64url. On input, padded and standard
// base64 are accepted too, so keys pasted from other tools decode cleanly.
package keyfmt

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/shary-app/sharycore/pkg/cryptoerr"
)

// Encode returns raw as unpadded base64url.
func Encode(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses s and checks it decodes to exactly size bytes. A size of 0
// accepts any length.
func Decode(s string, size int) ([]byte, error) {
	const op = "keyfmt.Decode"

	s = strings.TrimSpace(s)
	if s == "" {
		return nil, cryptoerr.New(cryptoerr.KindInvalidInputLength, op, "empty key")
	}

	enc := base64.RawURLEncoding
	if strings.ContainsAny(s, "+/") {
		enc = base64.RawStdEncoding
	}
	raw, err := enc.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, cryptoerr.New(cryptoerr.KindInvalidInputLength, op,
			fmt.Sprintf("not base64 (%d chars)", len(s)))
	}
	if size != 0 && len(raw) != size {
		return nil, cryptoerr.InvalidLength(op, "key", len(raw), size)
	}
	return raw, nil
}

// MustDecode is Decode for compile-time constants in tests and tools.
func MustDecode(s string, size int) []byte {
	raw, err := Decode(s, size)
	if err != nil {
		panic(err)
	}
	return raw
}
