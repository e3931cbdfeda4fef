package keys

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/shary-app/sharycore/pkg/cryptoerr"
	"github.com/stretchr/testify/require"
)

// RFC 8032 §7.1 TEST 1.
func TestSigningKey_RFC8032(t *testing.T) {
	t.Parallel()

	seed := mustHex(t, "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60")
	k, err := NewSigningKey(seed)
	require.NoError(t, err)

	pub := k.Public()
	require.Equal(t, "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a",
		hex.EncodeToString(pub[:]))

	sig := k.Sign(nil)
	require.Equal(t,
		"e5564300c360ac729086e2cc806e828a84877f1eb8e5d974d873e065224901555fb8821590a33bacc61e39701cf9b46bd25bf5f0595bbe24655141438e7a100b",
		hex.EncodeToString(sig[:]))
	require.True(t, Verify(pub[:], nil, sig[:]))
}

func TestSigningKey_RoundTripAndBitFlips(t *testing.T) {
	t.Parallel()

	k, err := NewSigningKey(bytes.Repeat([]byte{7}, SeedSize))
	require.NoError(t, err)
	pub := k.Public()

	msg := []byte("challenge-bytes-0123456789")
	sig := k.Sign(msg)
	require.True(t, Verify(pub[:], msg, sig[:]))

	for i := range msg {
		for bit := 0; bit < 8; bit++ {
			m := bytes.Clone(msg)
			m[i] ^= 1 << bit
			require.False(t, Verify(pub[:], m, sig[:]), "message byte %d bit %d", i, bit)
		}
	}
	for i := range sig {
		s := sig
		s[i] ^= 0x01
		require.False(t, Verify(pub[:], msg, s[:]), "signature byte %d", i)
	}
}

func TestVerifyErr_MalformedInputs(t *testing.T) {
	t.Parallel()

	k, err := NewSigningKey(bytes.Repeat([]byte{9}, SeedSize))
	require.NoError(t, err)
	pub := k.Public()
	msg := []byte("m")
	sig := k.Sign(msg)

	cases := []struct {
		name string
		pub  []byte
		sig  []byte
		want error
	}{
		{"short key", pub[:31], sig[:], cryptoerr.ErrInvalidInputLength},
		{"long key", append(pub[:], 0), sig[:], cryptoerr.ErrInvalidInputLength},
		{"nil key", nil, sig[:], cryptoerr.ErrInvalidInputLength},
		{"short sig", pub[:], sig[:63], cryptoerr.ErrInvalidInputLength},
		{"long sig", pub[:], append(sig[:], 0), cryptoerr.ErrInvalidInputLength},
		{"zero sig", pub[:], make([]byte, SignatureSize), cryptoerr.ErrAuthenticationFailure},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := VerifyErr(tc.pub, msg, tc.sig)
			require.ErrorIs(t, err, tc.want)
			require.False(t, Verify(tc.pub, msg, tc.sig))
		})
	}
}

func TestNewSigningKey_SeedSize(t *testing.T) {
	t.Parallel()

	_, err := NewSigningKey(make([]byte, 16))
	require.ErrorIs(t, err, cryptoerr.ErrInvalidInputLength)
}

func TestSigningKey_Wipe(t *testing.T) {
	t.Parallel()

	k, err := NewSigningKey(bytes.Repeat([]byte{3}, SeedSize))
	require.NoError(t, err)
	k.Wipe()
	require.Equal(t, make([]byte, len(k.priv)), []byte(k.priv))
}
