package nettor

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOnionAddress(t *testing.T) {
	t.Parallel()

	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{1}, ed25519.SeedSize))
	addr := OnionAddress(priv.Public().(ed25519.PublicKey))

	require.True(t, strings.HasSuffix(addr, ".onion"))
	require.Len(t, strings.TrimSuffix(addr, ".onion"), 56)
	require.Equal(t, addr, OnionAddress(priv.Public().(ed25519.PublicKey)))

	other := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{2}, ed25519.SeedSize))
	require.NotEqual(t, addr, OnionAddress(other.Public().(ed25519.PublicKey)))
}

func TestDial_RejectsNonOnion(t *testing.T) {
	t.Parallel()

	n := NewTorNetwork(t.TempDir(), nil)
	_, err := n.Dial(context.Background(), "127.0.0.1:9931")
	require.ErrorContains(t, err, "not an onion address")
	require.NoError(t, n.Close())
}

func TestRegister_RequiresKey(t *testing.T) {
	t.Parallel()

	n := NewTorNetwork("", nil)
	_, _, err := n.Register(context.Background(), "", nil, nil)
	require.Error(t, err)
}
