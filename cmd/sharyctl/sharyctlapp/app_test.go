package sharyctlapp

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shary-app/sharycore/internal/authrpc"
	"github.com/shary-app/sharycore/internal/backend"
	"github.com/shary-app/sharycore/internal/keyfmt"
	"github.com/shary-app/sharycore/internal/netmock"
	"github.com/shary-app/sharycore/internal/pintls"
	"github.com/shary-app/sharycore/internal/registry"
	"github.com/stretchr/testify/require"
)

const serverAddr = "authd.test:9931"

type env struct {
	dir  string
	pin  string
	netw *netmock.MockNetwork
}

func newEnv(t *testing.T) *env {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	srvTLS, err := pintls.ServerConfig(priv)
	require.NoError(t, err)

	netw := netmock.NewMockNetwork()
	srv := authrpc.NewGRPCServer(backend.New(registry.NewMemStore()), srvTLS, nil)
	_, unregister, err := netw.Register(context.Background(), serverAddr, priv, srv)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unregister() })

	dir := t.TempDir()
	pin := filepath.Join(dir, "server.pub")
	require.NoError(t, pintls.WritePin(pin, pub))
	return &env{dir: dir, pin: pin, netw: netw}
}

func (e *env) passwordFile(t *testing.T, pw string) string {
	t.Helper()
	f, err := os.CreateTemp(e.dir, "pw")
	require.NoError(t, err)
	_, err = f.WriteString(pw + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

// run executes sharyctl with args as user and returns stdout.
func (e *env) run(t *testing.T, user, pwFile string, stdin []byte, args ...string) (string, error) {
	t.Helper()
	full := append([]string{
		"--server-addr", serverAddr,
		"--server-key", e.pin,
		"--username", user,
		"--password-file", pwFile,
		"--iterations", "1000",
	}, args...)
	var stdout, stderr bytes.Buffer
	err := Run(context.Background(), WithArgs(full), WithNetwork(e.netw),
		WithIO(bytes.NewReader(stdin), &stdout, &stderr))
	return stdout.String(), err
}

func TestIdentity_Offline(t *testing.T) {
	t.Parallel()

	e := &env{dir: t.TempDir(), pin: "unused"}
	pw := e.passwordFile(t, "correct horse battery staple")

	out, err := e.run(t, "alice", pw, nil, "identity")
	require.NoError(t, err)
	require.Contains(t, out, "id:          shy1")
	require.Contains(t, out, "fingerprint: ")

	again, err := e.run(t, "ALICE ", pw, nil, "identity")
	require.NoError(t, err)
	require.Equal(t, out, again)

	_, err = e.run(t, "", pw, nil, "identity")
	require.ErrorContains(t, err, "--username")
}

func TestRegisterLoginLookup(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	alicePW := e.passwordFile(t, "correct horse battery staple")

	out, err := e.run(t, "alice", alicePW, nil, "register", "--email", "alice@example.com")
	require.NoError(t, err)
	require.Contains(t, out, "Registered alice as shy1")

	_, err = e.run(t, "alice", e.passwordFile(t, "other"), nil, "register")
	require.ErrorContains(t, err, "taken")

	out, err = e.run(t, "alice", alicePW, nil, "login")
	require.NoError(t, err)
	require.Contains(t, out, "Logged in as alice")

	_, err = e.run(t, "alice", e.passwordFile(t, "wrong"), nil, "login")
	require.ErrorContains(t, err, "login failed")

	ident, err := e.run(t, "alice", alicePW, nil, "identity")
	require.NoError(t, err)
	out, err = e.run(t, "bob", alicePW, nil, "lookup", "alice")
	require.NoError(t, err)
	require.Contains(t, ident, "kex key:     "+strings.TrimSpace(out))

	_, err = e.run(t, "bob", alicePW, nil, "lookup", "mallory")
	require.ErrorContains(t, err, "no such user")
}

func TestSealOpen(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	alicePW := e.passwordFile(t, "alice pw")
	bobPW := e.passwordFile(t, "bob pw")
	for user, pw := range map[string]string{"alice": alicePW, "bob": bobPW} {
		_, err := e.run(t, user, pw, nil, "register")
		require.NoError(t, err)
	}
	aliceKey, err := e.run(t, "bob", bobPW, nil, "lookup", "alice")
	require.NoError(t, err)
	bobKey, err := e.run(t, "alice", alicePW, nil, "lookup", "bob")
	require.NoError(t, err)
	aliceKey, bobKey = strings.TrimSpace(aliceKey), strings.TrimSpace(bobKey)

	t.Run("static", func(t *testing.T) {
		sealed, err := e.run(t, "bob", bobPW, []byte("DE89 3704 0044 0532 0130 00"),
			"seal", "--peer-key", aliceKey, "--ad", "iban")
		require.NoError(t, err)

		got, err := e.run(t, "alice", alicePW, []byte(sealed), "open", "--peer-key", bobKey, "--ad", "iban")
		require.NoError(t, err)
		require.Equal(t, "DE89 3704 0044 0532 0130 00", got)

		_, err = e.run(t, "alice", alicePW, []byte(sealed), "open", "--peer-key", bobKey, "--ad", "bic")
		require.ErrorContains(t, err, "authentication failure")

		_, err = e.run(t, "alice", alicePW, []byte(sealed), "open")
		require.ErrorContains(t, err, "--peer-key")
	})

	t.Run("anonymous files", func(t *testing.T) {
		in := filepath.Join(e.dir, "plain.txt")
		enc := filepath.Join(e.dir, "sealed.bin")
		dec := filepath.Join(e.dir, "opened.txt")
		require.NoError(t, os.WriteFile(in, []byte("phone: +49 30 1234"), 0o600))

		_, err := e.run(t, "bob", bobPW, nil, "seal", "--anonymous", "--peer-key", aliceKey, "--in", in, "--out", enc)
		require.NoError(t, err)
		_, err = e.run(t, "alice", alicePW, nil, "open", "--anonymous", "--in", enc, "--out", dec)
		require.NoError(t, err)
		got, err := os.ReadFile(dec)
		require.NoError(t, err)
		require.Equal(t, "phone: +49 30 1234", string(got))

		_, err = e.run(t, "bob", bobPW, nil, "open", "--anonymous", "--in", enc)
		require.ErrorContains(t, err, "authentication failure")
	})

	t.Run("bad peer key", func(t *testing.T) {
		_, err := e.run(t, "bob", bobPW, []byte("x"), "seal", "--peer-key", keyfmt.Encode(make([]byte, 31)))
		require.ErrorContains(t, err, "peer key")
	})
}

func TestPasswordFromStdin(t *testing.T) {
	t.Parallel()

	e := &env{dir: t.TempDir(), pin: "unused"}
	fromFile, err := e.run(t, "carol", e.passwordFile(t, "pw"), nil, "identity")
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	err = Run(context.Background(),
		WithArgs([]string{"--username", "carol", "--iterations", "1000", "identity"}),
		WithIO(strings.NewReader("pw\n"), &stdout, &stderr))
	require.NoError(t, err)
	require.Equal(t, fromFile, stdout.String())
	require.Contains(t, stderr.String(), "Password:")
}

// kexKey extracts the exchange key from `identity` output.
func kexKey(t *testing.T, identityOut string) string {
	t.Helper()
	for _, line := range strings.Split(identityOut, "\n") {
		if k, ok := strings.CutPrefix(line, "kex key:"); ok {
			return strings.TrimSpace(k)
		}
	}
	t.Fatalf("no kex key in %q", identityOut)
	return ""
}

func TestSeal_PasswordOnStdin(t *testing.T) {
	t.Parallel()

	e := &env{dir: t.TempDir(), pin: "unused"}
	alicePW := e.passwordFile(t, "alice pw")
	ident, err := e.run(t, "alice", alicePW, nil, "identity")
	require.NoError(t, err)
	aliceKey := kexKey(t, ident)

	in := filepath.Join(e.dir, "field.txt")
	require.NoError(t, os.WriteFile(in, []byte("secret-field-value"), 0o600))
	sealed := filepath.Join(e.dir, "field.sealed")

	// Password piped on stdin, input from a file.
	var stdout, stderr bytes.Buffer
	err = Run(context.Background(),
		WithArgs([]string{"--username", "bob", "--iterations", "1000",
			"seal", "--peer-key", aliceKey, "--in", in, "--out", sealed}),
		WithIO(strings.NewReader("bob pw\n"), &stdout, &stderr))
	require.NoError(t, err)
	require.Contains(t, stderr.String(), "Password:")

	bobIdent, err := e.run(t, "bob", e.passwordFile(t, "bob pw"), nil, "identity")
	require.NoError(t, err)
	got, err := e.run(t, "alice", alicePW, nil, "open", "--peer-key", kexKey(t, bobIdent), "--in", sealed)
	require.NoError(t, err)
	require.Equal(t, "secret-field-value", got)

	// Password and input cannot both come from a piped stdin.
	for _, cmd := range []string{"seal", "open"} {
		stdout.Reset()
		stderr.Reset()
		err = Run(context.Background(),
			WithArgs([]string{"--username", "bob", "--iterations", "1000", cmd, "--peer-key", aliceKey}),
			WithIO(strings.NewReader("bob pw\nsecret-field-value"), &stdout, &stderr))
		require.ErrorContains(t, err, "--password-file", cmd)
		require.NotContains(t, stderr.String(), "Password:", cmd)
	}
}

func TestNoSubcommand(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	err := Run(context.Background(), WithArgs([]string{"--username", "x"}),
		WithIO(strings.NewReader(""), &stdout, &stderr))
	require.ErrorContains(t, err, "sub-command")
}
