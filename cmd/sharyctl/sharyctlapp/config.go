// Package sharyctlapp is the sharyctl command line: it derives identities
// locally, talks to an authd backend and seals fields for other users.
package sharyctlapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	flags "github.com/jessevdk/go-flags"
	"github.com/shary-app/sharycore/internal/authrpc"
	"github.com/shary-app/sharycore/internal/network"
	"github.com/shary-app/sharycore/internal/nettor"
	"github.com/shary-app/sharycore/internal/pintls"
	"github.com/shary-app/sharycore/internal/privacylog"
	"github.com/shary-app/sharycore/pkg/identity"
	"google.golang.org/grpc"
)

// Config holds common CLI flags and runtime.
type Config struct {
	ServerAddr string `long:"server-addr" env:"SHARY_SERVER_ADDR" description:"authd address (host:port or .onion)." default:"127.0.0.1:9931"`
	ServerKey  string `long:"server-key" env:"SHARY_SERVER_KEY" description:"Pinned server key: base64url text or a path to server.pub." default:"~/.shary-authd/server.pub"`
	Tor        bool   `long:"tor" env:"SHARY_TOR" description:"Reach the server through Tor."`
	TorDir     string `long:"tor-dir" env:"SHARY_TOR_DIR" description:"Tor data directory for --tor." default:"~/.shary/tor"`

	AppID        string `long:"app-id" env:"SHARY_APP_ID" description:"Application id mixed into key derivation." default:"com.shary.app"`
	Username     string `long:"username" short:"u" env:"SHARY_USERNAME" description:"Account name."`
	PasswordFile string `long:"password-file" env:"SHARY_PASSWORD_FILE" description:"Path to file containing the password (single line). Prompts if unset."`
	Iterations   int    `long:"iterations" env:"SHARY_ITERATIONS" description:"PBKDF2 iterations. Must match the value used at registration." default:"200000"`
	Verbose      bool   `long:"verbose" short:"v" description:"Log protocol steps to stderr."`

	// Subcommands
	Identity IdentityCmd `command:"identity" description:"Print the identity derived from username and password (offline)"`
	Register RegisterCmd `command:"register" description:"Register the derived public keys with the server"`
	Login    LoginCmd    `command:"login" description:"Prove possession of the password to the server"`
	Lookup   LookupCmd   `command:"lookup" description:"Print the exchange public key of a user"`
	Seal     SealCmd     `command:"seal" description:"Encrypt a field for another user"`
	Open     OpenCmd     `command:"open" description:"Decrypt a field sealed for you"`

	// Runtime (initialized by Run) for subcommands.
	runtime *runtime
}

type runtime struct {
	ctx    context.Context
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	netw   network.Network
	logger *slog.Logger

	conn   *grpc.ClientConn
	client *authrpc.Client
}

// Run options
type runOptions struct {
	args   []string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	netw   network.Network
}
type RunOption func(*runOptions)

func WithOSArgs() RunOption         { return func(o *runOptions) { o.args = os.Args[1:] } }
func WithArgs(a []string) RunOption { return func(o *runOptions) { o.args = append([]string{}, a...) } }

// WithIO replaces stdin, stdout and stderr.
func WithIO(stdin io.Reader, stdout, stderr io.Writer) RunOption {
	return func(o *runOptions) { o.stdin, o.stdout, o.stderr = stdin, stdout, stderr }
}

// WithNetwork replaces the TCP/Tor network used to reach the server.
func WithNetwork(n network.Network) RunOption { return func(o *runOptions) { o.netw = n } }

// Run parses flags and relies on Parser.CommandHandler to execute the
// selected subcommand. Subcommands that need the server connect lazily.
func Run(ctx context.Context, opts ...RunOption) error {
	ro := runOptions{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	for _, opt := range opts {
		opt(&ro)
	}

	cfg := &Config{runtime: &runtime{
		ctx: ctx, stdin: ro.stdin, stdout: ro.stdout, stderr: ro.stderr, netw: ro.netw,
	}}
	// Inject cfg into subcommands so Execute can access runtime/client.
	cfg.Identity.cfg = cfg
	cfg.Register.cfg = cfg
	cfg.Login.cfg = cfg
	cfg.Lookup.cfg = cfg
	cfg.Seal.cfg = cfg
	cfg.Open.cfg = cfg

	p := flags.NewParser(cfg, flags.Default)
	p.SubcommandsOptional = true
	p.CommandHandler = func(command flags.Commander, args []string) error {
		if command == nil {
			return errors.New("Please specify the sub-command or -h to see the list of sub-commands")
		}
		level := slog.LevelWarn
		if cfg.Verbose {
			level = slog.LevelDebug
		}
		cfg.runtime.logger = privacylog.NewLogger(cfg.runtime.stderr, level)
		defer cfg.closeClient()
		return command.Execute(args)
	}
	var err error
	if len(ro.args) > 0 {
		_, err = p.ParseArgs(ro.args)
	} else {
		_, err = p.Parse()
	}
	if err != nil {
		if ferr, ok := err.(*flags.Error); ok && ferr.Type == flags.ErrHelp {
			return nil
		}
		return err
	}
	return nil
}

// Helpers shared by subcommands.

func expandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p, nil
}

func (c *Config) factory() *identity.Factory {
	return identity.NewFactory(identity.WithIterations(c.Iterations))
}

// credentials reads the password and returns the derivation inputs. The
// caller wipes them.
func (c *Config) credentials() (identity.Credentials, error) {
	if strings.TrimSpace(c.Username) == "" {
		return identity.Credentials{}, errors.New("--username is required")
	}
	pw, err := c.readPassword()
	if err != nil {
		return identity.Credentials{}, err
	}
	return identity.Credentials{Username: c.Username, Password: pw, ApplicationID: c.AppID}, nil
}

// deriveIdentity derives the identity of the configured user.
func (c *Config) deriveIdentity() (*identity.Identity, error) {
	creds, err := c.credentials()
	if err != nil {
		return nil, err
	}
	defer creds.Wipe()
	return c.factory().Derive(c.runtime.ctx, creds)
}

// client connects to the server on first use.
func (c *Config) client() (*authrpc.Client, error) {
	rt := c.runtime
	if rt.client != nil {
		return rt.client, nil
	}

	keyArg, err := expandPath(c.ServerKey)
	if err != nil {
		return nil, err
	}
	pin, err := pintls.ParsePin(keyArg)
	if err != nil {
		return nil, err
	}
	tlsCfg, err := pintls.ClientConfig(pin)
	if err != nil {
		return nil, err
	}

	netw := rt.netw
	if netw == nil {
		if c.Tor {
			dir, err := expandPath(c.TorDir)
			if err != nil {
				return nil, err
			}
			netw = nettor.NewTorNetwork(dir, rt.logger)
		} else {
			netw = network.NewTCP()
		}
		rt.netw = netw
	}

	conn, err := authrpc.Dial(c.ServerAddr, tlsCfg, netw.Dial)
	if err != nil {
		return nil, fmt.Errorf("connect to server: %w", err)
	}
	rt.conn = conn
	rt.client = authrpc.NewClient(conn)
	return rt.client, nil
}

func (c *Config) closeClient() {
	rt := c.runtime
	if rt.conn != nil {
		_ = rt.conn.Close()
		rt.conn, rt.client = nil, nil
	}
	if t, ok := rt.netw.(*nettor.TorNetwork); ok {
		_ = t.Close()
	}
}
