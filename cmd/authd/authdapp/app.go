// Package authdapp runs the account backend as a daemon: a YAML registry
// behind the gRPC auth service, served over pinned TLS on TCP or as a Tor
// onion service.
package authdapp

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/shary-app/sharycore/internal/authrpc"
	"github.com/shary-app/sharycore/internal/backend"
	"github.com/shary-app/sharycore/internal/keyfmt"
	"github.com/shary-app/sharycore/internal/metrics"
	"github.com/shary-app/sharycore/internal/network"
	"github.com/shary-app/sharycore/internal/nettor"
	"github.com/shary-app/sharycore/internal/pintls"
	"github.com/shary-app/sharycore/internal/privacylog"
	"github.com/shary-app/sharycore/internal/ratelimit"
	"github.com/shary-app/sharycore/internal/registry"
	"github.com/shary-app/sharycore/pkg/identity"
	"github.com/shary-app/sharycore/pkg/keys"
	"github.com/starius/flock"
)

// Daemon identity inputs. The daemon derives its TLS and onion key like any
// other identity, from its own password.
const (
	daemonAppID    = "authd"
	daemonUsername = "authd"
)

// Files in the data directory.
const (
	lockFile     = "authd.lock"
	pinFile      = "server.pub"
	registryFile = "registry.yaml"
	torDir       = "tor"
)

// Config holds authd configuration.
// Tags: flag name, env var, and default value.
type Config struct {
	// DataDir holds the registry, the pin file and Tor state.
	DataDir string `long:"data-dir" env:"AUTHD_DATA_DIR" description:"Base directory for daemon data (registry, server.pub, tor)." default:"~/.shary-authd"`

	Listen string `long:"listen" env:"AUTHD_LISTEN" description:"TCP address to serve on. Ignored with --tor." default:"127.0.0.1:9931"`
	Tor    bool   `long:"tor" env:"AUTHD_TOR" description:"Serve as a Tor onion service instead of TCP."`

	MetricsAddr string `long:"metrics-addr" env:"AUTHD_METRICS_ADDR" description:"Address for the Prometheus /metrics endpoint. Empty disables it."`

	ServerPasswordFile string `long:"server-password-file" env:"AUTHD_SERVER_PASSWORD_FILE" description:"File with the password the daemon key is derived from." required:"true"`
	KDFIterations      int    `long:"kdf-iterations" env:"AUTHD_KDF_ITERATIONS" description:"PBKDF2 iterations for the daemon key. Changing it changes the pin." default:"200000"`

	ChallengeTTL time.Duration `long:"challenge-ttl" env:"AUTHD_CHALLENGE_TTL" description:"How long a login challenge can be answered." default:"1m"`
	LoginRate    float64       `long:"login-rate" env:"AUTHD_LOGIN_RATE" description:"Challenge and login attempts per second per username. 0 disables limiting." default:"0.2"`
	LoginBurst   int           `long:"login-burst" env:"AUTHD_LOGIN_BURST" description:"Burst of attempts per username." default:"5"`

	LogLevel string `long:"log-level" env:"AUTHD_LOG_LEVEL" description:"debug, info, warn or error." default:"info"`
}

// Parse options
type parseOptions struct{ args []string }
type ParseOption func(*parseOptions)

func WithOSArgs() ParseOption { return func(o *parseOptions) { o.args = os.Args[1:] } }
func WithArgs(a []string) ParseOption {
	return func(o *parseOptions) { o.args = append([]string{}, a...) }
}

// Parse parses flags/env into Config using go-flags.
func Parse(opts ...ParseOption) (*Config, error) {
	var po parseOptions
	for _, opt := range opts {
		opt(&po)
	}
	cfg := &Config{}
	p := flags.NewParser(cfg, flags.Default)
	var err error
	if len(po.args) > 0 {
		_, err = p.ParseArgs(po.args)
	} else {
		_, err = p.Parse()
	}
	if err != nil {
		if ferr, ok := err.(*flags.Error); ok && ferr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, err
	}
	return cfg, nil
}

// Ready describes a started daemon.
type Ready struct {
	// Addr is the address clients dial.
	Addr string
	// Pin is the server key clients pin.
	Pin ed25519.PublicKey
	// MetricsAddr is the bound metrics address, if enabled.
	MetricsAddr string
}

// Run options
type runOptions struct {
	netw   network.Network
	ready  func(Ready)
	logOut io.Writer
}
type RunOption func(*runOptions)

// WithNetwork replaces the TCP/Tor network, for tests.
func WithNetwork(n network.Network) RunOption { return func(o *runOptions) { o.netw = n } }

// WithReady registers a callback invoked once the service is reachable.
func WithReady(f func(Ready)) RunOption { return func(o *runOptions) { o.ready = f } }

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) RunOption { return func(o *runOptions) { o.logOut = w } }

// Run starts the daemon and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config, opts ...RunOption) (retErr error) {
	ro := runOptions{logOut: os.Stderr}
	for _, opt := range opts {
		opt(&ro)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger := privacylog.NewLogger(ro.logOut, level)

	baseDir, err := expandPath(cfg.DataDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	rel, err := acquireDirLock(filepath.Join(baseDir, lockFile))
	if err != nil {
		return err
	}
	defer func() {
		if err := rel(); err != nil {
			retErr = errors.Join(retErr, fmt.Errorf("release lock: %w", err))
		}
	}()

	priv, err := daemonKey(ctx, cfg)
	if err != nil {
		return err
	}
	pub := priv.Public().(ed25519.PublicKey)
	if err := pintls.WritePin(filepath.Join(baseDir, pinFile), pub); err != nil {
		return fmt.Errorf("write pin: %w", err)
	}
	logger.Info("server key", "pin", keyfmt.Encode(pub), "file", filepath.Join(baseDir, pinFile))

	store, err := registry.OpenFile(filepath.Join(baseDir, registryFile))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			retErr = errors.Join(retErr, fmt.Errorf("close registry: %w", err))
		}
	}()
	logger.Info("registry opened", "path", store.Path(), "accounts", store.Len())

	m := metrics.New()
	svc := backend.New(store,
		backend.WithChallengeTTL(cfg.ChallengeTTL),
		backend.WithLimiter(ratelimit.New(cfg.LoginRate, cfg.LoginBurst, 0)),
		backend.WithMetrics(m),
		backend.WithLogger(logger),
	)

	srvTLS, err := pintls.ServerConfig(priv)
	if err != nil {
		return fmt.Errorf("server TLS: %w", err)
	}
	grpcSrv := authrpc.NewGRPCServer(svc, srvTLS, logger)

	netw := ro.netw
	if netw == nil {
		if cfg.Tor {
			netw = nettor.NewTorNetwork(filepath.Join(baseDir, torDir), logger)
		} else {
			netw = network.NewTCP()
		}
	}
	bound, unregister, err := netw.Register(ctx, cfg.Listen, priv, grpcSrv)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer func() {
		if err := unregister(); err != nil {
			retErr = errors.Join(retErr, fmt.Errorf("stop serving: %w", err))
		}
	}()
	logger.Info("auth service serving", "addr", bound)

	ready := Ready{Addr: bound, Pin: pub}
	if cfg.MetricsAddr != "" {
		stop, addr, err := serveMetrics(cfg.MetricsAddr, m, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := stop(); err != nil {
				retErr = errors.Join(retErr, fmt.Errorf("stop metrics: %w", err))
			}
		}()
		ready.MetricsAddr = addr
		logger.Info("metrics serving", "addr", addr)
	}
	if ro.ready != nil {
		ro.ready(ready)
	}

	<-ctx.Done()
	logger.Info("shutdown requested")
	return nil
}

// daemonKey derives the daemon's Ed25519 key from its password file. The
// same password always gives the same pin and onion address.
func daemonKey(ctx context.Context, cfg Config) (ed25519.PrivateKey, error) {
	path, err := expandPath(cfg.ServerPasswordFile)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read server password: %w", err)
	}
	pw := []byte(strings.TrimRight(string(b), "\r\n"))
	keys.Wipe(b)
	if len(pw) == 0 {
		return nil, errors.New("server password file is empty")
	}
	creds := identity.Credentials{Username: daemonUsername, Password: pw, ApplicationID: daemonAppID}
	defer creds.Wipe()

	id, err := identity.NewFactory(identity.WithIterations(cfg.KDFIterations)).Derive(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("derive server key: %w", err)
	}
	defer id.Wipe()
	seed := id.SignSeed()
	defer keys.Wipe(seed)
	return ed25519.NewKeyFromSeed(seed), nil
}

func serveMetrics(addr string, m *metrics.Backend, logger *slog.Logger) (func() error, string, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("listen metrics %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "err", err)
		}
	}()
	stop := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
	return stop, lis.Addr().String(), nil
}

// Helpers

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

// acquireDirLock locks lockPath for the lifetime of the daemon.
func acquireDirLock(lockPath string) (func() error, error) {
	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock: %w", err)
	}
	if err := flock.LockFile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("daemon already running (lock held)")
	}
	return func() error {
		var e error
		if err := flock.UnlockFile(f); err != nil {
			e = errors.Join(e, fmt.Errorf("unlock: %w", err))
		}
		if err := f.Close(); err != nil {
			e = errors.Join(e, fmt.Errorf("close lock: %w", err))
		}
		if err := os.Remove(lockPath); err != nil {
			e = errors.Join(e, fmt.Errorf("remove lock: %w", err))
		}
		return e
	}, nil
}
