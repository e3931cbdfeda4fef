// Package nettor serves and dials over Tor onion services using bine.
package nettor

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cretz/bine/tor"
	"github.com/cretz/bine/torutil"
	torutiled25519 "github.com/cretz/bine/torutil/ed25519"
	"github.com/shary-app/sharycore/internal/network"
	"google.golang.org/grpc"
)

// OnionPort is the virtual port the service is published on.
const OnionPort = 80

const publishTimeout = 3 * time.Minute

// TorNetwork is a network.Network backed by a Tor process it starts on
// first use.
type TorNetwork struct {
	dataDir string
	logger  *slog.Logger

	mu sync.Mutex
	t  *tor.Tor
}

var _ network.Network = (*TorNetwork)(nil)

// NewTorNetwork returns a network keeping Tor state in dataDir.
func NewTorNetwork(dataDir string, logger *slog.Logger) *TorNetwork {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TorNetwork{dataDir: dataDir, logger: logger}
}

// OnionAddress returns the v3 onion hostname of an Ed25519 key. The
// service published by Register for priv has this address.
func OnionAddress(pub ed25519.PublicKey) string {
	return torutil.OnionServiceIDFromV3PublicKey(torutiled25519.PublicKey(pub)) + ".onion"
}

// Close stops the Tor process if one was started.
func (n *TorNetwork) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.t == nil {
		return nil
	}
	err := n.t.Close()
	n.t = nil
	return err
}

func (n *TorNetwork) ensureTor(ctx context.Context) (*tor.Tor, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.t != nil {
		return n.t, nil
	}
	if n.dataDir == "" {
		return nil, errors.New("nettor: tor data dir not set")
	}

	_, statErr := os.Stat(n.dataDir)
	if err := os.MkdirAll(n.dataDir, 0o700); err != nil {
		return nil, err
	}
	n.logger.InfoContext(ctx, "starting tor", "data_dir", n.dataDir, "reuse", statErr == nil)

	t, err := tor.Start(ctx, &tor.StartConf{DataDir: n.dataDir})
	if err != nil {
		return nil, fmt.Errorf("start tor: %w", err)
	}
	n.t = t
	return t, nil
}

// Register publishes an onion service keyed by priv and serves srv on it.
// addr is ignored; the onion address follows from the key.
func (n *TorNetwork) Register(ctx context.Context, _ string, priv ed25519.PrivateKey,
	srv *grpc.Server) (string, func() error, error) {

	if len(priv) != ed25519.PrivateKeySize {
		return "", nil, errors.New("nettor: onion key required")
	}
	t, err := n.ensureTor(ctx)
	if err != nil {
		return "", nil, err
	}

	listenCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	onion, err := t.Listen(listenCtx, &tor.ListenConf{
		RemotePorts: []int{OnionPort},
		Key:         priv,
	})
	if err != nil {
		return "", nil, fmt.Errorf("publish onion service: %w", err)
	}
	_, lport, _ := net.SplitHostPort(onion.LocalListener.Addr().String())
	n.logger.InfoContext(ctx, "onion service published", "onion", onion.ID, "local_port", lport)

	go func() { _ = srv.Serve(onion) }()

	var once sync.Once
	unregister := func() error {
		var err error
		once.Do(func() {
			srv.Stop()
			err = errors.Join(onion.Close(), n.Close())
		})
		return err
	}
	return onion.ID + ".onion", unregister, nil
}

// Dial connects to an onion address through Tor, starting Tor if needed.
func (n *TorNetwork) Dial(ctx context.Context, addr string) (net.Conn, error) {
	host := strings.TrimSpace(addr)
	if !strings.Contains(host, ".onion") {
		return nil, fmt.Errorf("nettor: %q is not an onion address", addr)
	}
	if !strings.Contains(host, ":") {
		host = fmt.Sprintf("%s:%d", host, OnionPort)
	}

	t, err := n.ensureTor(ctx)
	if err != nil {
		return nil, err
	}
	d, err := t.Dialer(ctx, nil)
	if err != nil {
		return nil, err
	}
	return d.DialContext(ctx, "tcp", host)
}
