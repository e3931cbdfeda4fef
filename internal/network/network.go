// Package network abstracts where the auth service is served and how
// clients reach it: plain TCP, an in-memory network for tests (netmock) or
// a Tor onion service (nettor).
package network

import (
	"context"
	"crypto/ed25519"
	"errors"
	"net"
	"sync"

	"google.golang.org/grpc"
)

// Network serves gRPC servers and dials them.
type Network interface {
	// Register serves srv at addr and returns the address clients should
	// dial, which may differ from addr (port 0, onion hostnames). priv is
	// the service's long-term key; networks that derive the address from
	// a key use it. unregister stops serving and releases resources.
	Register(ctx context.Context, addr string, priv ed25519.PrivateKey,
		srv *grpc.Server) (bound string, unregister func() error, err error)

	// Dial opens a transport connection to addr. Callers wrap it with
	// grpc.WithContextDialer.
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

// TCP serves on regular TCP listeners.
type TCP struct {
	dialer net.Dialer
}

var _ Network = (*TCP)(nil)

// NewTCP returns a TCP network.
func NewTCP() *TCP { return &TCP{} }

func (t *TCP) Register(ctx context.Context, addr string, _ ed25519.PrivateKey,
	srv *grpc.Server) (string, func() error, error) {

	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return "", nil, err
	}

	done := make(chan error, 1)
	go func() { done <- srv.Serve(lis) }()

	var once sync.Once
	unregister := func() error {
		var err error
		once.Do(func() {
			srv.GracefulStop()
			err = <-done
			if errors.Is(err, grpc.ErrServerStopped) {
				err = nil
			}
		})
		return err
	}
	return lis.Addr().String(), unregister, nil
}

func (t *TCP) Dial(ctx context.Context, addr string) (net.Conn, error) {
	return t.dialer.DialContext(ctx, "tcp", addr)
}
