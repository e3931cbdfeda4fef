// Package netmock is an in-memory network.Network backed by bufconn.
package netmock

import (
	"context"
	"crypto/ed25519"
	"errors"
	"net"
	"sync"

	"github.com/shary-app/sharycore/internal/network"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

// MockNetwork routes dials to servers registered in the same process.
type MockNetwork struct {
	mu       sync.RWMutex
	services map[string]*bufconn.Listener
}

var _ network.Network = (*MockNetwork)(nil)

// NewMockNetwork returns an empty network.
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{services: make(map[string]*bufconn.Listener)}
}

// Close stops nothing; servers are stopped by their unregister functions.
func (m *MockNetwork) Close() error {
	return nil
}

// Register serves srv under addr. Addresses must be unique.
func (m *MockNetwork) Register(_ context.Context, addr string, _ ed25519.PrivateKey,
	srv *grpc.Server) (string, func() error, error) {

	lis := bufconn.Listen(bufSize)

	m.mu.Lock()
	if _, exists := m.services[addr]; exists {
		m.mu.Unlock()
		return "", nil, errors.New("netmock: address already registered")
	}
	m.services[addr] = lis
	m.mu.Unlock()

	go func() { _ = srv.Serve(lis) }()

	var once sync.Once
	unregister := func() error {
		once.Do(func() {
			m.mu.Lock()
			delete(m.services, addr)
			m.mu.Unlock()
			srv.Stop()
		})
		return nil
	}
	return addr, unregister, nil
}

// Dial connects to the server registered under addr.
func (m *MockNetwork) Dial(ctx context.Context, addr string) (net.Conn, error) {
	m.mu.RLock()
	lis := m.services[addr]
	m.mu.RUnlock()
	if lis == nil {
		return nil, errors.New("netmock: unknown address")
	}
	return lis.DialContext(ctx)
}
