// Package registry stores the public keys of registered accounts.
package registry

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrExists is returned by Put for a username that is already taken.
	ErrExists = errors.New("registry: username already registered")

	// ErrNotFound is returned by Get for an unknown username.
	ErrNotFound = errors.New("registry: username not found")
)

// Record is one registered account. Only public data is stored.
type Record struct {
	Username      string
	Email         string
	SignPublicKey []byte
	KexPublicKey  []byte
	RegisteredAt  time.Time
}

func (r Record) clone() Record {
	r.SignPublicKey = bytes.Clone(r.SignPublicKey)
	r.KexPublicKey = bytes.Clone(r.KexPublicKey)
	return r
}

// Store persists records. Implementations are safe for concurrent use.
type Store interface {
	// Put adds rec, or returns ErrExists.
	Put(ctx context.Context, rec Record) error

	// Get returns the record of username, or ErrNotFound.
	Get(ctx context.Context, username string) (Record, error)

	// Len returns the number of records.
	Len() int

	// Close releases the store.
	Close() error
}

// NormalizeUsername is the key usernames are stored under. It matches the
// normalization applied to usernames before key derivation, so two spellings
// that derive the same keys are also the same account.
func NormalizeUsername(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

// MemStore keeps records in memory.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]Record)}
}

func (s *MemStore) Put(_ context.Context, rec Record) error {
	key := NormalizeUsername(rec.Username)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return ErrExists
	}
	rec.Username = key
	s.records[key] = rec.clone()
	return nil
}

func (s *MemStore) Get(_ context.Context, username string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[NormalizeUsername(username)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.clone(), nil
}

func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemStore) Close() error { return nil }

func (s *MemStore) remove(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, NormalizeUsername(username))
}

// snapshot returns all records sorted by username.
func (s *MemStore) snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
