package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shary-app/sharycore/internal/keyfmt"
	"github.com/starius/flock"
	"gopkg.in/yaml.v3"
)

// FileStore is a MemStore persisted to a YAML file after every change. The
// file is locked for as long as the store is open, so two daemons cannot
// share it.
type FileStore struct {
	*MemStore

	path string
	lock *os.File

	// writeMu orders file writes so the file always matches memory.
	writeMu sync.Mutex
}

var _ Store = (*FileStore)(nil)

type fileFormat struct {
	Version  int           `yaml:"version"`
	Accounts []fileAccount `yaml:"accounts"`
}

type fileAccount struct {
	Username      string    `yaml:"username"`
	Email         string    `yaml:"email,omitempty"`
	SignPublicKey string    `yaml:"sign_public_key"`
	KexPublicKey  string    `yaml:"kex_public_key"`
	RegisteredAt  time.Time `yaml:"registered_at"`
}

const fileVersion = 1

// OpenFile opens or creates the registry at path. It fails if another
// process holds the store open.
func OpenFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	lockPath := path + ".lock"
	lf, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open registry lock: %w", err)
	}
	if err := flock.LockFile(lf); err != nil {
		_ = lf.Close()
		return nil, fmt.Errorf("registry %s is in use (lock held)", path)
	}

	s := &FileStore{
		MemStore: NewMemStore(),
		path:     path,
		lock:     lf,
	}
	if err := s.load(); err != nil {
		return nil, errors.Join(err, s.unlock())
	}
	return s, nil
}

// Path returns the YAML file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Put(ctx context.Context, rec Record) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.MemStore.Put(ctx, rec); err != nil {
		return err
	}
	if err := s.save(); err != nil {
		s.remove(rec.Username)
		return err
	}
	return nil
}

// Close releases the file lock.
func (s *FileStore) Close() error {
	return s.unlock()
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse registry %s: %w", s.path, err)
	}
	if f.Version != 0 && f.Version != fileVersion {
		return fmt.Errorf("registry %s: unsupported version %d", s.path, f.Version)
	}
	for _, a := range f.Accounts {
		signPub, err := keyfmt.Decode(a.SignPublicKey, 32)
		if err != nil {
			return fmt.Errorf("registry %s: account %q: sign key: %w", s.path, a.Username, err)
		}
		kexPub, err := keyfmt.Decode(a.KexPublicKey, 32)
		if err != nil {
			return fmt.Errorf("registry %s: account %q: kex key: %w", s.path, a.Username, err)
		}
		rec := Record{
			Username:      a.Username,
			Email:         a.Email,
			SignPublicKey: signPub,
			KexPublicKey:  kexPub,
			RegisteredAt:  a.RegisteredAt,
		}
		if err := s.MemStore.Put(context.Background(), rec); err != nil {
			return fmt.Errorf("registry %s: account %q: %w", s.path, a.Username, err)
		}
	}
	return nil
}

// save writes the whole registry to a temp file and renames it over the
// old one.
func (s *FileStore) save() error {
	f := fileFormat{Version: fileVersion}
	for _, r := range s.snapshot() {
		f.Accounts = append(f.Accounts, fileAccount{
			Username:      r.Username,
			Email:         r.Email,
			SignPublicKey: keyfmt.Encode(r.SignPublicKey),
			KexPublicKey:  keyfmt.Encode(r.KexPublicKey),
			RegisteredAt:  r.RegisteredAt.UTC(),
		})
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Join(fmt.Errorf("replace registry: %w", err), os.Remove(tmp))
	}
	return nil
}

func (s *FileStore) unlock() error {
	if s.lock == nil {
		return nil
	}
	var e error
	if err := flock.UnlockFile(s.lock); err != nil {
		e = errors.Join(e, fmt.Errorf("unlock registry: %w", err))
	}
	if err := s.lock.Close(); err != nil {
		e = errors.Join(e, fmt.Errorf("close registry lock: %w", err))
	}
	s.lock = nil
	return e
}
