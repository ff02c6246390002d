package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Persisted key names. Every backend stores the bearer value and its expiry
// under these two keys.
const (
	KeyToken   = "token"
	KeyExpires = "token_expires"
)

// ErrNoRecord is returned by Storage.Load when nothing has been persisted.
var ErrNoRecord = errors.New("no persisted token")

// Record is a bearer token and its absolute expiry.
type Record struct {
	Value     string
	ExpiresAt time.Time
}

// IsZero reports whether the record carries no token.
func (r Record) IsZero() bool {
	return r.Value == ""
}

// Storage is the durable key-value store behind the token cache.
type Storage interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
	Clear(ctx context.Context) error
}

func encodeFields(rec Record) map[string]string {
	return map[string]string{
		KeyToken:   rec.Value,
		KeyExpires: rec.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeFields(fields map[string]string) (Record, error) {
	value := fields[KeyToken]
	raw := fields[KeyExpires]
	if value == "" || raw == "" {
		return Record{}, ErrNoRecord
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return Record{}, fmt.Errorf("parsing %s %q: %w", KeyExpires, raw, err)
	}
	return Record{Value: value, ExpiresAt: expiresAt}, nil
}

// ---------------------------------------------------------------------------
// MemoryStorage
// ---------------------------------------------------------------------------

// MemoryStorage keeps the record in process memory. Used in tests and when
// TOKEN_STORE=memory.
type MemoryStorage struct {
	mu     sync.Mutex
	fields map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Load(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fields == nil {
		return Record{}, ErrNoRecord
	}
	return decodeFields(s.fields)
}

func (s *MemoryStorage) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = encodeFields(rec)
	return nil
}

func (s *MemoryStorage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = nil
	return nil
}

// ---------------------------------------------------------------------------
// FileStorage
// ---------------------------------------------------------------------------

// FileStorage persists the record as a small JSON object on local disk.
type FileStorage struct {
	path string
	mu   sync.Mutex
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Path returns the file the record is written to.
func (s *FileStorage) Path() string {
	return s.path
}

func (s *FileStorage) Load(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNoRecord
		}
		return Record{}, fmt.Errorf("reading token file: %w", err)
	}

	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		return Record{}, fmt.Errorf("parsing token file: %w", err)
	}
	return decodeFields(fields)
}

func (s *FileStorage) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(encodeFields(rec), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("creating temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing token file: %w", err)
	}
	return nil
}

func (s *FileStorage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}
