// Package blobstore stores member card images. It defines the Store
// interface and in-memory, local-disk and S3 implementations.
package blobstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrFileTooLarge = errors.New("blob exceeds maximum allowed size")
	ErrInvalidKey   = errors.New("invalid blob key")
)

// MaxFileSize is the largest blob accepted (10 MB).
const MaxFileSize = 10 * 1024 * 1024

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Blob is a stored object with its metadata.
type Blob struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
	Data        []byte    `json:"-"`
}

// Store is the contract for blob backends. Keys are slash separated paths
// without leading slash or "..".
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (*Blob, error)
	Delete(ctx context.Context, key string) error
}

// ValidateKey rejects empty, absolute and parent-relative keys.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

func checkPut(key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if len(data) > MaxFileSize {
		return ErrFileTooLarge
	}
	return nil
}

func hashOf(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// MemoryStore is a thread-safe in-memory Store for tests and development.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*Blob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]*Blob)}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	if err := checkPut(key, data); err != nil {
		return err
	}
	copied := append([]byte(nil), data...)

	s.mu.Lock()
	s.blobs[key] = &Blob{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(copied)),
		Hash:        hashOf(copied),
		CreatedAt:   time.Now().UTC(),
		Data:        copied,
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Blob, error) {
	s.mu.RLock()
	b, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound
	}
	out := *b // copy
	out.Data = append([]byte(nil), b.Data...)
	return &out, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
