package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const metaSuffix = ".meta.json"

// FileStore keeps each blob as a file under a root directory with a JSON
// sidecar holding its metadata.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *FileStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	if err := checkPut(key, data); err != nil {
		return err
	}
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("creating blob directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0o640); err != nil {
		return fmt.Errorf("writing blob: %w", err)
	}

	meta, err := json.Marshal(Blob{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hashOf(data),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding blob metadata: %w", err)
	}
	if err := os.WriteFile(p+metaSuffix, meta, 0o640); err != nil {
		return fmt.Errorf("writing blob metadata: %w", err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, key string) (*Blob, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	p := s.path(key)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("reading blob: %w", err)
	}

	b := Blob{Key: key, Size: int64(len(data))}
	if meta, err := os.ReadFile(p + metaSuffix); err == nil {
		_ = json.Unmarshal(meta, &b)
	}
	if b.ContentType == "" {
		b.ContentType = "application/octet-stream"
	}
	b.Data = data
	return &b, nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	p := s.path(key)
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("removing blob: %w", err)
	}
	_ = os.Remove(p + metaSuffix)
	return nil
}
