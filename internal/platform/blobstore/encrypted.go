package blobstore

import (
	"context"
	"fmt"
)

// Sealer encrypts and decrypts blob contents. hipaa.PHIEncryptor
// satisfies it.
type Sealer interface {
	EncryptBytes(data []byte) ([]byte, error)
	DecryptBytes(data []byte) ([]byte, error)
}

// EncryptedStore seals blobs before they reach the wrapped store. Size and
// Hash on returned blobs describe the plaintext.
type EncryptedStore struct {
	inner  Store
	sealer Sealer
}

func NewEncryptedStore(inner Store, sealer Sealer) *EncryptedStore {
	return &EncryptedStore{inner: inner, sealer: sealer}
}

func (s *EncryptedStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := checkPut(key, data); err != nil {
		return err
	}
	sealed, err := s.sealer.EncryptBytes(data)
	if err != nil {
		return fmt.Errorf("encrypt blob %s: %w", key, err)
	}
	return s.inner.Put(ctx, key, sealed, contentType)
}

func (s *EncryptedStore) Get(ctx context.Context, key string) (*Blob, error) {
	b, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	plain, err := s.sealer.DecryptBytes(b.Data)
	if err != nil {
		return nil, fmt.Errorf("decrypt blob %s: %w", key, err)
	}
	b.Data = plain
	b.Size = int64(len(plain))
	b.Hash = hashOf(plain)
	return b, nil
}

func (s *EncryptedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
