package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ---------------------------------------------------------------------------
// Shared behaviour
// ---------------------------------------------------------------------------

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}

	if err := store.Put(ctx, "member-cards/abc", png, "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	b, err := store.Get(ctx, "member-cards/abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(b.Data, png) {
		t.Errorf("expected data round trip, got %v", b.Data)
	}
	if b.ContentType != "image/png" {
		t.Errorf("expected image/png, got %s", b.ContentType)
	}
	if b.Size != int64(len(png)) {
		t.Errorf("expected size %d, got %d", len(png), b.Size)
	}
	if want := fmt.Sprintf("%x", sha256.Sum256(png)); b.Hash != want {
		t.Errorf("expected hash %s, got %s", want, b.Hash)
	}

	if err := store.Delete(ctx, "member-cards/abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "member-cards/abc"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, store)
}

func TestS3Store(t *testing.T) {
	exerciseStore(t, NewS3Store(newFakeS3(), "cards"))
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestValidateKey(t *testing.T) {
	valid := []string{"a", "member-cards/123", "a/b/c.png"}
	invalid := []string{"", "/abs", "a/../b", "..", "a//b", "a\\b", "a/./b"}
	for _, k := range valid {
		if err := ValidateKey(k); err != nil {
			t.Errorf("ValidateKey(%q) unexpected error: %v", k, err)
		}
	}
	for _, k := range invalid {
		if err := ValidateKey(k); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ValidateKey(%q) expected ErrInvalidKey, got %v", k, err)
		}
	}
}

func TestMemoryStore_FileTooLarge(t *testing.T) {
	store := NewMemoryStore()
	big := make([]byte, MaxFileSize+1)
	if err := store.Put(context.Background(), "big", big, "image/png"); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestMemoryStore_DeleteNotFound(t *testing.T) {
	if err := NewMemoryStore().Delete(context.Background(), "nope"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Put(ctx, "k", []byte("abc"), "text/plain")

	b, _ := store.Get(ctx, "k")
	b.Data[0] = 'z'

	again, _ := store.Get(ctx, "k")
	if string(again.Data) != "abc" {
		t.Errorf("stored data was mutated: %s", again.Data)
	}
}

func TestFileStore_MissingMetadata(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(dir)
	ctx := context.Background()
	_ = store.Put(ctx, "k", []byte("abc"), "image/gif")

	if err := os.Remove(filepath.Join(dir, "k"+metaSuffix)); err != nil {
		t.Fatal(err)
	}
	b, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b.ContentType != "application/octet-stream" {
		t.Errorf("expected generic content type, got %s", b.ContentType)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "k"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	var wg sync.WaitGroup
	const goroutines = 50

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("member-cards/%d", n)
			if err := store.Put(context.Background(), key, []byte(key), "image/png"); err != nil {
				t.Errorf("put goroutine %d: %v", n, err)
				return
			}
			if _, err := store.Get(context.Background(), key); err != nil {
				t.Errorf("get goroutine %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	if store.Len() != goroutines {
		t.Errorf("expected %d blobs, got %d", goroutines, store.Len())
	}
}

// ---------------------------------------------------------------------------
// Fake S3
// ---------------------------------------------------------------------------

type fakeObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = fakeObject{
		data:        data,
		contentType: aws.ToString(in.ContentType),
		metadata:    in.Metadata,
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		ContentType: aws.String(obj.contentType),
		Metadata:    obj.metadata,
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}
