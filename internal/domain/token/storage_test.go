package token

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStorage_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	s := NewFileStorage(path)
	ctx := context.Background()

	if _, err := s.Load(ctx); err != ErrNoRecord {
		t.Fatalf("expected ErrNoRecord on missing file, got %v", err)
	}

	exp := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	if err := s.Save(ctx, Record{Value: "Bearer abc", ExpiresAt: exp}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600, got %o", perm)
	}

	rec, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Value != "Bearer abc" || !rec.ExpiresAt.Equal(exp) {
		t.Errorf("unexpected record %+v", rec)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("second Clear should be a no-op: %v", err)
	}
	if _, err := s.Load(ctx); err != ErrNoRecord {
		t.Errorf("expected ErrNoRecord after clear, got %v", err)
	}
}

func TestFileStorage_KeyNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	s := NewFileStorage(path)
	exp := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	if err := s.Save(context.Background(), Record{Value: "Bearer abc", ExpiresAt: exp}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, _ := os.ReadFile(path)
	want := `{
  "token": "Bearer abc",
  "token_expires": "2024-05-01T10:30:00Z"
}`
	if string(data) != want {
		t.Errorf("unexpected file content:\n%s", data)
	}
}

func TestFileStorage_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStorage(path).Load(context.Background()); err == nil || err == ErrNoRecord {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestFileStorage_BadTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	content := `{"token":"Bearer a","token_expires":"yesterday"}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStorage(path).Load(context.Background()); err == nil {
		t.Error("expected timestamp parse error")
	}
}

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	if _, err := s.Load(ctx); err != ErrNoRecord {
		t.Fatalf("expected ErrNoRecord, got %v", err)
	}
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	_ = s.Save(ctx, Record{Value: "v", ExpiresAt: exp})
	rec, err := s.Load(ctx)
	if err != nil || rec.Value != "v" || !rec.ExpiresAt.Equal(exp) {
		t.Errorf("unexpected %+v, %v", rec, err)
	}
}

func TestNewRedisStorageFromURL_Invalid(t *testing.T) {
	if _, err := NewRedisStorageFromURL("http://not-redis", ""); err == nil {
		t.Error("expected error for non-redis URL")
	}
}

func TestNewRedisStorageFromURL_Prefix(t *testing.T) {
	s, err := NewRedisStorageFromURL("redis://localhost:6379/0", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()
	if got := s.key(KeyToken); got != DefaultRedisPrefix+"token" {
		t.Errorf("unexpected key %q", got)
	}
}
