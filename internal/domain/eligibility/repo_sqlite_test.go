package eligibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/eligibility/internal/platform/db"
)

func newSQLiteRepo(t *testing.T) SearchRepository {
	t.Helper()
	ctx := context.Background()
	sqlDB, err := db.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	repo, err := NewSearchRepoSQLite(ctx, sqlDB)
	if err != nil {
		t.Fatalf("NewSearchRepoSQLite: %v", err)
	}
	return repo
}

func TestSQLiteRepo_CreateAndGet(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	searchedAt := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	rec := &SearchRecord{
		MemberID:    "123456789",
		PatientName: "Jane Doe",
		DateOfBirth: "1980-01-01",
		SearchedAt:  searchedAt,
		SearchedBy:  "clerk-1",
		Eligibility: json.RawMessage(`{"memberPolicies":[]}`),
		Coverage:    json.RawMessage(`{"deductible":500}`),
		MemberCard:  &MemberCard{ContentType: "image/png", BlobKey: "member-cards/x", Size: 8},
	}
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID == uuid.Nil || rec.CreatedAt.IsZero() {
		t.Fatal("expected id and created_at to be set")
	}

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.MemberID != rec.MemberID || got.PatientName != "Jane Doe" || got.SearchedBy != "clerk-1" {
		t.Errorf("unexpected record %+v", got)
	}
	if !got.SearchedAt.Equal(searchedAt) {
		t.Errorf("expected searched_at %s, got %s", searchedAt, got.SearchedAt)
	}
	if string(got.Eligibility) != `{"memberPolicies":[]}` || string(got.Coverage) != `{"deductible":500}` {
		t.Errorf("json columns did not round trip: %s %s", got.Eligibility, got.Coverage)
	}
	if got.MemberCard == nil || got.MemberCard.BlobKey != "member-cards/x" || got.MemberCard.Size != 8 {
		t.Errorf("unexpected member card %+v", got.MemberCard)
	}
}

func TestSQLiteRepo_NullableColumns(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	rec := &SearchRecord{MemberID: "1", DateOfBirth: "1980-01-01", Eligibility: json.RawMessage(`{}`)}
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.HasCoverage() || got.MemberCard != nil {
		t.Errorf("expected no enrichments, got %+v", got)
	}
	if got.SearchedAt.IsZero() {
		t.Error("searched_at should default to now")
	}
}

func TestSQLiteRepo_GetByID_NotFound(t *testing.T) {
	repo := newSQLiteRepo(t)
	if _, err := repo.GetByID(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteRepo_UpdateAndDelete(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	rec := &SearchRecord{MemberID: "1", DateOfBirth: "1980-01-01", Eligibility: json.RawMessage(`{}`)}
	_ = repo.Create(ctx, rec)

	rec.Coverage = json.RawMessage(`{"late":true}`)
	if err := repo.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := repo.GetByID(ctx, rec.ID)
	if string(got.Coverage) != `{"late":true}` {
		t.Errorf("expected updated coverage, got %s", got.Coverage)
	}

	if err := repo.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := repo.Update(ctx, rec); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on update of deleted row, got %v", err)
	}
}

func TestSQLiteRepo_SearchAndPaging(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		member := "AAA"
		if i%2 == 1 {
			member = "BBB"
		}
		rec := &SearchRecord{
			MemberID:    member,
			DateOfBirth: "1980-01-01",
			SearchedAt:  base.Add(time.Duration(i) * time.Hour),
			Eligibility: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		}
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	items, total, err := repo.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 5 || len(items) != 2 {
		t.Fatalf("expected 2 of 5, got %d of %d", len(items), total)
	}
	if string(items[0].Eligibility) != `{"n":4}` {
		t.Errorf("expected newest first, got %s", items[0].Eligibility)
	}

	items, total, err = repo.Search(ctx, map[string]string{"member_id": "BBB"}, 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("expected 2 BBB records, got %d (total %d)", len(items), total)
	}

	items, total, _ = repo.Search(ctx, map[string]string{"member_id": "AAA", "unknown": "x"}, 10, 2)
	if total != 3 || len(items) != 1 {
		t.Errorf("expected 1 of 3 AAA records at offset 2, got %d of %d", len(items), total)
	}
}
