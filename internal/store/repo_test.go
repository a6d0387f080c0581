package store

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/SLRio/Railway3/internal/filter"

	"github.com/google/uuid"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	// Use a unique in-memory DB per test to avoid cross-test contamination.
	db, err := OpenSQLite("file:store_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func mustCreate(t *testing.T, repo *Repo, value float64, date, topic string) *Record {
	t.Helper()
	rec := &Record{Value: value, Date: date, Topic: topic}
	if err := repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	return rec
}

func TestCreateAssignsFreshID(t *testing.T) {
	repo := openTestRepo(t)
	a := mustCreate(t, repo, 1.5, "2025-01-01T00:00:00.000Z", "Garbage")
	b := mustCreate(t, repo, 2.5, "2025-01-01T00:00:01.000Z", "Garbage")
	if a.ID == uuid.Nil || b.ID == uuid.Nil || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %s and %s", a.ID, b.ID)
	}
	got, err := repo.Get(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Value != 1.5 || got.Date != "2025-01-01T00:00:00.000Z" || got.Topic != "Garbage" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.TS.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected ts: %v", got.TS)
	}
}

func TestCreateValidation(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	cases := []Record{
		{Value: math.NaN(), Date: "2025-01-01T00:00:00Z"},
		{Value: math.Inf(1), Date: "2025-01-01T00:00:00Z"},
		{Value: 1, Date: ""},
		{Value: 1, Date: "yesterday"},
	}
	for _, rec := range cases {
		err := repo.Create(ctx, &rec)
		if !IsValidation(err) {
			t.Fatalf("expected validation error for %+v, got %v", rec, err)
		}
	}
	n, _ := repo.Count(ctx, filter.All())
	if n != 0 {
		t.Fatalf("expected nothing stored, got %d", n)
	}
}

func TestFindByTopic(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	mustCreate(t, repo, 1, "2025-01-01T00:00:00Z", "Garbage")
	mustCreate(t, repo, 2, "2025-01-01T00:00:01Z", "Methane")
	mustCreate(t, repo, 3, "2025-01-01T00:00:02Z", "")
	mustCreate(t, repo, 4, "2025-01-01T00:00:03Z", "Garbage")

	page, err := repo.Find(ctx, filter.Topic("Garbage"), ListOptions{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(page.Records) != 2 {
		t.Fatalf("expected 2 Garbage records, got %d", len(page.Records))
	}
	for _, r := range page.Records {
		if r.Topic != "Garbage" {
			t.Fatalf("unexpected topic %q", r.Topic)
		}
	}

	all, err := repo.Find(ctx, filter.All(), ListOptions{})
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(all.Records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(all.Records))
	}
}

func TestFindOrderedWithCursor(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	mustCreate(t, repo, 3, "2025-01-01T00:00:03Z", "Garbage")
	mustCreate(t, repo, 1, "2025-01-01T00:00:01Z", "Garbage")
	mustCreate(t, repo, 2, "2025-01-01T00:00:02Z", "Garbage")
	mustCreate(t, repo, 9, "2025-01-01T00:00:00Z", "Methane")

	page1, err := repo.Find(ctx, filter.Topic("Garbage"), ListOptions{Order: Asc, Limit: 2})
	if err != nil {
		t.Fatalf("find page1: %v", err)
	}
	if len(page1.Records) != 2 || page1.Records[0].Value != 1 || page1.Records[1].Value != 2 {
		t.Fatalf("unexpected page1: %+v", page1.Records)
	}
	if page1.NextCursor == "" {
		t.Fatalf("expected next cursor")
	}
	cur, err := DecodeCursor(page1.NextCursor)
	if err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	page2, err := repo.Find(ctx, filter.Topic("Garbage"), ListOptions{Order: Asc, Limit: 2, Cursor: cur})
	if err != nil {
		t.Fatalf("find page2: %v", err)
	}
	if len(page2.Records) != 1 || page2.Records[0].Value != 3 {
		t.Fatalf("unexpected page2: %+v", page2.Records)
	}
	if page2.NextCursor != "" {
		t.Fatalf("did not expect next cursor")
	}

	desc, err := repo.Find(ctx, filter.All(), ListOptions{Order: Desc})
	if err != nil {
		t.Fatalf("find desc: %v", err)
	}
	if len(desc.Records) != 4 || desc.Records[0].Value != 3 || desc.Records[3].Value != 9 {
		t.Fatalf("unexpected desc order: %+v", desc.Records)
	}
}

func TestUpdateByIDReplacesAllFields(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	rec := mustCreate(t, repo, 1, "2025-01-01T00:00:00Z", "Garbage")

	got, err := repo.UpdateByID(ctx, rec.ID, Fields{Value: 7.25, Date: "2025-02-02T10:00:00Z"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.ID != rec.ID || got.Value != 7.25 || got.Date != "2025-02-02T10:00:00Z" || got.Topic != "" {
		t.Fatalf("expected full replace, got %+v", got)
	}
}

func TestUpdateByIDErrors(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	_, err := repo.UpdateByID(ctx, uuid.New(), Fields{Value: 1, Date: "2025-01-01T00:00:00Z"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	rec := mustCreate(t, repo, 1, "2025-01-01T00:00:00Z", "Garbage")
	_, err = repo.UpdateByID(ctx, rec.ID, Fields{Value: math.NaN()})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeleteByID(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	rec := mustCreate(t, repo, 4, "2025-01-01T00:00:00Z", "Methane")

	deleted, err := repo.DeleteByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.ID != rec.ID || deleted.Value != 4 {
		t.Fatalf("unexpected deleted record: %+v", deleted)
	}
	if _, err := repo.Get(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected record to be gone, got %v", err)
	}
	if _, err := repo.DeleteByID(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDeleteMany(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	mustCreate(t, repo, 1, "2025-01-01T00:00:00Z", "Garbage")
	mustCreate(t, repo, 2, "2025-01-01T00:00:00Z", "Garbage")
	mustCreate(t, repo, 3, "2025-01-01T00:00:00Z", "Methane")
	mustCreate(t, repo, 4, "2025-01-01T00:00:00Z", "")

	n, err := repo.DeleteMany(ctx, filter.Topic("Garbage"))
	if err != nil {
		t.Fatalf("delete many: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	left, _ := repo.Count(ctx, filter.All())
	if left != 2 {
		t.Fatalf("expected 2 left, got %d", left)
	}

	n, err = repo.DeleteMany(ctx, filter.All())
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	left, _ = repo.Count(ctx, filter.All())
	if left != 0 {
		t.Fatalf("expected empty table, got %d", left)
	}
}

func TestDeleteBefore(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	mustCreate(t, repo, 1, "2024-12-31T23:00:00Z", "Garbage")
	mustCreate(t, repo, 2, "2025-01-01T01:00:00Z", "Garbage")

	n, err := repo.DeleteBefore(ctx, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	page, _ := repo.Find(ctx, filter.All(), ListOptions{})
	if len(page.Records) != 1 || page.Records[0].Value != 2 {
		t.Fatalf("unexpected survivors: %+v", page.Records)
	}
}
