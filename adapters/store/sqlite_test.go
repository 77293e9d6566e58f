package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/satriahrh/cocoa-fruit/primeworks/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rec := domain.JobRecord{
		ID:         "job-1",
		Bound:      30,
		ChunkSize:  4,
		Status:     domain.JobCompleted,
		Count:      10,
		Digest:     "abc",
		CreatedAt:  created,
		FinishedAt: created.Add(time.Second),
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got != rec {
		t.Errorf("expected %+v, got %+v", rec, got)
	}

	// Saving again replaces the record.
	rec.Status = domain.JobFailed
	rec.Error = "boom"
	if err := s.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, "job-1")
	if got.Status != domain.JobFailed || got.Error != "boom" {
		t.Errorf("expected replaced record, got %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"a", "b", "c"} {
		err := s.Save(ctx, domain.JobRecord{
			ID:         id,
			Bound:      i,
			Status:     domain.JobCompleted,
			CreatedAt:  base,
			FinishedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("unexpected order: %+v", got)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, domain.JobRecord{ID: "keep", Status: domain.JobCancelled}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "keep")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.JobCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
}

func TestNop(t *testing.T) {
	var s domain.JobStore = Nop{}
	ctx := context.Background()
	if err := s.Save(ctx, domain.JobRecord{ID: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "x"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
	if recs, _ := s.List(ctx, 10); len(recs) != 0 {
		t.Errorf("expected no records, got %d", len(recs))
	}
}
