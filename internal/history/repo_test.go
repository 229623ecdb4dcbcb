package history

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"studyguide-backend/internal/studyguide"
)

func TestMemoryRepoNewestFirstAndIdempotent(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	_ = repo.Save(ctx, "u1", studyguide.HistoryEntry{ID: "a", Title: "old", Date: 1, AnalysisResult: studyguide.NewAnalysisResult()})
	_ = repo.Save(ctx, "u1", studyguide.HistoryEntry{ID: "b", Title: "new", Date: 2, AnalysisResult: studyguide.NewAnalysisResult()})
	_ = repo.Save(ctx, "u1", studyguide.HistoryEntry{ID: "a", Title: "replayed", Date: 3})
	_ = repo.Save(ctx, "u2", studyguide.HistoryEntry{ID: "c", Date: 5})

	list, err := repo.List(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "b" || list[1].Title != "old" {
		t.Fatalf("unexpected list %#v", list)
	}
	if _, err := repo.Get(ctx, "u2", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("entries must be scoped by owner, got %v", err)
	}
	if err := repo.Delete(ctx, "u1", "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, "u1", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestPGRepoSaveStoresResultJSON(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	entry := studyguide.HistoryEntry{ID: "analysis-1", Title: "Algebra", Date: 1700000000000, AnalysisResult: studyguide.AnalysisResult{Summary: "s"}}

	mock.ExpectExec("INSERT INTO history_entries").
		WithArgs("analysis-1", "user-1", "Algebra", int64(1700000000000), []byte(`{"summary":"s","keyConcepts":[],"questions":[]}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Save(context.Background(), "user-1", entry); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetDecodesResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	rows := sqlmock.NewRows([]string{"id", "title", "date_ms", "result"}).
		AddRow("analysis-1", "Algebra", int64(42), []byte(`{"summary":"s","questions":[{"questionNumber":"1"}]}`))
	mock.ExpectQuery("SELECT id, title, date_ms, result").
		WithArgs("user-1", "analysis-1").
		WillReturnRows(rows)

	repo := &PGRepo{DB: db}
	entry, err := repo.Get(context.Background(), "user-1", "analysis-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Date != 42 || entry.AnalysisResult.Summary != "s" {
		t.Fatalf("unexpected entry %#v", entry)
	}
	if entry.AnalysisResult.KeyConcepts == nil || entry.AnalysisResult.Questions[0].SimilarQuestions == nil {
		t.Fatalf("expected normalized result, got %#v", entry.AnalysisResult)
	}
}

func TestPGRepoDeleteMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("UPDATE history_entries").
		WithArgs("user-1", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := &PGRepo{DB: db}
	if err := repo.Delete(context.Background(), "user-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepoClaimGuestKeepsOwnerEntries(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	_ = repo.Save(ctx, "guest:g", studyguide.HistoryEntry{ID: "a", Title: "guest copy", Date: 1})
	_ = repo.Save(ctx, "guest:g", studyguide.HistoryEntry{ID: "b", Title: "only guest", Date: 2})
	_ = repo.Save(ctx, "google:1", studyguide.HistoryEntry{ID: "a", Title: "owner copy", Date: 3})

	moved, err := repo.ClaimGuest(ctx, "guest:g", "google:1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 moved entry, got %d", moved)
	}
	kept, err := repo.Get(ctx, "google:1", "a")
	if err != nil || kept.Title != "owner copy" {
		t.Fatalf("owner entry overwritten: %+v %v", kept, err)
	}
	if _, err := repo.Get(ctx, "google:1", "b"); err != nil {
		t.Fatalf("guest entry not moved: %v", err)
	}
}

func TestPGRepoClaimGuest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE history_entries h").
		WithArgs("google:1", "guest:g").
		WillReturnResult(sqlmock.NewResult(0, 4))

	repo := &PGRepo{DB: db}
	moved, err := repo.ClaimGuest(context.Background(), "guest:g", "google:1")
	if err != nil || moved != 4 {
		t.Fatalf("claim: %d %v", moved, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
