package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"studyguide-backend/internal/shared/server/middleware"
)

func TestServiceUpsertRejectsGuests(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	_, err := svc.UpsertFromAuth(context.Background(), User{ID: "guest:abc", Email: "a@b.test"})
	if !errors.Is(err, ErrGuestNotStored) {
		t.Fatalf("expected ErrGuestNotStored, got %v", err)
	}
	if _, err := svc.GetByID(context.Background(), "guest:abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected guest lookup to miss, got %v", err)
	}
}

func TestServiceUpsertNormalizesIdentity(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	stored, err := svc.UpsertFromAuth(context.Background(), User{ID: " google:2 ", Email: " Ada@Example.TEST "})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if stored.ID != "google:2" || stored.LastLoginAt.IsZero() {
		t.Fatalf("unexpected stored user %#v", stored)
	}
	user, err := svc.GetByID(context.Background(), "google:2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if user.Email != "ada@example.test" {
		t.Fatalf("email = %q", user.Email)
	}
	if _, err := svc.UpsertFromAuth(context.Background(), User{ID: "google:3"}); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
}

func TestServiceUpsertDefaultsProvider(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	if _, err := svc.UpsertFromAuth(context.Background(), User{ID: "google:1", Email: "a@b.test"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	user, err := svc.GetByID(context.Background(), "google:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if user.Provider != ProviderGoogle || user.CreatedAt.IsZero() {
		t.Fatalf("unexpected user %#v", user)
	}
}

func TestPGRepoUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	created := now.Add(-48 * time.Hour)
	rows := sqlmock.NewRows([]string{"id", "email", "name", "picture_url", "provider", "created_at", "updated_at", "last_login_at"}).
		AddRow("google:1", "a@b.test", "Ada", "https://img/a.png", ProviderGoogle, created, now, now)
	mock.ExpectQuery("INSERT INTO users").
		WithArgs("google:1", "a@b.test", "Ada", nil, ProviderGoogle).
		WillReturnRows(rows)

	repo := &PGRepo{DB: db}
	got, err := repo.Upsert(context.Background(), User{ID: "google:1", Email: "a@b.test", FullName: "Ada", Provider: ProviderGoogle})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got.PictureURL != "https://img/a.png" || !got.CreatedAt.Equal(created) || !got.LastLoginAt.Equal(now) {
		t.Fatalf("stored row not returned: %#v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRepoGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id, email, name, picture_url, provider").
		WithArgs("google:missing").
		WillReturnError(sql.ErrNoRows)

	repo := &PGRepo{DB: db}
	if _, err := repo.GetByID(context.Background(), "google:missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoGetByIDNullColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "email", "name", "picture_url", "provider", "created_at", "updated_at", "last_login_at"}).
		AddRow("google:1", "a@b.test", nil, nil, "google", now, now, nil)
	mock.ExpectQuery("SELECT id, email, name, picture_url, provider").WithArgs("google:1").WillReturnRows(rows)

	repo := &PGRepo{DB: db}
	user, err := repo.GetByID(context.Background(), "google:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if user.FullName != "" || user.PictureURL != "" || user.Email != "a@b.test" || !user.LastLoginAt.IsZero() {
		t.Fatalf("unexpected user %#v", user)
	}
}

func TestMeForGuest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		middleware.SetIdentity(c, middleware.Identity{UserID: "guest:g1", Guest: true})
	})
	NewHandler(NewService(NewMemoryRepo())).RegisterRoutes(r.Group("/api/v1"))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["id"] != "guest:g1" || body["guest"] != true {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestMeFallsBackToTokenClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		middleware.SetIdentity(c, middleware.Identity{UserID: "google:2", Email: "b@c.test"})
	})
	NewHandler(NewService(NewMemoryRepo())).RegisterRoutes(r.Group("/api/v1"))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body["email"] != "b@c.test" || body["guest"] != false {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestMemoryRepoUpsertKeepsProfileFields(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	first := User{ID: "google:1", Email: "a@b.test", FullName: "Ada", PictureURL: "https://img/a.png", Provider: ProviderGoogle}
	if _, err := repo.Upsert(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	stored, _ := repo.GetByID(ctx, "google:1")

	if _, err := repo.Upsert(ctx, User{ID: "google:1", Email: "new@b.test"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err := repo.GetByID(ctx, "google:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Email != "new@b.test" || got.FullName != "Ada" || got.PictureURL != "https://img/a.png" {
		t.Fatalf("profile not merged: %+v", got)
	}
	if got.Provider != ProviderGoogle || !got.CreatedAt.Equal(stored.CreatedAt) {
		t.Fatalf("identity fields changed: %+v", got)
	}
}
