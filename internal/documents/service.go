package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"studyguide-backend/internal/shared/storage/object"
	"studyguide-backend/internal/shared/telemetry"
)

// MaxPagesPerAnalysis bounds how many documents one analysis may reference.
const MaxPagesPerAnalysis = 10

// Service contains business logic for documents.
type Service struct {
	Store           object.ObjectStore
	Repo            DocumentsRepo
	StorageProvider string
}

// Upload sniffs the content type, rejects anything that is not an exam page,
// then saves the file and records the document.
func (s *Service) Upload(ctx context.Context, userID, fileName string, r io.Reader) (Document, error) {
	if fileName == "" || userID == "" {
		return Document{}, ErrInvalidInput
	}

	body, sniffed, err := object.Sniff(r)
	if errors.Is(err, object.ErrEmpty) {
		return Document{}, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}
	if err != nil {
		return Document{}, fmt.Errorf("read upload: %w", err)
	}
	if !Allowed(sniffed) {
		return Document{}, ErrUnsupportedType
	}

	storageKey, size, mimeType, err := s.Store.Save(ctx, userID, fileName, body)
	if err != nil {
		return Document{}, err
	}

	doc := Document{
		ID:              uuid.NewString(),
		UserID:          userID,
		FileName:        fileName,
		MimeType:        mimeType,
		SizeBytes:       size,
		StorageProvider: s.StorageProvider,
		StorageKey:      storageKey,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.Repo.Create(ctx, doc); err != nil {
		if derr := s.Store.Delete(context.WithoutCancel(ctx), storageKey); derr != nil {
			telemetry.Warn("document.orphan_cleanup_failed", map[string]any{"storage_key": storageKey, "error": derr.Error()})
		}
		return Document{}, err
	}
	telemetry.Info("document.uploaded", map[string]any{
		"user_id":     userID,
		"document_id": doc.ID,
		"mime_type":   doc.MimeType,
		"size_bytes":  doc.SizeBytes,
	})
	return doc, nil
}

// Current returns the current document for a user.
func (s *Service) Current(ctx context.Context, userID string) (Document, error) {
	if userID == "" {
		return Document{}, ErrInvalidInput
	}
	return s.Repo.GetCurrentByUser(ctx, userID)
}

// Get returns one of the caller's documents.
func (s *Service) Get(ctx context.Context, userID, documentID string) (Document, error) {
	if userID == "" || documentID == "" {
		return Document{}, ErrInvalidInput
	}
	return s.Repo.GetByID(ctx, userID, documentID)
}

func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]Document, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	return s.Repo.ListByUser(ctx, userID, limit, offset)
}

// LoadOwned returns the documents in the given order, failing with
// ErrNotFound if any of them is missing or belongs to someone else.
func (s *Service) LoadOwned(ctx context.Context, userID string, documentIDs []string) ([]Document, error) {
	if len(documentIDs) == 0 || len(documentIDs) > MaxPagesPerAnalysis {
		return nil, fmt.Errorf("%w: between 1 and %d documents are required", ErrInvalidInput, MaxPagesPerAnalysis)
	}
	seen := make(map[string]bool, len(documentIDs))
	docs := make([]Document, 0, len(documentIDs))
	for _, id := range documentIDs {
		if id == "" || seen[id] {
			return nil, fmt.Errorf("%w: duplicate or empty document id", ErrInvalidInput)
		}
		seen[id] = true
		doc, err := s.Repo.GetByID(ctx, userID, id)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
