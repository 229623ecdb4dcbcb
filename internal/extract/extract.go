package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"studyguide-backend/internal/documents"
	"studyguide-backend/internal/llm"
	"studyguide-backend/internal/shared/storage/object"
	"studyguide-backend/internal/shared/telemetry"
)

const mimePDF = "application/pdf"

// ErrExtractionFailed marks every failure to turn an upload into model input.
var ErrExtractionFailed = errors.New("extraction failed")

const defaultConcurrency = 4

// Loader turns stored documents into pages for the model. Images pass through
// untouched; PDFs are reduced to text, cached next to the original.
type Loader struct {
	Store object.ObjectStore
	// Repo records the cached text key. Optional.
	Repo        documents.DocumentsRepo
	Concurrency int
}

// Pages loads every document concurrently and returns pages in input order.
func (l *Loader) Pages(ctx context.Context, docs []documents.Document) ([]llm.Page, error) {
	pages := make([]llm.Page, len(docs))
	g, ctx := errgroup.WithContext(ctx)
	limit := l.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	g.SetLimit(limit)
	for i, doc := range docs {
		g.Go(func() error {
			page, err := l.page(ctx, doc)
			if err != nil {
				return fmt.Errorf("%w: document %s mime %s: %w", ErrExtractionFailed, doc.ID, doc.MimeType, err)
			}
			pages[i] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

func (l *Loader) page(ctx context.Context, doc documents.Document) (llm.Page, error) {
	mimeType := normalizeMimeType(doc.MimeType)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		data, err := readAll(ctx, l.Store, doc.StorageKey)
		if err != nil {
			return llm.Page{}, err
		}
		return llm.Page{Name: doc.FileName, MimeType: mimeType, Data: data}, nil
	case mimeType == mimePDF:
		text, err := l.pdfText(ctx, doc)
		if err != nil {
			return llm.Page{}, err
		}
		return llm.Page{Name: doc.FileName, MimeType: mimeType, Text: text}, nil
	default:
		return llm.Page{}, fmt.Errorf("unsupported mime type: %s", mimeType)
	}
}

func (l *Loader) pdfText(ctx context.Context, doc documents.Document) (string, error) {
	if doc.ExtractedTextKey != "" {
		data, err := readAll(ctx, l.Store, doc.ExtractedTextKey)
		if err == nil {
			return string(data), nil
		}
		telemetry.Warn("extract.cache_miss", map[string]any{"document_id": doc.ID, "error": err.Error()})
	}

	text, err := ExtractText(ctx, l.Store, doc.StorageKey, doc.MimeType)
	if err != nil {
		return "", err
	}
	if l.Repo != nil {
		if err := l.Repo.UpdateExtraction(ctx, doc.UserID, doc.ID, extractedKey(doc.StorageKey), time.Now().UTC()); err != nil {
			telemetry.Warn("extract.record_failed", map[string]any{"document_id": doc.ID, "error": err.Error()})
		}
	}
	return text, nil
}

// ExtractText pulls text from a stored PDF and persists a derived .extracted.txt copy
// when the store supports writing by key.
func ExtractText(ctx context.Context, store object.ObjectStore, fileKey string, mimeType string) (string, error) {
	raw, err := readAll(ctx, store, fileKey)
	if err != nil {
		return "", fmt.Errorf("extract text key=%s: %w", fileKey, err)
	}

	text, err := ExtractTextFromBytes(ctx, raw, mimeType)
	if err != nil {
		return "", fmt.Errorf("extract text key=%s: %w", fileKey, err)
	}

	if saver, ok := store.(keySaver); ok {
		if _, err := saver.SaveWithKey(ctx, extractedKey(fileKey), "text/plain; charset=utf-8", strings.NewReader(text)); err != nil {
			return "", fmt.Errorf("extract text key=%s: save: %w", fileKey, err)
		}
	}
	return text, nil
}

// ExtractTextFromBytes extracts text from an in-memory PDF.
func ExtractTextFromBytes(ctx context.Context, data []byte, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	normalized := normalizeMimeType(mimeType)
	if normalized != mimePDF {
		return "", fmt.Errorf("unsupported mime type: %s", normalized)
	}
	text, err := extractPDF(data)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("pdf has no extractable text; upload page images instead")
	}
	return text, nil
}

type keySaver interface {
	SaveWithKey(ctx context.Context, storageKey string, contentType string, r io.Reader) (int64, error)
}

func extractedKey(fileKey string) string {
	return fileKey + ".extracted.txt"
}

func readAll(ctx context.Context, store object.ObjectStore, key string) ([]byte, error) {
	body, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func extractPDF(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func normalizeMimeType(mimeType string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
}
