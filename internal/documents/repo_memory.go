package documents

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryDoc struct {
	Document
	seq uint64 // upload order; breaks CreatedAt ties
}

// MemoryRepo keeps documents in process for dev and tests.
type MemoryRepo struct {
	mu   sync.RWMutex
	seq  uint64
	byID map[string]*memoryDoc
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]*memoryDoc)}
}

func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.byID[doc.ID] = &memoryDoc{Document: doc, seq: r.seq}
	return nil
}

// owned returns userID's documents newest first. Callers hold mu.
func (r *MemoryRepo) owned(userID string) []*memoryDoc {
	var out []*memoryDoc
	for _, d := range r.byID {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].seq > out[j].seq
	})
	return out
}

func (r *MemoryRepo) GetCurrentByUser(ctx context.Context, userID string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	docs := r.owned(userID)
	if len(docs) == 0 {
		return Document{}, ErrNotFound
	}
	return docs[0].Document, nil
}

// GetByID treats a document owned by someone else as missing.
func (r *MemoryRepo) GetByID(ctx context.Context, userID, documentID string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[documentID]
	if !ok || d.UserID != userID {
		return Document{}, ErrNotFound
	}
	return d.Document, nil
}

// UpdateExtraction records where the extracted text lives. The first
// extraction wins.
func (r *MemoryRepo) UpdateExtraction(ctx context.Context, userID, documentID, extractedKey string, extractedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[documentID]
	if !ok || d.UserID != userID {
		return ErrNotFound
	}
	if d.ExtractedTextKey == "" {
		d.ExtractedTextKey = extractedKey
		d.ExtractedAt = &extractedAt
	}
	return nil
}

// ListByUser pages newest first. limit 0 means no limit.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	docs := r.owned(userID)

	offset = max(offset, 0)
	if offset >= len(docs) {
		return []Document{}, nil
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = d.Document
	}
	return out, nil
}

// ClaimGuest hands every guest document to authedUserID.
func (r *MemoryRepo) ClaimGuest(ctx context.Context, guestUserID, authedUserID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	moved := 0
	for _, d := range r.byID {
		if d.UserID == guestUserID {
			d.UserID = authedUserID
			moved++
		}
	}
	return moved, nil
}

var _ DocumentsRepo = (*MemoryRepo)(nil)
