package object

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/google/uuid"

	"studyguide-backend/internal/shared/util"
)

// ObjectStore keeps uploaded exam pages and their extracted text.
type ObjectStore interface {
	// Save stores r under a fresh key in ownerID's namespace and reports the
	// sniffed content type.
	Save(ctx context.Context, ownerID string, fileName string, r io.Reader) (storageKey string, sizeBytes int64, mimeType string, err error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	SaveWithKey(ctx context.Context, storageKey string, contentType string, r io.Reader) (int64, error)
	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, storageKey string) error
}

var (
	ErrInvalidKey = errors.New("invalid storage key")
	ErrEmpty      = errors.New("empty object")
	ErrNotFound   = errors.New("object not found")
)

// NewKey builds `<hashed owner>/<random>_<sanitized name>`. Owner ids are
// hashed so guest and account ids never appear in paths.
func NewKey(ownerID, fileName string) (string, error) {
	name, err := util.SanitizeFileName(fileName)
	if err != nil {
		return "", fmt.Errorf("sanitize file name: %w", err)
	}
	random := uuid.New()
	return path.Join(OwnerDir(ownerID), fmt.Sprintf("%x_%s", random[:], name)), nil
}

// OwnerDir is the hex SHA-256 of ownerID, the top-level prefix of every key
// the owner writes.
func OwnerDir(ownerID string) string {
	sum := sha256.Sum256([]byte(ownerID))
	return hex.EncodeToString(sum[:])
}

// Sniff reads up to 512 bytes to detect the content type and returns a
// reader that replays them. An empty reader yields ErrEmpty.
func Sniff(r io.Reader) (io.Reader, string, error) {
	var head [512]byte
	n, err := io.ReadFull(r, head[:])
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", fmt.Errorf("read sniff: %w", err)
	}
	if n == 0 {
		return nil, "", ErrEmpty
	}
	return io.MultiReader(bytes.NewReader(head[:n]), r), http.DetectContentType(head[:n]), nil
}
