package documents

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"studyguide-backend/internal/shared/server/middleware"
	"studyguide-backend/internal/shared/server/paging"
	"studyguide-backend/internal/shared/server/respond"
)

const maxPageBytes = 10 << 20

// Handler serves exam page uploads.
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents", h.upload)
	rg.GET("/documents", h.list)
	rg.GET("/documents/current", h.current)
	rg.GET("/documents/:id", h.get)
}

// upload takes a single page in "file" or a whole paper in repeated "files"
// fields. A batch answers with an array, in form order.
func (h *Handler) upload(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPageBytes*MaxPagesPerAnalysis)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", "each page must be 10MB or smaller", nil)
			return
		}
		respond.Invalid(c, "file", "required", "file is required")
		return
	}

	single := form.File["file"]
	batch := form.File["files"]
	switch {
	case len(single) == 0 && len(batch) == 0:
		respond.Invalid(c, "file", "required", "file is required")
		return
	case len(batch) > MaxPagesPerAnalysis:
		respond.Invalid(c, "files", "too_many", "too many pages in one upload")
		return
	}

	var headers []*multipart.FileHeader
	if len(single) > 0 {
		headers = append(headers, single[0])
	}
	headers = append(headers, batch...)
	out := make([]DocumentResponse, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > maxPageBytes {
			respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", "each page must be 10MB or smaller",
				respond.FieldIssue{Field: fh.Filename, Issue: "too_large"})
			return
		}
		doc, err := h.save(c, userID, fh)
		if err != nil {
			h.uploadFailed(c, err)
			return
		}
		out = append(out, toResponse(doc))
	}

	if len(batch) == 0 {
		respond.Created(c, out[0])
		return
	}
	respond.Created(c, out)
}

func (h *Handler) save(c *gin.Context, userID string, fh *multipart.FileHeader) (Document, error) {
	file, err := fh.Open()
	if err != nil {
		return Document{}, errors.Join(ErrInvalidInput, err)
	}
	defer file.Close()
	return h.Svc.Upload(c.Request.Context(), userID, fh.Filename, file)
}

func (h *Handler) uploadFailed(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnsupportedType):
		respond.Error(c, http.StatusUnsupportedMediaType, "unsupported_media_type", err.Error(), nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to upload document", nil)
	}
}

func (h *Handler) current(c *gin.Context) {
	doc, err := h.Svc.Current(c.Request.Context(), middleware.UserIDFromContext(c))
	if err != nil {
		h.lookupFailed(c, err)
		return
	}
	respond.OK(c, toResponse(doc))
}

func (h *Handler) get(c *gin.Context) {
	doc, err := h.Svc.Get(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("id"))
	if err != nil {
		h.lookupFailed(c, err)
		return
	}
	respond.OK(c, toResponse(doc))
}

func (h *Handler) lookupFailed(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch document", nil)
	}
}

func (h *Handler) list(c *gin.Context) {
	page := paging.FromQuery(c)
	docs, err := h.Svc.List(c.Request.Context(), middleware.UserIDFromContext(c), page.Limit, page.Offset)
	if err != nil {
		h.lookupFailed(c, err)
		return
	}

	resp := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, toResponse(doc))
	}
	respond.OK(c, resp)
}
